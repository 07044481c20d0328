package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnrestrictedAllowsEverything(t *testing.T) {
	p := Unrestricted()
	assert.True(t, p.IsWriteAllowed("README.md"))
	assert.True(t, p.IsWriteAllowed("deep/nested/path.go"))
}

func TestDirectoryModeGlobs(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		path     string
		allowed  bool
	}{
		{"doublestar match", []string{"src/**"}, "src/math.py", true},
		{"doublestar nested", []string{"src/**"}, "src/pkg/util/io.py", true},
		{"outside scope", []string{"src/**"}, "README.md", false},
		{"sibling dir", []string{"src/**"}, "docs/README.md", false},
		{"multiple patterns", []string{"src/**", "tests/**"}, "tests/test_math.py", true},
		{"single star stays shallow", []string{"src/*"}, "src/a/b.py", false},
		{"dot-slash normalized", []string{"src/**"}, "./src/main.py", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewDirectory(tt.patterns)
			assert.Equal(t, tt.allowed, p.IsWriteAllowed(tt.path))
		})
	}
}

func TestExplicitModeExactOnly(t *testing.T) {
	p := NewExplicit([]string{"src/main.py", "setup.cfg"})
	assert.True(t, p.IsWriteAllowed("src/main.py"))
	assert.True(t, p.IsWriteAllowed("setup.cfg"))
	assert.False(t, p.IsWriteAllowed("src/other.py"))
	assert.False(t, p.IsWriteAllowed("src"))
}

func TestFromJSONDegradesToUnrestricted(t *testing.T) {
	for _, raw := range []string{"", "   ", "not-json", `{"oops": 1}`, "[1,2]"} {
		p := FromJSON(raw)
		assert.Equal(t, ModeUnrestricted, p.Mode(), "payload %q", raw)
		assert.True(t, p.IsWriteAllowed("anything.txt"))
	}
}

func TestFromJSONEmptyArrayIsUnrestricted(t *testing.T) {
	p := FromJSON("[]")
	assert.Equal(t, ModeUnrestricted, p.Mode())
}

func TestJSONRoundTrip(t *testing.T) {
	orig := NewDirectory([]string{"src/**", "tests/**"})
	restored := FromJSON(orig.ToJSON())
	require.Equal(t, orig.Mode(), restored.Mode())
	assert.Equal(t, orig.Patterns(), restored.Patterns())

	// Unrestricted round-trips through an empty array.
	assert.Equal(t, "[]", Unrestricted().ToJSON())
	assert.Equal(t, ModeUnrestricted, FromJSON(Unrestricted().ToJSON()).Mode())
}

func TestViolationMessageNamesPathAndPatterns(t *testing.T) {
	p := NewDirectory([]string{"src/**"})
	msg := p.ViolationMessage("README.md")
	assert.Contains(t, msg, "Write to 'README.md' is outside your assigned scope.")
	assert.Contains(t, msg, "Allowed paths: [src/**].")
}
