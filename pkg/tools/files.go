package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	maxReadSize     = 5 * 1024 * 1024 // read_file rejects files above 5 MB
	maxListEntries  = 500
	maxGlobEntries  = 200
	truncationNote  = "\n... (truncated)"
	entriesTruncMsg = "... (%d entries shown, list truncated)"
)

// skippedDirNames are excluded from listings and searches.
var skippedDirNames = map[string]bool{
	"__pycache__":  true,
	"node_modules": true,
}

type readFileArgs struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

func (e *Executor) readFile(args readFileArgs) Result {
	abs, rel, escaped := e.resolvePath(args.Path)
	if escaped {
		return fail("path %q escapes the workspace", args.Path)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return fail("file not found: %s", rel)
	}
	if info.IsDir() {
		return fail("%s is a directory, not a file", rel)
	}
	if !info.Mode().IsRegular() {
		return fail("%s is not a regular file", rel)
	}
	if info.Size() > maxReadSize {
		return fail("%s is %d bytes, above the 5 MB read limit", rel, info.Size())
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return fail("read %s: %v", rel, err)
	}
	content := string(data)

	// Optional 1-indexed inclusive line slice.
	if args.StartLine > 0 || args.EndLine > 0 {
		lines := strings.Split(content, "\n")
		start := args.StartLine
		if start < 1 {
			start = 1
		}
		end := args.EndLine
		if end < 1 || end > len(lines) {
			end = len(lines)
		}
		if start > len(lines) {
			return fail("start_line %d is past the end of %s (%d lines)", args.StartLine, rel, len(lines))
		}
		if start > end {
			return fail("start_line %d is after end_line %d", start, end)
		}
		content = strings.Join(lines[start-1:end], "\n")
	}
	return ok(content)
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (e *Executor) writeFile(args writeFileArgs) Result {
	abs, rel, escaped := e.resolvePath(args.Path)
	if escaped {
		return fail("path %q escapes the workspace", args.Path)
	}
	if !e.policy.IsWriteAllowed(rel) {
		return fail("%s", e.policy.ViolationMessage(rel))
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fail("create parent directories for %s: %v", rel, err)
	}

	// Write to a temp file in the same directory and rename, so a crash
	// mid-write never leaves a half-written target.
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".nebulus-write-*")
	if err != nil {
		return fail("stage write for %s: %v", rel, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(args.Content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fail("write %s: %v", rel, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fail("write %s: %v", rel, err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return fail("write %s: %v", rel, err)
	}
	return ok(fmt.Sprintf("Wrote %d bytes to %s", len(args.Content), rel))
}

type editFileArgs struct {
	Path    string `json:"path"`
	OldText string `json:"old_text"`
	NewText string `json:"new_text"`
}

func (e *Executor) editFile(args editFileArgs) Result {
	abs, rel, escaped := e.resolvePath(args.Path)
	if escaped {
		return fail("path %q escapes the workspace", args.Path)
	}
	if !e.policy.IsWriteAllowed(rel) {
		return fail("%s", e.policy.ViolationMessage(rel))
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return fail("file not found: %s", rel)
	}
	content := string(data)
	if !strings.Contains(content, args.OldText) {
		return fail("old_text not found in %s", rel)
	}

	// First occurrence only.
	updated := strings.Replace(content, args.OldText, args.NewText, 1)
	if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return fail("write %s: %v", rel, err)
	}
	return ok(fmt.Sprintf("Edited %s", rel))
}

type listDirectoryArgs struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive,omitempty"`
}

func (e *Executor) listDirectory(args listDirectoryArgs) Result {
	if args.Path == "" {
		args.Path = "."
	}
	abs, rel, escaped := e.resolvePath(args.Path)
	if escaped {
		return fail("path %q escapes the workspace", args.Path)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fail("directory not found: %s", rel)
	}
	if !info.IsDir() {
		return fail("%s is not a directory", rel)
	}

	var entries []string
	truncated := false

	if args.Recursive {
		err = filepath.WalkDir(abs, func(p string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return nil // unreadable subtrees are skipped, not fatal
			}
			name := d.Name()
			if p != abs && (strings.HasPrefix(name, ".") || skippedDirNames[name]) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if p == abs {
				return nil
			}
			relEntry, _ := filepath.Rel(abs, p)
			relEntry = filepath.ToSlash(relEntry)
			if d.IsDir() {
				relEntry += "/"
			}
			if len(entries) >= maxListEntries {
				truncated = true
				return filepath.SkipAll
			}
			entries = append(entries, relEntry)
			return nil
		})
		if err != nil {
			return fail("list %s: %v", rel, err)
		}
	} else {
		dirEntries, err := os.ReadDir(abs)
		if err != nil {
			return fail("list %s: %v", rel, err)
		}
		for _, d := range dirEntries {
			name := d.Name()
			if strings.HasPrefix(name, ".") || skippedDirNames[name] {
				continue
			}
			if len(entries) >= maxListEntries {
				truncated = true
				break
			}
			if d.IsDir() {
				name += "/"
			}
			entries = append(entries, name)
		}
	}

	sort.Strings(entries)
	out := strings.Join(entries, "\n")
	if truncated {
		out += "\n" + fmt.Sprintf(entriesTruncMsg, maxListEntries)
	}
	return ok(out)
}

type globFilesArgs struct {
	Pattern string `json:"pattern"`
}

func (e *Executor) globFiles(args globFilesArgs) Result {
	if args.Pattern == "" {
		return fail("pattern is required")
	}
	matches, err := doublestar.Glob(os.DirFS(e.root), args.Pattern)
	if err != nil {
		return fail("invalid glob pattern %q: %v", args.Pattern, err)
	}

	sort.Strings(matches)
	truncated := false
	if len(matches) > maxGlobEntries {
		matches = matches[:maxGlobEntries]
		truncated = true
	}
	out := strings.Join(matches, "\n")
	if truncated {
		out += "\n" + fmt.Sprintf(entriesTruncMsg, maxGlobEntries)
	}
	return ok(out)
}
