package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type useSkillArgs struct {
	Name string `json:"name"`
}

func (e *Executor) listSkills(ctx context.Context) Result {
	if e.skills == nil {
		return ok("No skills are available.")
	}
	skills, err := e.skills.ListSkills(ctx)
	if err != nil {
		return fail("list skills: %v", err)
	}
	if len(skills) == 0 {
		return ok("No skills are available.")
	}
	var b strings.Builder
	for _, s := range skills {
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
	}
	return ok(b.String())
}

func (e *Executor) useSkill(ctx context.Context, args useSkillArgs) Result {
	if e.skills == nil {
		return fail("no skill loader is configured")
	}
	if args.Name == "" {
		return fail("skill name is required")
	}
	content, err := e.skills.LoadSkill(ctx, args.Name)
	if err != nil {
		return fail("load skill %q: %v", args.Name, err)
	}
	return ok(content)
}

// DirSkillLoader loads skills from a directory of markdown files. The first
// line of each file is its description.
type DirSkillLoader struct {
	Dir string
}

// ListSkills enumerates *.md files in the skill directory.
func (l *DirSkillLoader) ListSkills(_ context.Context) ([]Skill, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read skill directory: %w", err)
	}

	var skills []Skill
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".md")
		desc := ""
		if data, err := os.ReadFile(filepath.Join(l.Dir, entry.Name())); err == nil {
			desc = strings.TrimPrefix(strings.SplitN(string(data), "\n", 2)[0], "# ")
		}
		skills = append(skills, Skill{Name: name, Description: desc})
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills, nil
}

// LoadSkill returns the full content of one skill file.
func (l *DirSkillLoader) LoadSkill(_ context.Context, name string) (string, error) {
	if strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("invalid skill name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(l.Dir, name+".md"))
	if err != nil {
		return "", fmt.Errorf("skill %q not found", name)
	}
	return string(data), nil
}
