package tools

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	maxSearchResults  = 100
	maxSearchFileSize = 1024 * 1024 // files above 1 MB are skipped
)

type searchFilesArgs struct {
	Pattern  string `json:"pattern"`
	Path     string `json:"path,omitempty"`
	FileGlob string `json:"file_glob,omitempty"`
}

// searchFiles performs a case-insensitive regex search across workspace
// files. Binary, oversized, and hidden files are skipped. Results cap at 100
// matches with a truncation suffix.
func (e *Executor) searchFiles(args searchFilesArgs) Result {
	if args.Pattern == "" {
		return fail("pattern is required")
	}
	re, err := regexp.Compile("(?i)" + args.Pattern)
	if err != nil {
		return fail("invalid regex %q: %v", args.Pattern, err)
	}

	searchRoot := e.root
	if args.Path != "" {
		abs, rel, escaped := e.resolvePath(args.Path)
		if escaped {
			return fail("path %q escapes the workspace", args.Path)
		}
		if _, err := os.Stat(abs); err != nil {
			return fail("path not found: %s", rel)
		}
		searchRoot = abs
	}

	var lines []string
	truncated := false

	walkErr := filepath.WalkDir(searchRoot, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if p != searchRoot && (strings.HasPrefix(name, ".") || skippedDirNames[name]) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		relPath, _ := filepath.Rel(e.root, p)
		relPath = filepath.ToSlash(relPath)
		if args.FileGlob != "" {
			if match, globErr := doublestar.Match(args.FileGlob, filepath.Base(p)); globErr != nil || !match {
				return nil
			}
		}

		info, err := d.Info()
		if err != nil || info.Size() > maxSearchFileSize {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil || isBinary(data) {
			return nil
		}

		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), maxSearchFileSize)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if re.MatchString(line) {
				if len(lines) >= maxSearchResults {
					truncated = true
					return filepath.SkipAll
				}
				lines = append(lines, fmt.Sprintf("%s:%d: %s", relPath, lineNo, strings.TrimSpace(line)))
			}
		}
		return nil
	})
	if walkErr != nil {
		return fail("search: %v", walkErr)
	}

	if len(lines) == 0 {
		return ok("No matches found.")
	}
	out := strings.Join(lines, "\n")
	if truncated {
		out += "\n" + fmt.Sprintf(entriesTruncMsg, maxSearchResults)
	}
	return ok(out)
}

// isBinary treats a NUL byte in the first 8 KB as binary content.
func isBinary(data []byte) bool {
	probe := data
	if len(probe) > 8192 {
		probe = probe[:8192]
	}
	return bytes.IndexByte(probe, 0) != -1
}
