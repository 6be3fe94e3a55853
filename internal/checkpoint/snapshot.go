// internal/checkpoint/snapshot.go
package checkpoint

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Directories never included in a snapshot regardless of .gitignore
var defaultIgnoreDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"target":       true,
	"dist":         true,
	"build":        true,
	"__pycache__":  true,
	".venv":        true,
	".idea":        true,
}

// Files larger than this are skipped with a warning rather than snapshotted
const maxSnapshotFileSize = 32 << 20 // 32 MiB

// snapshotWorkingTree walks the project root and captures every regular
// file as a FileSnapshot with project-relative paths. Ignore directories
// and the project's .gitignore patterns are skipped. Unreadable files are
// recorded as warnings, never as failures.
func snapshotWorkingTree(projectPath string) ([]FileSnapshot, []string, error) {
	matcher := loadIgnoreMatcher(projectPath)

	var snapshots []FileSnapshot
	var warnings []string

	err := filepath.WalkDir(projectPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == projectPath {
				return err
			}
			warnings = append(warnings, fmt.Sprintf("skipped %s: %v", path, err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(projectPath, path)
		if err != nil || rel == "." {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")

		if d.IsDir() {
			if defaultIgnoreDirs[d.Name()] || matcher.Match(parts, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || matcher.Match(parts, false) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("skipped %s: %v", rel, err))
			return nil
		}
		if info.Size() > maxSnapshotFileSize {
			warnings = append(warnings, fmt.Sprintf("skipped %s: file exceeds %d bytes", rel, maxSnapshotFileSize))
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("skipped %s: %v", rel, err))
			return nil
		}

		snapshots = append(snapshots, FileSnapshot{
			FilePath: filepath.ToSlash(rel),
			Content:  content,
			Hash:     HashContent(content),
			Size:     int64(len(content)),
			Mode:     uint32(info.Mode().Perm()),
		})
		return nil
	})
	if err != nil {
		return nil, warnings, fmt.Errorf("walk project %s: %w", projectPath, err)
	}

	return snapshots, warnings, nil
}

// loadIgnoreMatcher builds a gitignore matcher from the project root's
// .gitignore, if present
func loadIgnoreMatcher(projectPath string) gitignore.Matcher {
	var patterns []gitignore.Pattern

	f, err := os.Open(filepath.Join(projectPath, ".gitignore"))
	if err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			patterns = append(patterns, gitignore.ParsePattern(line, nil))
		}
	}

	return gitignore.NewMatcher(patterns)
}
