package paths

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

// Match is a file matched by a source pattern
type Match struct {
	// Path is the absolute path of the file
	Path string
	// Rel is the path relative to the pattern's static base (the part before the first wildcard)
	Rel string
}

func shellReadDir(dir string) ([]os.FileInfo, error) {
	if dir == "" {
		dir = "."
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	result := make([]os.FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// the file disappeared while we were listing the directory
			continue
		}
		result = append(result, info)
	}
	return result, nil
}

// HasMeta reports whether pattern contains any wildcards
func HasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// quotePattern escapes everything the shell would interpret except the glob characters
func quotePattern(pattern string) string {
	var buf strings.Builder
	for _, r := range pattern {
		if strings.ContainsRune(" \t\n'\"\\$`|&;<>(){}#~=!", r) {
			buf.WriteRune('\\')
		}
		buf.WriteRune(r)
	}
	return buf.String()
}

// Base returns the static part of a pattern: everything up to the first path segment containing a
// wildcard. For patterns without wildcards the parent directory is returned.
func Base(pattern string) string {
	pattern = path.Clean(filepath.ToSlash(pattern))
	if !HasMeta(pattern) {
		return path.Dir(pattern)
	}

	parts := strings.Split(pattern, "/")
	for idx, part := range parts {
		if HasMeta(part) {
			if idx == 0 {
				return "."
			}
			base := strings.Join(parts[:idx], "/")
			if base == "" {
				return "/"
			}
			return base
		}
	}

	return path.Dir(pattern)
}

func expandPattern(root, pattern string) (string, []string, error) {
	full := pattern
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, pattern)
	}
	full = filepath.ToSlash(filepath.Clean(full))

	words := make([]*syntax.Word, 0)
	err := syntax.NewParser().Words(strings.NewReader(quotePattern(full)), func(w *syntax.Word) bool {
		words = append(words, w)
		return true
	})
	if err != nil {
		return "", nil, eris.Wrapf(err, "Failed to parse pattern %s", pattern)
	}

	cfg := expand.Config{
		ReadDir:  shellReadDir,
		GlobStar: true,
	}
	matches, err := expand.Fields(&cfg, words...)
	if err != nil {
		return "", nil, eris.Wrapf(err, "Failed to resolve pattern %s", pattern)
	}

	result := make([]string, 0, len(matches))
	for _, item := range matches {
		// If a pattern didn't match anything, it's returned as a result. Skip those results.
		if HasMeta(item) && item == full {
			continue
		}
		result = append(result, item)
	}

	sort.Strings(result)
	return full, result, nil
}

// Expand returns every existing file or directory matched by pattern
func Expand(root, pattern string) ([]string, error) {
	_, matches, err := expandPattern(root, pattern)
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(matches))
	for _, item := range matches {
		_, err := os.Lstat(filepath.FromSlash(item))
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, eris.Wrapf(err, "Failed to check %s", item)
		}
		result = append(result, filepath.FromSlash(item))
	}

	return result, nil
}

// Resolve expands the given patterns relative to root and returns all matching regular files.
// Patterns support the shell's globstar syntax (**). Patterns that don't match anything are skipped.
func Resolve(root string, patterns []string) ([]Match, error) {
	result := []Match{}
	seen := make(map[string]bool)

	for _, pattern := range patterns {
		full, matches, err := expandPattern(root, pattern)
		if err != nil {
			return nil, err
		}
		base := Base(full)

		for _, item := range matches {
			info, err := os.Stat(filepath.FromSlash(item))
			if err != nil {
				if eris.Is(err, os.ErrNotExist) {
					continue
				}
				return nil, eris.Wrapf(err, "Failed to check %s", item)
			}

			if !info.Mode().IsRegular() || seen[item] {
				continue
			}
			seen[item] = true

			rel, err := filepath.Rel(filepath.FromSlash(base), filepath.FromSlash(item))
			if err != nil {
				return nil, eris.Wrapf(err, "Failed to determine the relative path of %s", item)
			}

			result = append(result, Match{
				Path: filepath.FromSlash(item),
				Rel:  filepath.ToSlash(rel),
			})
		}
	}

	return result, nil
}
