package agent

import (
	"os"
	"path/filepath"
	"strings"
)

// EncodeProjectPath maps an absolute path to the directory name Claude Code
// uses under projects/: the leading "/" is dropped, every "/" becomes "-",
// and "/." (a hidden folder) becomes "--".
//
//	/Users/me/app/.worktree/x  ->  -Users-me-app--worktree-x
func EncodeProjectPath(path string) string {
	path = strings.TrimPrefix(path, "/")
	var b strings.Builder
	b.Grow(len(path) + 1)
	b.WriteByte('-')
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c != '/' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('-')
		if i+1 < len(path) && path[i+1] == '.' {
			b.WriteByte('-')
			i++
		}
	}
	return b.String()
}

// DecodeProjectDir is a best-effort inverse of EncodeProjectPath, for display
// only. Dashes are ambiguous, so it assumes everything after a "Projects" or
// "UnityProjects" segment is one project name that may itself contain dashes,
// with "--" opening a hidden folder. Without such a segment every dash is a
// path separator.
func DecodeProjectDir(name string) string {
	name = strings.TrimPrefix(name, "-")
	parts := strings.Split(name, "-")

	idx := -1
	for i, p := range parts {
		if p == "Projects" || p == "UnityProjects" {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "/" + strings.ReplaceAll(name, "-", "/")
	}

	path := "/" + strings.Join(parts[:idx+1], "/")
	rest := parts[idx+1:]
	if len(rest) == 0 {
		return path
	}

	var segments []string
	var cur string
	hidden := false
	for _, part := range rest {
		switch {
		case part == "":
			if cur != "" {
				segments = append(segments, cur)
				cur = ""
			}
			hidden = true
		case hidden:
			if cur == "" {
				cur = "." + part
			} else {
				segments = append(segments, cur)
				cur = part
			}
		case cur == "":
			cur = part
		default:
			cur += "-" + part
		}
	}
	if cur != "" {
		segments = append(segments, cur)
	}
	return path + "/" + strings.Join(segments, "/")
}

// normalizeDirName folds the differences Claude Code introduces when it
// sanitises a path: any character other than a letter or digit becomes "-",
// and case is ignored.
func normalizeDirName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, name)
}

// projectDirIndex resolves process working directories to Claude project
// directories. The store listing is read at most once, and only when the
// direct encoding does not exist.
type projectDirIndex struct {
	projectsDir string
	listed      bool
	byNorm      map[string]string
}

func newProjectDirIndex(projectsDir string) *projectDirIndex {
	return &projectDirIndex{projectsDir: projectsDir}
}

// lookup returns the directory name for cwd, or "" when none matches.
func (x *projectDirIndex) lookup(cwd string) string {
	encoded := EncodeProjectPath(cwd)
	if isDir(filepath.Join(x.projectsDir, encoded)) {
		return encoded
	}
	if !x.listed {
		x.listed = true
		x.byNorm = make(map[string]string)
		entries, err := os.ReadDir(x.projectsDir)
		if err == nil {
			for _, e := range entries {
				if e.IsDir() {
					x.byNorm[normalizeDirName(e.Name())] = e.Name()
				}
			}
		}
	}
	return x.byNorm[normalizeDirName(encoded)]
}
