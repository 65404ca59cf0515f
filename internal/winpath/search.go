// Package winpath implements the Windows executable search rules
// CreateProcess's implicit resolution follows: try cwd first, then each
// PATH entry; in each directory the literal name is tried when it has an
// extension, then the name with .com and with .exe appended.
package winpath

import "strings"

// Stat reports whether path exists and, if so, whether it is a
// directory or reparse point — either of which disqualifies it as a
// candidate. It is injected so Search can be tested off Windows.
type Stat func(path string) (exists, isDir, isReparsePoint bool)

// Search resolves file against cwd and the ';'-separated pathEnv,
// returning the matched path and true, or ("", false) if no candidate
// exists.
func Search(file, cwd, pathEnv string, stat Stat) (string, bool) {
	if file == "" || file == "." {
		return "", false
	}

	dir, name := splitDirName(file)
	hasExt := nameHasExtension(name)

	if dir != "" {
		if m, ok := tryDir(dir, name, hasExt, cwd, stat); ok {
			return m, true
		}
		return "", false
	}

	if m, ok := tryDir("", name, hasExt, cwd, stat); ok {
		return m, true
	}
	for _, entry := range splitPathEnv(pathEnv) {
		if entry == "" {
			continue
		}
		if m, ok := tryDir(entry, name, hasExt, cwd, stat); ok {
			return m, true
		}
	}
	return "", false
}

// splitDirName splits file at the last \, /, or : into dir and name.
func splitDirName(file string) (dir, name string) {
	idx := strings.LastIndexAny(file, `\/:`)
	if idx < 0 {
		return "", file
	}
	return file[:idx+1], file[idx+1:]
}

// nameHasExtension reports a dot followed by at least one character.
func nameHasExtension(name string) bool {
	i := strings.LastIndexByte(name, '.')
	return i >= 0 && i < len(name)-1
}

func splitPathEnv(pathEnv string) []string {
	parts := strings.Split(pathEnv, ";")
	for i, p := range parts {
		parts[i] = trimOneQuotePair(p)
	}
	return parts
}

// trimOneQuotePair trims exactly one leading and one trailing matched
// pair of " or ' from a PATH entry.
func trimOneQuotePair(s string) string {
	if len(s) < 2 {
		return s
	}
	first, last := s[0], s[len(s)-1]
	if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}

// joinDir composes dir and cwd, applying drive-letter rules: a rooted
// path with no drive letter borrows cwd's drive, a drive-relative path
// reuses cwd only when the drive letters match, and an absolute
// drive-letter path ignores cwd entirely.
func joinDir(dir, cwd string) string {
	switch {
	case len(dir) >= 1 && (dir[0] == '/' || dir[0] == '\\'):
		// Rooted without a drive letter: use only cwd's drive letter.
		if len(cwd) >= 2 {
			return cwd[:2] + dir
		}
		return dir
	case len(dir) >= 2 && dir[1] == ':' && (len(dir) < 3 || (dir[2] != '/' && dir[2] != '\\')):
		// Drive-letter-prefixed relative path: reuse cwd only if the
		// drive letters match case-insensitively.
		if len(cwd) >= 2 && strings.EqualFold(cwd[:2], dir[:2]) {
			return joinPath(cwd, dir[2:])
		}
		return dir
	case len(dir) > 2 && dir[1] == ':':
		// Absolute drive-letter path: ignore cwd entirely.
		return dir
	default:
		return joinPath(cwd, dir)
	}
}

func joinPath(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	last := a[len(a)-1]
	if last != '\\' && last != '/' && last != ':' {
		a += `\`
	}
	return a + b
}

func tryDir(dir, name string, hasExt bool, cwd string, stat Stat) (string, bool) {
	base := joinDir(dir, cwd)
	candidates := make([]string, 0, 3)
	if hasExt {
		candidates = append(candidates, joinPath(base, name))
	}
	candidates = append(candidates, joinPath(base, name+".com"))
	candidates = append(candidates, joinPath(base, name+".exe"))

	for _, c := range candidates {
		exists, isDir, isReparse := stat(c)
		if exists && !isDir && !isReparse {
			return c, true
		}
	}
	return "", false
}
