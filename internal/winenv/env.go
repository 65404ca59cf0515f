// Package winenv builds the Windows environment block CreateProcessW's
// lpEnvironment parameter expects, including the handful of variables
// the loader itself relies on being present.
package winenv

import (
	"sort"
	"strings"
)

// RequiredVars are the variables CreateProcess's environment block must
// carry even if the caller didn't supply them.
var RequiredVars = []string{"SYSTEMROOT", "SYSTEMDRIVE", "TEMP"}

// LookupFunc resolves a variable from the current process's environment,
// e.g. os.LookupEnv, injected so this package stays testable without a
// real process environment.
type LookupFunc func(name string) (string, bool)

func nameOf(pair string) string {
	if i := strings.IndexByte(pair, '='); i >= 0 {
		return pair[:i]
	}
	return pair
}

func hasName(pair, name string) bool {
	return strings.EqualFold(nameOf(pair), name)
}

// Build returns the sorted (case-insensitive by name), NUL-joined
// NAME=VALUE sequence CreateProcessW expects, with every entry in
// RequiredVars present: the caller's value is preserved if supplied,
// otherwise lookup injects the current process's value. lookup failing
// for a required, unsupplied variable is not an error here — CreateProcess
// will simply not see that variable, matching a process that never had
// it set either.
func Build(env []string, lookup LookupFunc) []string {
	out := make([]string, len(env))
	copy(out, env)

	for _, req := range RequiredVars {
		supplied := false
		for _, pair := range out {
			if hasName(pair, req) {
				supplied = true
				break
			}
		}
		if supplied {
			continue
		}
		if v, ok := lookup(req); ok {
			out = append(out, req+"="+v)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToUpper(nameOf(out[i])) < strings.ToUpper(nameOf(out[j]))
	})
	return out
}

// Block joins the built sequence into the contiguous NUL-terminated-pair,
// doubly-NUL-terminated form CreateProcessW's lpEnvironment expects, once
// the caller has converted each entry to UTF-16 and appended a NUL.
func Block(sortedEnv []string) string {
	if len(sortedEnv) == 0 {
		return "\x00\x00"
	}
	var b strings.Builder
	for _, pair := range sortedEnv {
		b.WriteString(pair)
		b.WriteByte(0)
	}
	b.WriteByte(0)
	return b.String()
}
