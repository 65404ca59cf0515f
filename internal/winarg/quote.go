// Package winarg implements Windows command-line argument quoting and
// joining, matching the quoting behavior CommandLineToArgvW expects on
// the receiving end.
package winarg

import "strings"

// Quote applies CreateProcess-compatible quoting to a single argument.
// verbatim copies the argument through unmodified — used for callers
// that have pre-quoted it themselves, e.g. to invoke "cmd /c".
func Quote(arg string, verbatim bool) string {
	if verbatim {
		return arg
	}
	if len(arg) == 0 {
		// An empty argument still needs to occupy a position.
		return `""`
	}
	if !strings.ContainsAny(arg, " \t\"") {
		return arg
	}
	if !strings.ContainsAny(arg, `"\`) {
		return `"` + arg + `"`
	}

	var b strings.Builder
	b.WriteByte('"')
	// Backslash runs are counted so that a run immediately preceding a
	// '"' (original or the closing quote) is doubled, and embedded '"' is
	// escaped as \". Built by scanning
	// left-to-right and looking ahead to each backslash run's
	// terminator, which is equivalent to quote_cmd_arg's reverse-scan
	// construction but reads forward.
	i := 0
	for i < len(arg) {
		if arg[i] == '\\' {
			j := i
			for j < len(arg) && arg[j] == '\\' {
				j++
			}
			n := j - i
			if j == len(arg) {
				// Backslashes run to the end of the string: they
				// immediately precede the closing quote, so double them.
				b.WriteString(strings.Repeat(`\`, n*2))
			} else if arg[j] == '"' {
				b.WriteString(strings.Repeat(`\`, n*2))
			} else {
				b.WriteString(strings.Repeat(`\`, n))
			}
			i = j
			continue
		}
		if arg[i] == '"' {
			b.WriteString(`\"`)
			i++
			continue
		}
		b.WriteByte(arg[i])
		i++
	}
	b.WriteByte('"')
	return b.String()
}

// Join quotes and space-joins args into a single null-terminator-ready
// command line. The caller appends the terminating NUL when converting
// to UTF-16.
func Join(args []string, verbatim bool) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(a, verbatim)
	}
	return strings.Join(quoted, " ")
}
