// Package endpoint provides concrete sx.Endpoint implementations: a local
// shell and an SSH-remote shell, both invoked by shelling out to an
// external binary rather than embedding a protocol client.
package endpoint

import "strings"

// shellQuote renders argv as a single POSIX shell command line. Arguments
// containing whitespace or shell metacharacters (and empty arguments) are
// wrapped in single quotes, the only quoting style that needs no exceptions
// for special characters other than the quote itself; plain arguments are
// left as they are.
func shellQuote(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = quoteOne(arg)
	}
	return strings.Join(quoted, " ")
}

func quoteOne(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"$`\\!*?[]{}()<>|;&~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
