// Package shellquote holds the single quoting/wrapping convention used
// everywhere a command is handed to /bin/sh: connections, modules, and
// the sudo escalation wrapper all go through here so there is exactly
// one place that knows how to escape a single quote for a POSIX shell.
package shellquote

import "fmt"

// Single wraps s in single quotes, escaping any embedded single quote
// as '\'' (close the quote, emit an escaped quote, reopen the quote).
func Single(s string) string {
	escaped := ""
	for _, r := range s {
		if r == '\'' {
			escaped += `'\''`
		} else {
			escaped += string(r)
		}
	}
	return "'" + escaped + "'"
}

// Sudo wraps command for non-interactive privilege escalation. When
// user is empty it runs as the configured sudo target (typically
// root); otherwise it switches to that user first. sudo is always
// invoked with -n: the contract here is "pre-authenticate or use
// key-based escalation", never an interactive password prompt.
func Sudo(command, user string) string {
	quoted := Single(command)
	if user == "" {
		return fmt.Sprintf("sudo -n -- sh -c %s", quoted)
	}
	return fmt.Sprintf("sudo -n -u %s -- sh -c %s", user, quoted)
}
