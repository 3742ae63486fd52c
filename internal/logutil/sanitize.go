// Package logutil has helpers for writing untrusted input to the log.
package logutil

import "strings"

// Sanitize makes a client-supplied string safe for a single log line by
// mapping control characters (including CR and LF) to spaces. Without this a
// client could forge log entries by embedding newlines in a session name or
// error report.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return ' '
		}
		return r
	}, s)
}
