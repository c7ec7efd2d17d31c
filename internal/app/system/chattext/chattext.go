// Package chattext normalizes chat bodies before they are broadcast or stored.
// Bodies are free text and clients render them as text, so nothing the
// sender typed is removed apart from surrounding whitespace and control
// characters.
package chattext

import (
	"strings"
	"unicode"
)

// Clean trims s, replaces invalid UTF-8 with U+FFFD and drops control
// characters other than newline and tab.
func Clean(s string) string {
	s = strings.ToValidUTF8(strings.TrimSpace(s), "�")
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
