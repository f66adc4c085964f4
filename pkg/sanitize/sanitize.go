package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Email, case-insensitive.
var reEmail = regexp.MustCompile(`(?i)[A-Z0-9._%+\-]+@[A-Z0-9.\-]+\.[A-Z]{2,}`)

// Common phone shapes: +xx..., (xxx) xxx-xxxx, 05xx... Minimum 9 digits
// total so ordinary numbers in prose are left alone.
var rePhone = regexp.MustCompile(`\+?\d[\d\s\-\.\(\)]{7,}\d`)

// RedactPII masks email addresses and phone numbers. Used for client
// contact fields shown to members whose access resolves below "edit".
func RedactPII(s string) string {
	if s == "" {
		return s
	}
	s = reEmail.ReplaceAllString(s, "[redacted email]")
	s = rePhone.ReplaceAllString(s, "[redacted phone]")
	return s
}

// Summary truncates text for listings, preferring a word boundary. The cut
// never splits a multibyte rune, so Arabic text stays intact.
func Summary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	i := max
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	if sp := strings.LastIndexByte(s[:i], ' '); sp > 0 {
		i = sp
	}
	return s[:i] + "…"
}
