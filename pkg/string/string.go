package string

import (
	"strings"
	"unicode"
)

func TrimStrings(ss ...*string) {
	for _, s := range ss {
		*s = strings.TrimSpace(*s)
	}
}

func ToSnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 &&
			(unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Initials derives display initials from a first and last name.
func Initials(first, last string) string {
	var b strings.Builder
	for _, part := range []string{first, last} {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		r := []rune(part)[0]
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
