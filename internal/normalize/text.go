package normalize

import "strings"

// NormalizeName canonicalizes a recommendation or line description for
// matching: trimmed, lowercased, inner whitespace collapsed to single spaces.
// Returns nil when the input is nil or blank.
func NormalizeName(v *string) *string {
	if v == nil {
		return nil
	}
	fields := strings.Fields(*v)
	if len(fields) == 0 {
		return nil
	}
	s := strings.ToLower(strings.Join(fields, " "))
	return &s
}

// NormalizeCode canonicalizes a PIMS service code: uppercased with every
// non-alphanumeric character removed, so "hw-test" and "HW TEST" both become
// "HWTEST". Returns nil when nothing alphanumeric remains.
func NormalizeCode(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - ('a' - 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return -1
	}, *v)
	if s == "" {
		return nil
	}
	return &s
}
