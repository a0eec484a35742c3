package models

import "strings"

// NormalizeAddress strips the separators people type into phone numbers so
// "+1 (555) 010-0100" and "+15550100100" name the same correspondent.
// Alphanumeric sender IDs keep their letters; comparisons stay case-insensitive.
func NormalizeAddress(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch r {
		case ' ', '\t', '-', '.', '(', ')':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NormalizeRecord returns rec with a trimmed ID and a normalized address.
func NormalizeRecord(rec SMSRecord) SMSRecord {
	rec.ID = strings.TrimSpace(rec.ID)
	rec.Address = NormalizeAddress(rec.Address)
	return rec
}
