// Package slug normalizes arbitrary text into URL-safe slugs.
package slug

import "strings"

// Fallback is returned when normalization produces nothing usable.
const Fallback = "project"

// reserved holds the platform's own top-level path segments. A published
// project must never be addressable under one of these.
var reserved = map[string]struct{}{
	"projects": {},
	"assets":   {},
	"auth":     {},
	"uploads":  {},
	"public":   {},
}

// Normalize lowercases text, collapses every run of characters outside
// [a-z0-9] into a single hyphen, and strips leading/trailing hyphens.
// It never fails; an empty result becomes Fallback.
func Normalize(text string) string {
	lower := strings.ToLower(text)
	var b strings.Builder
	b.Grow(len(lower))
	pendingHyphen := false
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	out := b.String()
	if out == "" {
		return Fallback
	}
	return out
}

// Reserved reports whether s collides with a platform route segment.
func Reserved(s string) bool {
	_, ok := reserved[s]
	return ok
}
