// Package canonical derives a normalization-stable identity for a model name.
//
// The canonical key merges cosmetic variants of the same model within a
// source ("GPT-5.2 (High)" and "gpt-5.2-high" collapse to the same key) so
// the history store can track a model across renames. The diff engine keeps
// using exact raw names; canonical identity is strictly a long-horizon
// tracking concept.
package canonical

import (
	"strings"
	"unicode"
)

// variantTokens are qualifier suffixes that vendors toggle on and off
// between listings of the same underlying model.
var variantTokens = map[string]struct{}{
	"thinking":  {},
	"reasoning": {},
	"high":      {},
	"xhigh":     {},
	"max":       {},
	"effort":    {},
	"preview":   {},
	"latest":    {},
	"adaptive":  {},
	"beta":      {},
}

// Normalize lowercases the name, maps punctuation to spaces, drops long
// numeric tokens (date stamps like 20260115) and variant qualifier tokens,
// and rejoins the remaining tokens with single spaces.
func Normalize(name string) string {
	if name == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			// Spaces, hyphens and underscores all act as token breaks,
			// same as any other punctuation.
			b.WriteRune(' ')
		}
	}

	var kept []string
	for _, tok := range strings.Fields(b.String()) {
		if isDigits(tok) && len(tok) >= 6 {
			continue
		}
		if _, drop := variantTokens[tok]; drop {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

// Key returns the canonical identity "{source}:{normalized(model)}".
func Key(source, model string) string {
	return source + ":" + Normalize(model)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
