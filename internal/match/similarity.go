package match

import "strings"

// Similarity scores two normalized strings in [0,1] using Dice's coefficient
// over token sets, falling back to character bigrams when the token sets are
// disjoint (catches abbreviations like "hw" vs "heartworm" at least partially
// and keeps short strings comparable). Deterministic and symmetric.
func Similarity(a, b string) float64 {
	ta := tokens(a)
	tb := tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	if d := diceTokens(ta, tb); d > 0 {
		return d
	}
	return diceBigrams(strings.Join(ta, " "), strings.Join(tb, " "))
}

func tokens(s string) []string {
	return strings.Fields(strings.ToLower(strings.TrimSpace(s)))
}

func diceTokens(a, b []string) float64 {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	seen := make(map[string]bool, len(b))
	common := 0
	for _, t := range b {
		if set[t] && !seen[t] {
			common++
			seen[t] = true
		}
	}
	return 2 * float64(common) / float64(len(unique(a))+len(unique(b)))
}

func unique(ts []string) []string {
	seen := make(map[string]bool, len(ts))
	out := ts[:0:0]
	for _, t := range ts {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func diceBigrams(a, b string) float64 {
	ba := bigrams(a)
	bb := bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}
	counts := make(map[string]int, len(ba))
	for _, g := range ba {
		counts[g]++
	}
	common := 0
	for _, g := range bb {
		if counts[g] > 0 {
			counts[g]--
			common++
		}
	}
	return 2 * float64(common) / float64(len(ba)+len(bb))
}

func bigrams(s string) []string {
	r := []rune(s)
	if len(r) < 2 {
		return nil
	}
	out := make([]string, 0, len(r)-1)
	for i := 0; i+1 < len(r); i++ {
		out = append(out, string(r[i:i+2]))
	}
	return out
}
