// Package textsim provides the text-normalization, similarity-ratio, and
// anchor-word extraction helpers used for transcript quality detection
// (echo/repeat flags) and at-a-glance turn summaries.
package textsim

import "strings"

// Normalize strips punctuation, collapses whitespace, and lowercases,
// matching the normalization applied before similarity comparison.
// Quick-reply lookup uses its own key normalization
// (orchestrator.NormalizeQuickReplyKey), not this one.
func Normalize(s string) string {
	var b strings.Builder
	lastWasSpace := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastWasSpace = false
		case r == ' ', r == '\t', r == '\n':
			if !lastWasSpace && b.Len() > 0 {
				b.WriteRune(' ')
				lastWasSpace = true
			}
		default:
			// drop punctuation and accented-letter handling is left to the
			// caller; treat as a word boundary.
			if !lastWasSpace && b.Len() > 0 {
				b.WriteRune(' ')
				lastWasSpace = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Ratio computes a SequenceMatcher-ratio-equivalent similarity between two
// strings: 1.0 for identical normalized strings, trending to 0 for
// disjoint content. It is based on longest-common-subsequence length,
// which is the standard definition behind Python's difflib ratio
// (2*M/T where M is matching characters and T is total length).
func Ratio(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" && nb == "" {
		return 1.0
	}
	if na == "" || nb == "" {
		return 0.0
	}
	m := lcsLength(na, nb)
	total := len(na) + len(nb)
	if total == 0 {
		return 0
	}
	return 2.0 * float64(m) / float64(total)
}

func lcsLength(a, b string) int {
	n, m := len(a), len(b)
	prev := make([]int, m+1)
	curr := make([]int, m+1)
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[m]
}

// stopWords is the closed set of common words dropped during anchor-word
// extraction.
var stopWords = map[string]bool{
	"il": true, "lo": true, "la": true, "i": true, "gli": true, "le": true,
	"un": true, "uno": true, "una": true, "di": true, "a": true, "da": true,
	"in": true, "con": true, "su": true, "per": true, "tra": true, "fra": true,
	"e": true, "che": true, "non": true, "si": true, "mi": true, "ti": true,
	"ci": true, "vi": true, "del": true, "della": true, "dei": true,
	"delle": true, "al": true, "allo": true, "alla": true, "è": true,
	"sono": true, "ho": true, "ha": true,
}

// AnchorWords extracts up to 5 non-stop-word tokens of length >= 2 from a
// transcript, for at-a-glance inspection of what a turn was about.
func AnchorWords(transcript string) []string {
	normalized := Normalize(transcript)
	var out []string
	for _, tok := range strings.Fields(normalized) {
		if len(tok) < 2 || stopWords[tok] {
			continue
		}
		out = append(out, tok)
		if len(out) == 5 {
			break
		}
	}
	return out
}
