package ranking

import (
	"strings"
	"unicode"
)

// tokenizeDotted splits an intent string on "." for hierarchical matching.
func tokenizeDotted(intent string) []string {
	return strings.Split(intent, ".")
}

// tokenizeIntentWords splits on ".", "_", "-" and whitespace, keeping
// tokens of length >= 3, lowercased -- the tokenizer used for the intent
// trigram/Jaccard score.
func tokenizeIntentWords(s string) []string {
	return splitKeepLong(s, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || unicode.IsSpace(r)
	}, 3)
}

// tokenizeText lowercases and splits on any run of non-alphanumeric
// characters (including Latin-1 diacritics), keeping tokens of length >= 3
// -- the tokenizer used for description and list-similarity scoring.
func tokenizeText(s string) []string {
	return splitKeepLong(s, func(r rune) bool {
		return !isAlnumOrDiacritic(r)
	}, 3)
}

func isAlnumOrDiacritic(r rune) bool {
	if unicode.IsDigit(r) {
		return true
	}
	if r < 128 {
		return unicode.IsLetter(r)
	}
	// Latin-1 Supplement letters (e.g. à, é, ü, ñ) count as word characters
	// rather than separators.
	return unicode.Is(unicode.Latin, r)
}

func splitKeepLong(s string, isSep func(rune) bool, minLen int) []string {
	lower := strings.ToLower(s)
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() >= minLen {
			out = append(out, cur.String())
		}
		cur.Reset()
	}
	for _, r := range lower {
		if isSep(r) {
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return out
}

func toSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// jaccard returns |a ∩ b| / |a ∪ b|, 0 if both are empty.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// charTrigrams returns the set of 3-character sliding windows over s,
// padded with a leading and trailing space -- used for the character-level
// trigram similarity bonus in the intent score.
func charTrigrams(s string) map[string]struct{} {
	padded := " " + s + " "
	set := map[string]struct{}{}
	runes := []rune(padded)
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}
