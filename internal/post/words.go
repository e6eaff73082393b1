package post

import (
	"sort"
	"strings"
	"unicode"
)

// ApplyCustomWords replaces recognizer-mangled spellings with the user's
// preferred ones. Matching is case-insensitive on whole words; replacements
// are applied longest key first so multi-word corrections win over their
// substrings.
func ApplyCustomWords(text string, words map[string]string) string {
	if len(words) == 0 || text == "" {
		return text
	}

	keys := make([]string, 0, len(words))
	for k := range words {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	for _, key := range keys {
		text = replaceWord(text, key, words[key])
	}
	return text
}

func replaceWord(text, word, replacement string) string {
	lower := strings.ToLower(text)
	target := strings.ToLower(word)

	var b strings.Builder
	for i := 0; i < len(text); {
		j := strings.Index(lower[i:], target)
		if j < 0 {
			b.WriteString(text[i:])
			break
		}
		start := i + j
		end := start + len(target)
		if isWordBoundary(text, start-1) && isWordBoundary(text, end) {
			b.WriteString(text[i:start])
			b.WriteString(replacement)
		} else {
			b.WriteString(text[i:end])
		}
		i = end
	}
	return b.String()
}

func isWordBoundary(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	r := rune(text[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
