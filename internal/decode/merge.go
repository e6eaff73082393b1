package decode

import "strings"

// maxMergeOverlap caps how many trailing/leading words are compared when
// stitching chunk transcripts. Overlap windows cover ~2s of speech, which
// stays well under this.
const maxMergeOverlap = 20

// MergeTexts stitches per-chunk transcripts into one, deduplicating the words
// that overlapping chunk windows decoded twice: the longest suffix of the
// accumulated text that equals a prefix of the next chunk is dropped from the
// latter. Empty chunk texts are skipped.
func MergeTexts(texts []string) string {
	var words []string
	for _, text := range texts {
		words, _ = appendMerged(words, strings.Fields(text))
	}
	return strings.Join(words, " ")
}

// appendMerged appends next onto words, dropping next's leading words that
// repeat the tail of words. The second return is the number of words dropped.
func appendMerged(words, next []string) ([]string, int) {
	if len(next) == 0 {
		return words, 0
	}
	if len(words) == 0 {
		return next, 0
	}
	k := overlapLen(words, next)
	return append(words, next[k:]...), k
}

func overlapLen(prev, next []string) int {
	limit := min(maxMergeOverlap, min(len(prev), len(next)))
	for k := limit; k > 0; k-- {
		if equalWords(prev[len(prev)-k:], next[:k]) {
			return k
		}
	}
	return 0
}

func equalWords(a, b []string) bool {
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}
