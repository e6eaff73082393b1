package decode

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	blankToken    = "<blk>"
	startToken    = "<|startoftranscript|>"
	wordStartMark = "▁" // sentencepiece word-start marker
)

// Vocabulary maps transducer token ids to sentencepiece tokens. Files carry
// one "token index" pair per line; the blank symbol is <blk> when present,
// otherwise the highest index.
type Vocabulary struct {
	tokens  map[int]string
	size    int
	BlankID int
	StartID int
}

// LoadVocabulary parses a vocab file. Malformed lines are rejected rather
// than skipped: a partial vocabulary silently corrupts every transcript.
func LoadVocabulary(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocabulary: %w", err)
	}
	defer f.Close()

	tokens := make(map[int]string)
	maxID := -1
	blankID := -1
	startID := -1

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		// The token itself may contain spaces; the index is the last field.
		cut := strings.LastIndexByte(line, ' ')
		if cut < 0 {
			return nil, fmt.Errorf("vocabulary line %d: missing index: %q", lineNo, line)
		}
		token := line[:cut]
		id, err := strconv.Atoi(strings.TrimSpace(line[cut+1:]))
		if err != nil {
			return nil, fmt.Errorf("vocabulary line %d: bad index: %q", lineNo, line)
		}
		tokens[id] = token
		if id > maxID {
			maxID = id
		}
		switch token {
		case blankToken:
			blankID = id
		case startToken:
			startID = id
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("vocabulary %s is empty", path)
	}
	if blankID < 0 {
		blankID = maxID
	}

	return &Vocabulary{
		tokens:  tokens,
		size:    maxID + 1,
		BlankID: blankID,
		StartID: startID,
	}, nil
}

// NewVocabulary builds a vocabulary from an explicit id-to-token table.
// Used by mock model bundles and tests.
func NewVocabulary(tokens map[int]string) *Vocabulary {
	maxID := -1
	blankID := -1
	startID := -1
	for id, tok := range tokens {
		if id > maxID {
			maxID = id
		}
		switch tok {
		case blankToken:
			blankID = id
		case startToken:
			startID = id
		}
	}
	if blankID < 0 {
		blankID = maxID
	}
	copied := make(map[int]string, len(tokens))
	for id, tok := range tokens {
		copied[id] = tok
	}
	return &Vocabulary{tokens: copied, size: maxID + 1, BlankID: blankID, StartID: startID}
}

// Size returns the number of token ids, blank included. Logit vectors may be
// longer (auxiliary heads); ids at or beyond Size are never emitted.
func (v *Vocabulary) Size() int {
	return v.size
}

// Token returns the token string for id, or "" if unknown.
func (v *Vocabulary) Token(id int) string {
	return v.tokens[id]
}

// Text detokenizes emitted ids: blank and special <...> markers are dropped,
// the sentencepiece word-start marker becomes a space, and the result is
// whitespace-normalized.
func (v *Vocabulary) Text(ids []int) string {
	var b strings.Builder
	for _, id := range ids {
		if id == v.BlankID {
			continue
		}
		tok, ok := v.tokens[id]
		if !ok {
			continue
		}
		if strings.HasPrefix(tok, "<") && strings.HasSuffix(tok, ">") {
			continue
		}
		b.WriteString(strings.ReplaceAll(tok, wordStartMark, " "))
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
