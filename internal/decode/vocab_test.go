package decode

import (
	"os"
	"path/filepath"
	"testing"
)

func writeVocab(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vocab.txt")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatalf("write vocab: %v", err)
	}
	return path
}

func TestLoadVocabulary(t *testing.T) {
	path := writeVocab(t, "▁hello 0\n▁world 1\ning 2\n<|startoftranscript|> 3\n<blk> 4\n")
	vocab, err := LoadVocabulary(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if vocab.Size() != 5 {
		t.Fatalf("size = %d, want 5", vocab.Size())
	}
	if vocab.BlankID != 4 {
		t.Fatalf("blank = %d, want 4", vocab.BlankID)
	}
	if vocab.StartID != 3 {
		t.Fatalf("start = %d, want 3", vocab.StartID)
	}
	if vocab.Token(1) != "▁world" {
		t.Fatalf("unexpected token: %q", vocab.Token(1))
	}
}

func TestLoadVocabularyDefaultsBlankToHighestID(t *testing.T) {
	path := writeVocab(t, "▁a 0\n▁b 1\n▁c 2\n")
	vocab, err := LoadVocabulary(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if vocab.BlankID != 2 {
		t.Fatalf("blank = %d, want highest id 2", vocab.BlankID)
	}
	if vocab.StartID != -1 {
		t.Fatalf("start = %d, want -1", vocab.StartID)
	}
}

func TestLoadVocabularyRejectsMalformedLines(t *testing.T) {
	for _, body := range []string{"notoken\n", "▁a zero\n", ""} {
		path := writeVocab(t, body)
		if _, err := LoadVocabulary(path); err == nil {
			t.Fatalf("expected error for %q", body)
		}
	}
}

func TestVocabularyText(t *testing.T) {
	vocab := NewVocabulary(map[int]string{
		0: "▁hello",
		1: "▁wor",
		2: "ld",
		3: "<|startoftranscript|>",
		4: "<blk>",
	})

	cases := []struct {
		name string
		ids  []int
		want string
	}{
		{"word pieces join", []int{0, 1, 2}, "hello world"},
		{"blank dropped", []int{0, 4, 1, 2, 4}, "hello world"},
		{"specials dropped", []int{3, 0}, "hello"},
		{"unknown ids skipped", []int{0, 99}, "hello"},
		{"empty", nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := vocab.Text(tc.ids); got != tc.want {
				t.Fatalf("Text(%v) = %q, want %q", tc.ids, got, tc.want)
			}
		})
	}
}
