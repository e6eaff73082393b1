package decode

import "testing"

func TestMergeTexts(t *testing.T) {
	cases := []struct {
		name  string
		texts []string
		want  string
	}{
		{"empty", nil, ""},
		{"single", []string{"hello world"}, "hello world"},
		{"skips empty chunks", []string{"", "hello", ""}, "hello"},
		{"no overlap", []string{"one two", "three four"}, "one two three four"},
		{
			"single word overlap",
			[]string{"the quick brown fox", "fox jumps over"},
			"the quick brown fox jumps over",
		},
		{
			"multi word overlap",
			[]string{"we hold these truths to be", "truths to be self evident"},
			"we hold these truths to be self evident",
		},
		{
			"case insensitive overlap",
			[]string{"meet me at Noon", "noon by the gate"},
			"meet me at Noon by the gate",
		},
		{
			"three chunks",
			[]string{"a b c d", "c d e f", "e f g"},
			"a b c d e f g",
		},
		{
			"repeated words only merge once",
			[]string{"go go go", "go go stop"},
			"go go go stop",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MergeTexts(tc.texts); got != tc.want {
				t.Fatalf("MergeTexts(%v) = %q, want %q", tc.texts, got, tc.want)
			}
		})
	}
}
