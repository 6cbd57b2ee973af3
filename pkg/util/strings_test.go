package util

import "testing"

func TestCompactOneLine(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"collapses_whitespace", "  a\n b\t c ", 0, "a b c"},
		{"truncates_with_ellipsis", "abcdefgh", 5, "abcd…"},
		{"short_unchanged", "abc", 5, "abc"},
		{"empty", "   ", 10, ""},
		{"limit_one", "abc", 1, "…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CompactOneLine(tt.in, tt.limit); got != tt.want {
				t.Errorf("CompactOneLine(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
			}
		})
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty("", "  ", "x", "y"); got != "x" {
		t.Errorf("FirstNonEmpty = %q, want x", got)
	}
	if got := FirstNonEmpty("", "  "); got != "" {
		t.Errorf("FirstNonEmpty all-blank = %q, want empty", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := TruncateRunes("héllo", 2); got != "hé" {
		t.Errorf("TruncateRunes = %q, want hé", got)
	}
	if got := TruncateRunes("ab", 5); got != "ab" {
		t.Errorf("TruncateRunes short = %q, want ab", got)
	}
}
