package text

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  ", ""},
		{" \t \n \r\n ", ""},
		{"　　  　　", ""},
		{"　いろは　\n", "いろは"},
		{"\nshort enough\n", "short enough"},
		{"\u2028line separators\u2029\u0085", "line separators"},
		{"\uFEFFbom", "bom"},
		{"inner  space\tkept", "inner  space\tkept"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLength(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 3},
		{"三文字", 3},
		{"⚠️👍🏻👍🏿", 3},
		{strings.Repeat("👍🏻", 100), 100},
		{strings.Repeat("⚠️", 101), 101},
		{"e\u0301", 1},
		{"🇯🇵", 1},
	}
	for _, tt := range tests {
		if got := Length(tt.in); got != tt.want {
			t.Errorf("Length(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestTruncate_ShortEnough(t *testing.T) {
	tests := []struct {
		in  string
		max int
	}{
		{"aaa", 4},
		{"  hi  ", 10},
		{"三文字", 3},
		{"⚠️👍🏻👍🏿", 3},
		{"", 0},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.in {
			t.Errorf("Truncate(%q, %d) = %q, want unchanged", tt.in, tt.max, got)
		}
	}
}

func TestTruncate_TooLong(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"aaa aaa aaa", 4, "aaa…"},
		{"  hi  ", 2, " …"},
		{"三文字以上", 3, "三文…"},
		{"⚠️👍🏻👍🏿", 2, "⚠️…"},
		{"ab", 1, "…"},
		{"ab", 0, ""},
		{"ab", -5, ""},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestTruncate_Properties(t *testing.T) {
	inputs := []string{
		"",
		"a",
		"三文字以上",
		"⚠️👍🏻👍🏿",
		strings.Repeat("🇯🇵", 40),
		strings.Repeat("\tDEFINITELY TOO LONG\n", 10),
	}
	for _, s := range inputs {
		for n := 0; n <= 35; n++ {
			once := Truncate(s, n)
			if Length(once) > n {
				t.Errorf("Truncate(%q, %d) has length %d", s, n, Length(once))
			}
			if twice := Truncate(once, n); twice != once {
				t.Errorf("Truncate not idempotent for (%q, %d): %q then %q", s, n, once, twice)
			}
		}
	}
}

func TestUTF16Length(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 3},
		{"あいう", 3},
		{"🇯🇵", 4},
		{"👨‍👩‍👧‍👦", 11},
		{Ellipsis, 1},
	}
	for _, tt := range tests {
		if got := UTF16Length(tt.in); got != tt.want {
			t.Errorf("UTF16Length(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestTruncateUTF16(t *testing.T) {
	family := "👨‍👩‍👧‍👦"
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"あいう", 3, "あいう"},
		{"あいうえ", 3, "あい…"},
		{family + family, 22, family + family},
		// 21 units leave 20 for clusters: one family fits, the second would split.
		{family + family, 21, family + Ellipsis},
		{family, 10, Ellipsis},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncateUTF16(tt.in, tt.max); got != tt.want {
			t.Errorf("TruncateUTF16(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}

	for _, s := range []string{strings.Repeat(family, 100), strings.Repeat("🇯🇵", 100), strings.Repeat("あ", 200)} {
		got := TruncateUTF16(s, 160)
		if n := UTF16Length(got); n > 160 {
			t.Errorf("TruncateUTF16 left %d units", n)
		}
		if !strings.HasSuffix(got, Ellipsis) {
			t.Errorf("expected ellipsis on %q", got)
		}
	}
}
