// Package text normalizes and measures user-supplied prompt text.
//
// Lengths are counted in grapheme clusters (user-perceived characters), so a
// flag, a skin-toned emoji or a base letter with combining marks counts as one.
package text

import (
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/rivo/uniseg"
)

// Ellipsis is appended by Truncate when text is shortened.
const Ellipsis = "…"

// byteOrderMark is not White_Space in Unicode but clients still paste it.
const byteOrderMark = '\uFEFF'

func isTrimmable(r rune) bool {
	return unicode.IsSpace(r) || r == byteOrderMark
}

// Normalize strips leading and trailing whitespace, including the ideographic
// (full-width) space and every line break variant.
func Normalize(raw string) string {
	return strings.TrimFunc(raw, isTrimmable)
}

// Length returns the number of grapheme clusters in s.
func Length(s string) int {
	return uniseg.GraphemeClusterCount(s)
}

// Truncate returns s unchanged if it fits in maxLength perceived characters.
// Otherwise it keeps the first maxLength-1 characters and appends Ellipsis, so
// the result is exactly maxLength characters long. A maxLength of zero or less
// yields the empty string.
func Truncate(s string, maxLength int) string {
	if maxLength <= 0 {
		return ""
	}
	if Length(s) <= maxLength {
		return s
	}

	var b strings.Builder
	keep := maxLength - 1
	state := -1
	rest := s
	for i := 0; i < keep && rest != ""; i++ {
		var cluster string
		cluster, rest, _, state = uniseg.FirstGraphemeClusterInString(rest, state)
		b.WriteString(cluster)
	}
	b.WriteString(Ellipsis)
	return b.String()
}

// UTF16Length returns the number of UTF-16 code units in s, the unit LINE
// uses for its message field limits.
func UTF16Length(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// TruncateUTF16 shortens s to at most maxUnits UTF-16 code units, Ellipsis
// included. It only cuts between grapheme clusters, so a multi-codepoint
// emoji is either kept whole or dropped.
func TruncateUTF16(s string, maxUnits int) string {
	if maxUnits <= 0 {
		return ""
	}
	if UTF16Length(s) <= maxUnits {
		return s
	}

	var b strings.Builder
	budget := maxUnits - UTF16Length(Ellipsis)
	state := -1
	rest := s
	for rest != "" {
		var cluster string
		cluster, rest, _, state = uniseg.FirstGraphemeClusterInString(rest, state)
		n := UTF16Length(cluster)
		if n > budget {
			break
		}
		budget -= n
		b.WriteString(cluster)
	}
	b.WriteString(Ellipsis)
	return b.String()
}
