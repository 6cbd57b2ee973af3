// escape.go — 转义还原, 数学定界符保护。
package sessionstore

import (
	"fmt"
	"strings"
)

// 数学片段定界符对, 按优先级匹配 (块级先于行内)。
var mathDelims = [][2]string{
	{"$$", "$$"},
	{`\[`, `\]`},
	{`\(`, `\)`},
	{"$", "$"},
}

// UnescapeText restores literal escape sequences (\n, \t, \r) in stored
// text. Math spans are lifted out to placeholders first so their backslash
// delimiters survive the replacement verbatim, then restored.
func UnescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	spans := []string{}
	rest := s
	var b strings.Builder
	for {
		start, end := nextMathSpan(rest)
		if start < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])
		b.WriteString(placeholder(len(spans)))
		spans = append(spans, rest[start:end])
		rest = rest[end:]
	}

	out := b.String()
	out = strings.ReplaceAll(out, `\n`, "\n")
	out = strings.ReplaceAll(out, `\t`, "\t")
	out = strings.ReplaceAll(out, `\r`, "\r")

	for i, span := range spans {
		out = strings.Replace(out, placeholder(i), span, 1)
	}
	return out
}

func placeholder(i int) string {
	return fmt.Sprintf("\x00MATH%d\x00", i)
}

// nextMathSpan finds the earliest complete math span in s, returning its
// [start, end) byte range. Unclosed delimiters are left alone.
func nextMathSpan(s string) (int, int) {
	bestStart := -1
	bestEnd := -1
	for _, delim := range mathDelims {
		open := strings.Index(s, delim[0])
		if open < 0 {
			continue
		}
		if bestStart >= 0 && open >= bestStart {
			continue
		}
		closeOff := strings.Index(s[open+len(delim[0]):], delim[1])
		if closeOff < 0 {
			continue
		}
		bestStart = open
		bestEnd = open + len(delim[0]) + closeOff + len(delim[1])
	}
	return bestStart, bestEnd
}
