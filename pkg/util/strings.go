// strings.go — 文本处理工具。
package util

import "strings"

// CompactOneLine 压缩为单行并按 rune 截断到 limit, 超出部分以 "…" 结尾。
// limit <= 0 表示不截断。
func CompactOneLine(text string, limit int) string {
	cleaned := strings.Join(strings.Fields(strings.TrimSpace(text)), " ")
	if cleaned == "" {
		return ""
	}
	if limit <= 0 {
		return cleaned
	}
	runes := []rune(cleaned)
	if len(runes) <= limit {
		return cleaned
	}
	if limit == 1 {
		return "…"
	}
	return string(runes[:limit-1]) + "…"
}

// FirstNonEmpty 返回第一个非空白字符串 (trim 后比较), 全空返回 ""。
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// TruncateRunes 按 rune 截断到 n, 不追加省略号。
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
