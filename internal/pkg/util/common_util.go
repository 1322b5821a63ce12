package util

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Preview 截取消息预览，按 rune 截断避免切坏多字节字符
func Preview(content string, max int) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= max {
		return content
	}
	runes := []rune(content)
	return string(runes[:max]) + "…"
}

// ClampPage 规范化分页参数
func ClampPage(page, pageSize, defaultSize, maxSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultSize
	}
	if pageSize > maxSize {
		pageSize = maxSize
	}
	return page, pageSize
}

// FormatUID uint64 用户 ID 转字符串
func FormatUID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
