package util

import (
	"strconv"
	"strings"
)

// QueryInt 解析正整数查询参数，失败或非正数时返回默认值
func QueryInt(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// SplitList 解析逗号分隔的参数，忽略空项
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
