package utils

import "strings"

// IsAddress 校验 0x 开头、40 位十六进制的地址形状
// 上游 UI 已做过类型校验，这里是核心自己的兜底
func IsAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for i := 2; i < len(s); i++ {
		c := s[i]
		ok := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
		if !ok {
			return false
		}
	}
	return true
}
