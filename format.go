package main

import (
	"strconv"
	"strings"
)

// FormatReport 將報表轉為後端收集器使用的文字格式
//
// 每個區塊一行:
//
//	\n(addr, count): ReadRegisterResponse (count): [v1, v2, ...]
func FormatReport(report Report) string {
	var b strings.Builder
	for _, r := range report.Readings {
		count := strconv.Itoa(int(r.Count))

		b.WriteString("\n(")
		b.WriteString(strconv.Itoa(int(r.Address)))
		b.WriteString(", ")
		b.WriteString(count)
		b.WriteString("): ReadRegisterResponse (")
		b.WriteString(count)
		b.WriteString("): [")
		for i, v := range r.Values {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(strconv.Itoa(int(v)))
		}
		b.WriteByte(']')
	}
	return b.String()
}
