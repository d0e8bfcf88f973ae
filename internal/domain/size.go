package domain

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	oneKilobyte = 1024
	oneMegabyte = oneKilobyte * 1024
	oneGigabyte = oneMegabyte * 1024
)

func FormatSize(bytes int64) string {
	if bytes < oneKilobyte {
		return fmt.Sprintf("%d B", bytes)
	}
	if bytes < oneMegabyte {
		return fmt.Sprintf("%.1f KB", float64(bytes)/oneKilobyte)
	}
	if bytes < oneGigabyte {
		return fmt.Sprintf("%.1f MB", float64(bytes)/oneMegabyte)
	}
	return fmt.Sprintf("%.1f GB", float64(bytes)/oneGigabyte)
}

// ParseSize reads a byte count reported by an external tool. Values may be
// integers or floats ("1.234e+06" from JSON numbers printed by Python).
func ParseSize(sizeStr string) int64 {
	sizeStr = strings.TrimSpace(sizeStr)
	if sizeStr == "" || sizeStr == "N/A" {
		return 0
	}
	if n, err := strconv.ParseInt(sizeStr, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(sizeStr, 64); err == nil && f > 0 {
		return int64(f)
	}
	return 0
}
