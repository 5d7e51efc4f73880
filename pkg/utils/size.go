package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatBytes renders a byte count with a binary unit ("1.5 GB").
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// ParseSize converts "512", "10K", "1.5G" or "2TB" into bytes. Suffixes are
// binary and case-insensitive; a trailing B is optional.
func ParseSize(value string) (int64, error) {
	value = strings.ToUpper(strings.TrimSpace(value))
	if value == "" {
		return 0, fmt.Errorf("missing size value")
	}
	value = strings.TrimSuffix(value, "B")

	multiplier := float64(1)
	if value != "" {
		switch value[len(value)-1] {
		case 'K':
			multiplier = 1 << 10
		case 'M':
			multiplier = 1 << 20
		case 'G':
			multiplier = 1 << 30
		case 'T':
			multiplier = 1 << 40
		}
		if multiplier > 1 {
			value = strings.TrimSpace(value[:len(value)-1])
		}
	}
	if value == "" {
		return 0, fmt.Errorf("missing numeric value")
	}

	num, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", value, err)
	}
	if num < 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	return int64(num * multiplier), nil
}
