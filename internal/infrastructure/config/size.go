package configinfra

import (
	"fmt"
	"strings"
)

// ParseSize converts strings like "512", "64KB", "16MB" or "1GB" to bytes
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))

	// Handle different units
	var multiplier int64 = 1
	if strings.HasSuffix(sizeStr, "KB") {
		multiplier = 1024
		sizeStr = strings.TrimSuffix(sizeStr, "KB")
	} else if strings.HasSuffix(sizeStr, "MB") {
		multiplier = 1024 * 1024
		sizeStr = strings.TrimSuffix(sizeStr, "MB")
	} else if strings.HasSuffix(sizeStr, "GB") {
		multiplier = 1024 * 1024 * 1024
		sizeStr = strings.TrimSuffix(sizeStr, "GB")
	} else if strings.HasSuffix(sizeStr, "B") {
		sizeStr = strings.TrimSuffix(sizeStr, "B")
	}

	sizeStr = strings.TrimSpace(sizeStr)

	// Parse the numeric part
	var size int64
	var rest string
	if n, _ := fmt.Sscanf(sizeStr, "%d%s", &size, &rest); n < 1 || rest != "" {
		return 0, fmt.Errorf("invalid size format: %s", sizeStr)
	}
	if size < 0 {
		return 0, fmt.Errorf("size cannot be negative: %d", size)
	}

	return size * multiplier, nil
}
