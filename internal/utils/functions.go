package utils

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
)

func GetRandomUserAgent() string {
	return userAgents[rand.IntN(len(userAgents))]
}

// RenewOutputPath returns the first free "name-(n).ext" sibling of outputPath.
func RenewOutputPath(outputPath string) string {
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	index := 1
	for {
		outputPath = filepath.Join(dir, fmt.Sprintf("%s-(%d)%s", name, index, ext))
		if _, err := os.Stat(outputPath); os.IsNotExist(err) {
			return outputPath
		}
		index++
	}
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatSpeed renders a byte rate the way progress consumers expect it ("12.34MB/s").
func FormatSpeed(bytesPerSec float64) string {
	if bytesPerSec < 0 {
		bytesPerSec = 0
	}
	return fmt.Sprintf("%.2fMB/s", bytesPerSec/(1024*1024))
}

// FormatPercent renders done/total with one decimal, clamped to 100.
// An unknown total yields an empty string.
func FormatPercent(done, total int64) (string, float64) {
	if total <= 0 {
		return "", -1
	}
	pct := float64(done) / float64(total) * 100
	pct = max(0, min(pct, 100))
	return fmt.Sprintf("%.1f%%", pct), pct
}
