package utils

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestRenewOutputPath(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "video.mp4")
	if got, want := RenewOutputPath(base), filepath.Join(dir, "video-(1).mp4"); got != want {
		t.Errorf("RenewOutputPath = %s, want %s", got, want)
	}
	if err := os.WriteFile(filepath.Join(dir, "video-(1).mp4"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	if got, want := RenewOutputPath(base), filepath.Join(dir, "video-(2).mp4"); got != want {
		t.Errorf("RenewOutputPath = %s, want %s", got, want)
	}
}

func TestParseHeaderArgs(t *testing.T) {
	got := ParseHeaderArgs([]string{"Authorization: Bearer a:b", "X-Empty:", "malformed"})
	if got["Authorization"] != "Bearer a:b" {
		t.Errorf("Authorization = %q", got["Authorization"])
	}
	if v, ok := got["X-Empty"]; !ok || v != "" {
		t.Errorf("X-Empty = %q, %v", v, ok)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 headers, got %v", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[uint64]string{
		512:                    "512 B",
		1024:                   "1.00 KB",
		1536:                   "1.50 KB",
		1024 * 1024 * 5:        "5.00 MB",
		1024 * 1024 * 1024 * 2: "2.00 GB",
	}
	for in, want := range tests {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d) = %s, want %s", in, got, want)
		}
	}
}

func TestFormatSpeed(t *testing.T) {
	if got := FormatSpeed(1.5 * 1024 * 1024); got != "1.50MB/s" {
		t.Errorf("FormatSpeed = %s", got)
	}
	if got := FormatSpeed(-10); got != "0.00MB/s" {
		t.Errorf("negative speed = %s", got)
	}
}

func TestFormatPercent(t *testing.T) {
	tests := []struct {
		done, total int64
		want        string
		pct         float64
	}{
		{0, 200, "0.0%", 0},
		{50, 200, "25.0%", 25},
		{250, 200, "100.0%", 100},
		{10, 0, "", -1},
	}
	for _, tt := range tests {
		got, pct := FormatPercent(tt.done, tt.total)
		if got != tt.want || pct != tt.pct {
			t.Errorf("FormatPercent(%d, %d) = %q, %v want %q, %v", tt.done, tt.total, got, pct, tt.want, tt.pct)
		}
	}
}

func TestGetRandomUserAgent(t *testing.T) {
	for range 20 {
		if ua := GetRandomUserAgent(); !slices.Contains(userAgents, ua) {
			t.Fatalf("unexpected user agent %q", ua)
		}
	}
}
