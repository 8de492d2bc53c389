package rangehttp

import (
	"net/http"
	"net/url"
	"testing"
)

func TestResolveFilename(t *testing.T) {
	tests := []struct {
		name        string
		disposition string
		rawURL      string
		want        string
	}{
		{"extended utf-8", `attachment; filename*=UTF-8''r%C3%A9sum%C3%A9.pdf`, "https://example.com/x", "résumé.pdf"},
		{"extended wins over regular", `attachment; filename="plain.txt"; filename*=UTF-8''fancy%20name.txt`, "https://example.com/x", "fancy name.txt"},
		{"extended latin-1", `attachment; filename*=iso-8859-1'en'caf%E9.txt`, "https://example.com/x", "café.txt"},
		{"quoted", `attachment; filename="report 2024.csv"`, "https://example.com/x", "report 2024.csv"},
		{"quoted with escapes", `attachment; filename="say \"hi\".txt"`, "https://example.com/x", `say "hi".txt`},
		{"unquoted", `attachment; filename=data.bin; size=10`, "https://example.com/x", "data.bin"},
		{"unquoted percent-encoded", `attachment; filename=my%20file.zip`, "https://example.com/x", "my file.zip"},
		{"duplicate parameter keeps first", `attachment; filename="first.txt"; filename="second.txt"`, "https://example.com/x", "first.txt"},
		{"path traversal stripped", `attachment; filename="../../etc/passwd"`, "https://example.com/x", "passwd"},
		{"unterminated quote falls back to url", `attachment; filename="broken`, "https://example.com/files/fallback.iso", "fallback.iso"},
		{"url last segment", "", "https://example.com/a/b/archive.tar.gz?token=1", "archive.tar.gz"},
		{"url trailing slash", "", "https://example.com/a/b/", "b"},
		{"url percent-encoded", "", "https://example.com/my%20video.mp4", "my video.mp4"},
		{"bare host", "", "https://example.com", DefaultFilename},
		{"bare host with slash", "", "https://example.com/", DefaultFilename},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.rawURL)
			if err != nil {
				t.Fatalf("parse %q: %v", tt.rawURL, err)
			}
			header := http.Header{}
			if tt.disposition != "" {
				header.Set("Content-Disposition", tt.disposition)
			}
			if got := ResolveFilename(header, u); got != tt.want {
				t.Errorf("ResolveFilename() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveFilenameNilInputs(t *testing.T) {
	if got := ResolveFilename(nil, nil); got != DefaultFilename {
		t.Errorf("ResolveFilename(nil, nil) = %q, want %q", got, DefaultFilename)
	}
}
