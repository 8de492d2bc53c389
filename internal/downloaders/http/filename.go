package rangehttp

import (
	"net/http"
	"net/url"
	"strings"
)

const DefaultFilename = "download"

// ResolveFilename picks a destination name from Content-Disposition, then the
// last non-empty URL path segment, then DefaultFilename. It never returns an
// empty or path-like name.
func ResolveFilename(header http.Header, u *url.URL) string {
	if header != nil {
		if cd := header.Get("Content-Disposition"); cd != "" {
			if name := safeName(extendedFilename(cd)); name != "" {
				return name
			}
			if name := safeName(regularFilename(cd)); name != "" {
				return name
			}
		}
	}
	if u != nil {
		segments := strings.Split(u.EscapedPath(), "/")
		for i := len(segments) - 1; i >= 0; i-- {
			if segments[i] == "" {
				continue
			}
			decoded, err := url.PathUnescape(segments[i])
			if err != nil {
				decoded = segments[i]
			}
			if name := safeName(decoded); name != "" {
				return name
			}
			break
		}
	}
	return DefaultFilename
}

// extendedFilename handles RFC 5987 values: filename*=charset'lang'pct-encoded.
func extendedFilename(cd string) string {
	const prefix = "filename*="
	start := strings.Index(strings.ToLower(cd), prefix)
	if start < 0 {
		return ""
	}
	value := cd[start+len(prefix):]
	if end := strings.IndexByte(value, ';'); end >= 0 {
		value = value[:end]
	}
	value = strings.Trim(strings.TrimSpace(value), `"`)
	first := strings.IndexByte(value, '\'')
	if first < 0 {
		return ""
	}
	second := strings.IndexByte(value[first+1:], '\'')
	if second < 0 {
		return ""
	}
	charset := value[:first]
	encoded := value[first+1+second+1:]
	raw, err := url.PathUnescape(encoded)
	if err != nil {
		return ""
	}
	if strings.EqualFold(charset, "iso-8859-1") {
		runes := make([]rune, 0, len(raw))
		for i := 0; i < len(raw); i++ {
			runes = append(runes, rune(raw[i]))
		}
		return string(runes)
	}
	return raw
}

func regularFilename(cd string) string {
	lower := strings.ToLower(cd)
	start := -1
	for offset := 0; offset < len(lower); {
		i := strings.Index(lower[offset:], "filename=")
		if i < 0 {
			break
		}
		i += offset
		// skip matches inside another parameter name, e.g. "xfilename="
		if i == 0 || strings.ContainsRune("; \t", rune(lower[i-1])) {
			start = i
			break
		}
		offset = i + 1
	}
	if start < 0 {
		return ""
	}
	value := strings.TrimLeft(cd[start+len("filename="):], " \t")
	if strings.HasPrefix(value, `"`) {
		var b strings.Builder
		escaped := false
		for _, ch := range value[1:] {
			switch {
			case escaped:
				if ch != '"' && ch != '\\' {
					b.WriteRune('\\')
				}
				b.WriteRune(ch)
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				return b.String()
			default:
				b.WriteRune(ch)
			}
		}
		// unterminated quote
		return ""
	}
	if end := strings.IndexByte(value, ';'); end >= 0 {
		value = value[:end]
	}
	value = strings.TrimSpace(value)
	if decoded, err := url.PathUnescape(value); err == nil {
		return decoded
	}
	return value
}

// safeName strips directory components a server might smuggle in.
func safeName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "." || name == ".." {
		return ""
	}
	return name
}
