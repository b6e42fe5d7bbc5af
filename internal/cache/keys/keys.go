package keys

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// LayerKey derives a stable, redis-safe key for a dataset URL. The readable part is a
// sanitized host+path; the hash covers the full URL including the query.
func LayerKey(rawURL string) string {
	norm := normalizeURL(rawURL)
	readable := sanitizeForKey(readablePart(norm))

	const maxReadableLen = 120
	if len(readable) > maxReadableLen {
		readable = readable[len(readable)-maxReadableLen:]
	}

	sum := xxhash.Sum64String(norm)
	return fmt.Sprintf("layer:%s:u=%016x", readable, sum)
}

// lower-cases scheme and host, sorts the query; path case is significant
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = u.Query().Encode()
	u.Fragment = ""
	return u.String()
}

func readablePart(norm string) string {
	u, err := url.Parse(norm)
	if err != nil || u.Host == "" {
		return norm
	}
	return u.Host + u.Path
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// separators and any other rune (including non-ASCII) become '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
