package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

var foldCaser = cases.Fold()

// Title produces a stable comparison form of an item title: case-folded,
// punctuation stripped, whitespace collapsed to single spaces.
func Title(s string) string {
	folded := foldCaser.String(s)

	// Punctuation and symbols become spaces, then runs collapse to one
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// URL produces a canonical form of a link: lowercased host, default ports and
// utm_* tracking parameters stripped, trailing slash removed. Returns an empty
// string on unparsable input.
func URL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}

	u.Host = strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	if u.RawQuery != "" {
		u.RawQuery = stripTrackingParams(u.RawQuery)
	}

	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	return u.String()
}

// stripTrackingParams drops utm_* parameters from a raw query string while
// keeping the remaining parameters in their original order and encoding.
func stripTrackingParams(rawQuery string) string {
	pairs := strings.Split(rawQuery, "&")
	kept := pairs[:0]
	for _, pair := range pairs {
		key, _, _ := strings.Cut(pair, "=")
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}

// Fingerprint returns a deterministic hash of the normalized title and URL.
// Two items with the same fingerprint are treated as identical content.
func Fingerprint(title, rawURL string) string {
	content := fmt.Sprintf("%s|%s", Title(title), URL(rawURL))

	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}
