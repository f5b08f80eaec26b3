// Package textutil cleans free text typed by diners before it is stored on a team cart.
package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var strict = bluemonday.StrictPolicy()

// PlainText returns raw without markup or control characters (newlines survive), in NFC form
// and cut to at most limit runes. limit <= 0 means no cut.
func PlainText(raw string, limit int) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	text := norm.NFC.String(html.UnescapeString(strict.Sanitize(raw)))
	text = strings.Map(func(r rune) rune {
		if r != '\n' && unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	if limit > 0 {
		if runes := []rune(text); len(runes) > limit {
			text = string(runes[:limit])
		}
	}
	return strings.TrimSpace(text)
}
