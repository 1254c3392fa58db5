// Package textutil normalises user and partner supplied text.
package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	strictPolicy  = bluemonday.StrictPolicy()
	apostrophes   = strings.NewReplacer("\u2019", "'", "\u2018", "'", "\u02bc", "'")
	angleBrackets = strings.NewReplacer("<", "", ">", "")
)

// Fold lower-cases s, strips diacritics and collapses whitespace, so that
// "Livré  au Destinataire" and "livre au destinataire" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, apostrophes.Replace(s))
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// SanitizeText strips markup from free text and trims it to limit runes. A limit <= 0 disables truncation.
// Entity-encoded markup is decoded before sanitising, and no angle bracket survives in the result.
func SanitizeText(s string, limit int) string {
	cleaned := strictPolicy.Sanitize(html.UnescapeString(s))
	cleaned = strings.TrimSpace(angleBrackets.Replace(html.UnescapeString(cleaned)))
	if limit > 0 {
		if r := []rune(cleaned); len(r) > limit {
			cleaned = strings.TrimSpace(string(r[:limit]))
		}
	}
	return cleaned
}

// NormalizeStringMap trims keys and values, dropping entries with empty keys. Lookups on the
// result are case-sensitive.
func NormalizeStringMap(values map[string]string) map[string]string {
	result := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		result[key] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
