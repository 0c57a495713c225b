package source

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultLocalKeywords marks content relevant to the home audience.
var DefaultLocalKeywords = []string{
	"turkey", "türkiye", "istanbul", "ankara", "izmir",
	"turkish", "türk", "erdogan", "akp", "chp",
}

// Locality decides whether a piece of text concerns the configured home
// audience. Matching is case- and diacritic-insensitive.
type Locality struct {
	keywords []string
}

// NewLocality creates a matcher. An empty keyword list falls back to
// DefaultLocalKeywords.
func NewLocality(keywords []string) *Locality {
	if len(keywords) == 0 {
		keywords = DefaultLocalKeywords
	}
	l := &Locality{}
	for _, kw := range keywords {
		kw = fold(kw)
		if kw != "" {
			l.keywords = append(l.keywords, kw)
		}
	}
	return l
}

// Matches reports whether any of the texts contains a local keyword.
func (l *Locality) Matches(texts ...string) bool {
	if l == nil {
		return false
	}
	folded := fold(strings.Join(texts, " "))
	for _, kw := range l.keywords {
		if strings.Contains(folded, kw) {
			return true
		}
	}
	return false
}

// fold lower-cases s and strips combining marks, so "TÜRKİYE" and
// "turkiye" compare equal.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}
