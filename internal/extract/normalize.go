package extract

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Normalize decomposes text, drops diacritics, folds case, replaces
// punctuation with spaces and collapses whitespace. Punctuation between two
// digits is kept so dates and decimals survive.
func Normalize(text string) string {
	stripper := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(stripper, text)
	if err != nil {
		stripped = text
	}
	folded := folder.String(stripped)

	source := []rune(folded)
	out := make([]rune, 0, len(source))
	for i, r := range source {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			out = append(out, r)
		case r == '_':
			out = append(out, r)
		case (r == '-' || r == '/' || r == '.' || r == ':' || r == ',') &&
			i > 0 && i+1 < len(source) && unicode.IsDigit(source[i-1]) && unicode.IsDigit(source[i+1]):
			out = append(out, r)
		default:
			out = append(out, ' ')
		}
	}
	return strings.Join(strings.Fields(string(out)), " ")
}

// Tokens splits normalized text into words.
func Tokens(text string) []string {
	return strings.Fields(Normalize(text))
}

// Similarity is one minus the Levenshtein distance divided by the longer length.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// nameParts splits identifiers like cust_id or CustomerID into lower-case words.
func nameParts(name string) []string {
	parts := make([]string, 0, 3)
	var current []rune
	flush := func() {
		if len(current) > 0 {
			parts = append(parts, strings.ToLower(string(current)))
			current = current[:0]
		}
	}
	source := []rune(name)
	for i, r := range source {
		switch {
		case r == '_' || r == '-' || r == ' ' || r == '.':
			flush()
		case unicode.IsUpper(r) && i > 0 && (unicode.IsLower(source[i-1]) ||
			(i+1 < len(source) && unicode.IsLower(source[i+1]) && unicode.IsUpper(source[i-1]))):
			flush()
			current = append(current, r)
		default:
			current = append(current, r)
		}
	}
	flush()
	return parts
}
