package extract

import (
	"strconv"
	"strings"

	"github.com/querypilot/querypilot/internal/nl2sql"
)

var genericNameParts = map[string]struct{}{
	"id": {}, "no": {}, "num": {}, "number": {}, "the": {}, "of": {}, "code": {}, "value": {},
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "that": {}, "this": {}, "which": {},
	"value": {}, "values": {}, "filter": {}, "parameter": {}, "used": {}, "date": {}, "number": {},
	"identifier": {}, "optional": {}, "required": {}, "when": {}, "into": {},
}

var numberFillers = map[string]struct{}{
	"id": {}, "no": {}, "num": {}, "number": {}, "is": {}, "of": {}, "equals": {}, "nr": {}, "code": {},
}

// inferType falls back to the parameter name when no type is declared.
func inferType(def nl2sql.ParameterDefinition) nl2sql.ParameterType {
	if def.Type != "" {
		return def.Type
	}
	parts := nameParts(def.Name)
	has := func(words ...string) bool {
		for _, part := range parts {
			for _, word := range words {
				if part == word {
					return true
				}
			}
		}
		return false
	}
	switch {
	case has("date", "day", "since"):
		return nl2sql.TypeDate
	case has("timestamp", "datetime", "time"):
		return nl2sql.TypeDateTime
	case len(parts) > 0 && (parts[0] == "is" || parts[0] == "has"):
		return nl2sql.TypeBoolean
	case has("id", "count", "num", "qty", "quantity", "limit", "top", "year"):
		return nl2sql.TypeInteger
	case has("amount", "price", "total", "rate", "threshold"):
		return nl2sql.TypeNumber
	default:
		return nl2sql.TypeString
	}
}

func isEndParameter(def nl2sql.ParameterDefinition) bool {
	for _, part := range nameParts(def.Name) {
		switch part {
		case "end", "to", "until", "before", "latest", "max":
			return true
		}
	}
	return false
}

// keywordsFor collects the words that identify a parameter in text: its
// name parts, descriptive words and explicit keywords.
func keywordsFor(def nl2sql.ParameterDefinition) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 6)
	add := func(word string) {
		if _, ok := seen[word]; ok || word == "" {
			return
		}
		seen[word] = struct{}{}
		out = append(out, word)
	}
	parts := nameParts(def.Name)
	for _, part := range parts {
		if _, generic := genericNameParts[part]; !generic && len(part) >= 2 {
			add(Normalize(part))
		}
	}
	for _, word := range Tokens(def.Description) {
		if _, stop := stopWords[word]; !stop && len(word) >= 4 {
			add(word)
		}
	}
	for _, keyword := range def.Keywords {
		for _, word := range Tokens(keyword) {
			add(word)
		}
	}
	if len(out) == 0 {
		for _, part := range parts {
			add(part)
		}
	}
	return out
}

func keywordMatches(token, keyword string, threshold float64) bool {
	switch {
	case token == keyword:
		return true
	case len(keyword) >= 3 && strings.HasPrefix(token, keyword):
		return true
	case len(token) >= 3 && strings.HasPrefix(keyword, token):
		return true
	case len(token) >= 4 && len(keyword) >= 4:
		return Similarity(token, keyword) >= threshold
	}
	return false
}

func nearKeyword(tokens []string, index int, keywords []string, threshold float64) bool {
	check := func(j int) bool {
		if j < 0 || j >= len(tokens) {
			return false
		}
		for _, keyword := range keywords {
			if keywordMatches(tokens[j], keyword, threshold) {
				return true
			}
		}
		return false
	}
	left := index - 1
	for left >= 0 {
		if _, filler := numberFillers[tokens[left]]; !filler {
			break
		}
		left--
	}
	return check(left) || check(index+1)
}

func parseNumber(token string) (float64, bool) {
	cleaned := strings.ReplaceAll(token, ",", "")
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// numberNear returns the first unconsumed number next to a keyword.
func numberNear(tokens []string, consumed []bool, keywords []string, threshold float64) (int, float64, bool) {
	for i, token := range tokens {
		if consumed[i] {
			continue
		}
		value, ok := parseNumber(token)
		if !ok {
			continue
		}
		if nearKeyword(tokens, i, keywords, threshold) {
			return i, value, true
		}
	}
	return 0, 0, false
}

func boolNear(tokens []string, keywords []string, threshold float64) (bool, bool) {
	for i, token := range tokens {
		var value bool
		switch token {
		case "yes", "true":
			value = true
		case "no", "false", "not", "without":
			value = false
		default:
			continue
		}
		for j := i - 2; j <= i+2; j++ {
			if j == i || j < 0 || j >= len(tokens) {
				continue
			}
			for _, keyword := range keywords {
				if keywordMatches(tokens[j], keyword, threshold) {
					return value, true
				}
			}
		}
	}
	return false, false
}

// matchAllowed finds an allowed value in the query. An exact phrase wins,
// longest first; otherwise the best n-gram similarity at or above threshold.
// Candidates shorter than minLength are ignored as noise.
func matchAllowed(tokens []string, allowed []string, threshold float64, minLength int) (string, bool, bool) {
	joined := " " + strings.Join(tokens, " ") + " "
	bestExact, bestExactLen := "", 0
	for _, value := range allowed {
		normalized := Normalize(value)
		if len([]rune(normalized)) < minLength {
			continue
		}
		if strings.Contains(joined, " "+normalized+" ") && len(normalized) > bestExactLen {
			bestExact, bestExactLen = value, len(normalized)
		}
	}
	if bestExactLen > 0 {
		return bestExact, true, true
	}

	bestValue, bestScore := "", 0.0
	for _, value := range allowed {
		normalized := Normalize(value)
		if len([]rune(normalized)) < 4 {
			continue
		}
		width := len(strings.Fields(normalized))
		for size := width - 1; size <= width+1; size++ {
			if size < 1 || size > len(tokens) {
				continue
			}
			for start := 0; start+size <= len(tokens); start++ {
				candidate := strings.Join(tokens[start:start+size], " ")
				if len([]rune(candidate)) < minLength {
					continue
				}
				if score := Similarity(candidate, normalized); score > bestScore {
					bestValue, bestScore = value, score
				}
			}
		}
	}
	if bestScore >= threshold {
		return bestValue, false, true
	}
	return "", false, false
}

// snapAllowed maps a free-form value onto the closest allowed value.
func snapAllowed(value string, allowed []string, threshold float64) (string, bool) {
	normalized := Normalize(value)
	bestValue, bestScore := "", 0.0
	for _, candidate := range allowed {
		score := Similarity(normalized, Normalize(candidate))
		if score > bestScore {
			bestValue, bestScore = candidate, score
		}
	}
	if bestScore >= threshold {
		return bestValue, true
	}
	return "", false
}
