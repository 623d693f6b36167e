package extract

import (
	"strconv"
	"strings"
	"time"
)

// dateMatch is a date expression found in a token list.
type dateMatch struct {
	start, end int
	value      time.Time
}

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
}

var monthNames = map[string]time.Month{
	"january": time.January, "jan": time.January, "february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March, "april": time.April, "apr": time.April, "may": time.May,
	"june": time.June, "jun": time.June, "july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August, "september": time.September, "sep": time.September,
	"sept": time.September, "october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November, "december": time.December, "dec": time.December,
}

func unitOf(token string) (string, bool) {
	switch strings.TrimSuffix(token, "s") {
	case "day":
		return "day", true
	case "week":
		return "week", true
	case "month":
		return "month", true
	case "quarter":
		return "quarter", true
	case "year":
		return "year", true
	}
	return "", false
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func shift(now time.Time, unit string, n int) time.Time {
	switch unit {
	case "day":
		return now.AddDate(0, 0, n)
	case "week":
		return now.AddDate(0, 0, 7*n)
	case "month":
		return now.AddDate(0, n, 0)
	case "quarter":
		return now.AddDate(0, 3*n, 0)
	default:
		return now.AddDate(n, 0, 0)
	}
}

func startOf(now time.Time, unit string) time.Time {
	switch unit {
	case "week":
		offset := (int(now.Weekday()) + 6) % 7
		return now.AddDate(0, 0, -offset)
	case "month":
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	case "quarter":
		first := time.Month((int(now.Month())-1)/3*3 + 1)
		return time.Date(now.Year(), first, 1, 0, 0, 0, 0, now.Location())
	case "year":
		return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	default:
		return now
	}
}

func parseCount(token string) (int, bool) {
	if n, ok := numberWords[token]; ok {
		return n, true
	}
	n, err := strconv.Atoi(token)
	if err != nil || n < 0 || n > 10000 {
		return 0, false
	}
	return n, true
}

func parseISODate(token string) (time.Time, bool) {
	for _, layout := range []string{time.DateOnly, "2006/01/02", "2006.01.02"} {
		if parsed, err := time.Parse(layout, token); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// findDates scans tokens left to right for date expressions resolved against now.
func findDates(tokens []string, now time.Time) []dateMatch {
	today := truncateDay(now)
	matches := make([]dateMatch, 0, 2)
	for i := 0; i < len(tokens); {
		match, ok := dateAt(tokens, i, today)
		if !ok {
			i++
			continue
		}
		matches = append(matches, match)
		i = match.end
	}
	return matches
}

func dateAt(tokens []string, i int, today time.Time) (dateMatch, bool) {
	token := tokens[i]
	at := func(j int) string {
		if j < len(tokens) {
			return tokens[j]
		}
		return ""
	}

	if parsed, ok := parseISODate(token); ok {
		return dateMatch{start: i, end: i + 1, value: parsed}, true
	}
	switch token {
	case "today", "now":
		return dateMatch{start: i, end: i + 1, value: today}, true
	case "yesterday":
		return dateMatch{start: i, end: i + 1, value: today.AddDate(0, 0, -1)}, true
	case "last", "past", "previous", "prior":
		if unit, ok := unitOf(at(i + 1)); ok {
			return dateMatch{start: i, end: i + 2, value: shift(today, unit, -1)}, true
		}
		if n, ok := parseCount(at(i + 1)); ok {
			if unit, ok := unitOf(at(i + 2)); ok {
				return dateMatch{start: i, end: i + 3, value: shift(today, unit, -n)}, true
			}
		}
	case "this", "current":
		if unit, ok := unitOf(at(i + 1)); ok && unit != "day" {
			return dateMatch{start: i, end: i + 2, value: startOf(today, unit)}, true
		}
	case "beginning", "start":
		if at(i+1) == "of" && at(i+2) == "this" {
			if unit, ok := unitOf(at(i + 3)); ok {
				return dateMatch{start: i, end: i + 4, value: startOf(today, unit)}, true
			}
		}
	}
	if month, ok := monthNames[token]; ok {
		year := today.Year()
		end := i + 1
		if y, err := strconv.Atoi(at(i + 1)); err == nil && y >= 1900 && y <= 2200 {
			year = y
			end = i + 2
		} else if token == "may" || token == "mar" {
			// too common as plain words without a year
			return dateMatch{}, false
		} else if month > today.Month() {
			year--
		}
		return dateMatch{start: i, end: end, value: time.Date(year, month, 1, 0, 0, 0, 0, today.Location())}, true
	}
	if n, ok := parseCount(token); ok {
		if unit, ok := unitOf(at(i + 1)); ok && at(i+2) == "ago" {
			return dateMatch{start: i, end: i + 3, value: shift(today, unit, -n)}, true
		}
	}
	return dateMatch{}, false
}

// ResolveDate interprets a whole expression such as "last week" or
// "2024-01-31" as a date.
func ResolveDate(expression string, now time.Time) (time.Time, bool) {
	matches := findDates(Tokens(expression), now)
	if len(matches) == 0 {
		return time.Time{}, false
	}
	return matches[0].value, true
}
