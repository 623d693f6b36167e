// Package sqlguard statically checks that SQL is a single read-only query.
package sqlguard

import (
	"fmt"
	"strings"
)

type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
	// Statement is the query without comments and without a trailing semicolon.
	Statement string `json:"statement,omitempty"`
}

func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("sql rejected: %s", r.Reason)
}

var disallowed = map[string]struct{}{
	"insert": {}, "update": {}, "delete": {}, "merge": {}, "drop": {}, "alter": {},
	"create": {}, "truncate": {}, "grant": {}, "revoke": {}, "exec": {}, "execute": {},
	"call": {}, "into": {}, "attach": {}, "detach": {}, "copy": {}, "pragma": {},
	"load": {}, "install": {}, "set": {}, "use": {},
}

// Validate accepts exactly one SELECT or WITH statement. A trailing semicolon
// is allowed. Keywords inside string literals and quoted identifiers are ignored.
//
// Literals are scanned twice: with doubled-quote escapes only (standard SQL)
// and with backslash escapes as well (MySQL, Postgres E-prefixed strings). Text the
// two readings split differently is rejected.
func Validate(sql string) Result {
	clean, masked, err := scrub(sql, false)
	if err != nil {
		return reject(err.Error())
	}
	_, escaped, err := scrub(sql, true)
	if err != nil {
		return reject("ambiguous backslash escape: " + err.Error())
	}
	if escaped != masked {
		return reject("ambiguous backslash escape in quoted text")
	}

	start, end, count := 0, 0, 0
	offset := 0
	for _, segment := range strings.Split(masked, ";") {
		if strings.TrimSpace(segment) != "" {
			count++
			start, end = offset, offset+len(segment)
		}
		offset += len(segment) + 1
	}
	switch {
	case count == 0:
		return reject("empty query")
	case count > 1:
		return reject("multiple statements are not allowed")
	}

	words := splitWords(masked[start:end])
	if len(words) == 0 {
		return reject("query has no keywords")
	}
	if first := words[0]; first != "select" && first != "with" {
		return reject(fmt.Sprintf("only SELECT queries are allowed, got %s", strings.ToUpper(first)))
	}
	for _, word := range words {
		if _, ok := disallowed[word]; ok {
			return reject(fmt.Sprintf("disallowed keyword %s", strings.ToUpper(word)))
		}
		if strings.HasPrefix(word, "xp_") || strings.HasPrefix(word, "sp_") {
			return reject(fmt.Sprintf("stored procedure %s is not allowed", word))
		}
	}
	return Result{Valid: true, Statement: strings.TrimSpace(clean[start:end])}
}

func reject(reason string) Result {
	return Result{Valid: false, Reason: reason}
}

// scrub removes comments and returns two strings of equal length: clean keeps
// literals intact, masked blanks the inside of literals and quoted identifiers.
// With backslashes set, a backslash inside '...' or "..." escapes the next byte.
func scrub(sql string, backslashes bool) (string, string, error) {
	var clean, masked strings.Builder
	clean.Grow(len(sql))
	masked.Grow(len(sql))

	for i := 0; i < len(sql); {
		c := sql[i]
		switch {
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			clean.WriteByte(' ')
			masked.WriteByte(' ')
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			closing := strings.Index(sql[i+2:], "*/")
			if closing < 0 {
				return "", "", fmt.Errorf("unterminated block comment")
			}
			i += closing + 4
			clean.WriteByte(' ')
			masked.WriteByte(' ')
		case c == '\'' || c == '"' || c == '`' || c == '[':
			closer := c
			if c == '[' {
				closer = ']'
			}
			j := i + 1
			for {
				if j >= len(sql) {
					return "", "", fmt.Errorf("unterminated quoted text")
				}
				if backslashes && sql[j] == '\\' && (closer == '\'' || closer == '"') {
					j += 2
					continue
				}
				if sql[j] == closer {
					if closer != ']' && j+1 < len(sql) && sql[j+1] == closer {
						j += 2
						continue
					}
					break
				}
				j++
			}
			clean.WriteString(sql[i : j+1])
			masked.WriteByte(c)
			masked.WriteString(strings.Repeat(" ", j-i-1))
			masked.WriteByte(closer)
			i = j + 1
		default:
			clean.WriteByte(c)
			masked.WriteByte(c)
			i++
		}
	}
	return clean.String(), masked.String(), nil
}

func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
	})
}
