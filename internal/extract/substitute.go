package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/nl2sql"
)

var tokenPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*|[0-9]+)\}`)

// Substitute replaces {name} and {N} tokens in the template SQL with typed
// literals. A token already inside single quotes receives the bare text.
// Braces inside string literals that do not name a parameter are kept.
func Substitute(tpl nl2sql.QueryTemplate, values map[string]any) (string, error) {
	return SubstituteFor(tpl, values, "")
}

// SubstituteFor is Substitute with string escaping for dialect. MySQL treats
// backslash as an escape character inside literals, so it is doubled there.
func SubstituteFor(tpl nl2sql.QueryTemplate, values map[string]any, dialect string) (string, error) {
	q := quoter{backslashes: strings.EqualFold(dialect, "mysql")}
	source := tpl.SQL
	matches := tokenPattern.FindAllStringSubmatchIndex(source, -1)
	if len(matches) == 0 {
		return source, nil
	}

	var b strings.Builder
	b.Grow(len(source))
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		key := source[m[2]:m[3]]
		inQuotes := strings.Count(source[:start], "'")%2 == 1

		def, ok := lookupParameter(tpl, key)
		if !ok {
			if inQuotes {
				continue
			}
			return "", fmt.Errorf("template %q references unknown parameter %q", tpl.Name, key)
		}
		value, ok := values[def.Name]
		if !ok {
			return "", fmt.Errorf("parameter %q has no value", def.Name)
		}
		b.WriteString(source[last:start])
		b.WriteString(q.literal(def, value, inQuotes))
		last = end
	}
	b.WriteString(source[last:])
	return b.String(), nil
}

func lookupParameter(tpl nl2sql.QueryTemplate, key string) (nl2sql.ParameterDefinition, bool) {
	if index, err := strconv.Atoi(key); err == nil {
		if index < 0 || index >= len(tpl.Parameters) {
			return nl2sql.ParameterDefinition{}, false
		}
		return tpl.Parameters[index], true
	}
	return tpl.Parameter(key)
}

type quoter struct {
	backslashes bool
}

func (q quoter) literal(def nl2sql.ParameterDefinition, value any, inQuotes bool) string {
	switch v := value.(type) {
	case nil:
		if inQuotes {
			return ""
		}
		return "NULL"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		if _, err := v.Float64(); err == nil {
			return v.String()
		}
		return q.quote(v.String(), inQuotes)
	case time.Time:
		return q.quote(formatDate(inferType(def), v), inQuotes)
	case string:
		switch inferType(def) {
		case nl2sql.TypeInteger, nl2sql.TypeNumber:
			if _, err := strconv.ParseFloat(v, 64); err == nil {
				return v
			}
		case nl2sql.TypeBoolean:
			if parsed, err := strconv.ParseBool(v); err == nil && !inQuotes {
				return q.literal(def, parsed, false)
			}
		}
		return q.quote(v, inQuotes)
	default:
		return q.quote(fmt.Sprint(v), inQuotes)
	}
}

func (q quoter) quote(text string, inQuotes bool) string {
	escaped := text
	if q.backslashes {
		escaped = strings.ReplaceAll(escaped, `\`, `\\`)
	}
	escaped = strings.ReplaceAll(escaped, "'", "''")
	if inQuotes {
		return escaped
	}
	return "'" + escaped + "'"
}
