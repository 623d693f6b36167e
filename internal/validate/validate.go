// Package validate checks extracted parameter values against their rules.
// Everything here is pure.
package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/nl2sql"
)

type Result struct {
	Name   string `json:"name"`
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
	// Value is the coerced value when Valid.
	Value any `json:"value,omitempty"`
}

type Summary struct {
	Valid    bool     `json:"valid"`
	Results  []Result `json:"results"`
	Failures []Result `json:"failures"`
}

// All validates every parameter of the draft that has a value. Parameters the
// draft does not mention are skipped.
func All(draft nl2sql.SQLDraft) Summary {
	summary := Summary{Valid: true, Results: []Result{}, Failures: []Result{}}
	for _, def := range draft.ParameterDefinitions {
		value, ok := draft.ExtractedParameters[def.Name]
		if !ok {
			continue
		}
		result := Parameter(def, value)
		summary.Results = append(summary.Results, result)
		if !result.Valid {
			summary.Valid = false
			summary.Failures = append(summary.Failures, result)
		}
	}
	return summary
}

func Parameter(def nl2sql.ParameterDefinition, value any) Result {
	if value == nil {
		if def.Required && !def.HasDefault() {
			return fail(def, "value is required")
		}
		return Result{Name: def.Name, Valid: true}
	}

	coerced, err := Coerce(def.EffectiveType(), value)
	if err != nil {
		return fail(def, err.Error())
	}
	if def.Validation == nil {
		return Result{Name: def.Name, Valid: true, Value: coerced}
	}
	rule := def.Validation

	if number, ok := asFloat(coerced); ok {
		if rule.Min != nil && number < *rule.Min {
			return fail(def, fmt.Sprintf("%v is below minimum %v", coerced, *rule.Min))
		}
		if rule.Max != nil && number > *rule.Max {
			return fail(def, fmt.Sprintf("%v is above maximum %v", coerced, *rule.Max))
		}
	}

	if text, ok := coerced.(string); ok {
		length := len([]rune(text))
		if rule.MinLength > 0 && length < rule.MinLength {
			return fail(def, fmt.Sprintf("length %d is shorter than %d", length, rule.MinLength))
		}
		if rule.MaxLength > 0 && length > rule.MaxLength {
			return fail(def, fmt.Sprintf("length %d is longer than %d", length, rule.MaxLength))
		}
		if rule.Pattern != "" {
			re, err := regexp.Compile(rule.Pattern)
			if err != nil {
				return fail(def, fmt.Sprintf("invalid pattern %q: %v", rule.Pattern, err))
			}
			if !re.MatchString(text) {
				return fail(def, fmt.Sprintf("%q does not match pattern %s", text, rule.Pattern))
			}
		}
	}

	if len(rule.AllowedValues) > 0 {
		canonical, ok := matchAllowed(rule.AllowedValues, coerced)
		if !ok {
			return fail(def, fmt.Sprintf("%v is not one of %s", coerced, strings.Join(rule.AllowedValues, ", ")))
		}
		if _, isString := coerced.(string); isString {
			coerced = canonical
		}
	}
	return Result{Name: def.Name, Valid: true, Value: coerced}
}

func fail(def nl2sql.ParameterDefinition, reason string) Result {
	return Result{Name: def.Name, Valid: false, Reason: reason}
}

func matchAllowed(allowed []string, value any) (string, bool) {
	text := strings.TrimSpace(fmt.Sprint(value))
	for _, candidate := range allowed {
		if strings.EqualFold(strings.TrimSpace(candidate), text) {
			return candidate, true
		}
	}
	return "", false
}

// Coerce converts value to the Go representation of typ: int64, float64,
// bool, string, or a time.Time for date and datetime.
func Coerce(typ nl2sql.ParameterType, value any) (any, error) {
	switch typ {
	case nl2sql.TypeInteger:
		return coerceInteger(value)
	case nl2sql.TypeNumber:
		return coerceNumber(value)
	case nl2sql.TypeBoolean:
		return coerceBoolean(value)
	case nl2sql.TypeDate:
		return coerceTime(value, []string{time.DateOnly, "2006/01/02", time.RFC3339}, true)
	case nl2sql.TypeDateTime:
		return coerceTime(value, []string{time.RFC3339, time.DateTime, "2006-01-02T15:04:05", time.DateOnly}, false)
	default:
		switch v := value.(type) {
		case string:
			return v, nil
		case time.Time:
			return v.Format(time.DateOnly), nil
		default:
			return fmt.Sprint(v), nil
		}
	}
}

func coerceInteger(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("%v is not a whole number", v)
		}
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("%q is not a whole number", v.String())
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(v), ",", ""), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a whole number", v)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%v (%T) is not a whole number", value, value)
	}
}

func coerceNumber(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", v.String())
		}
		return n, nil
	case string:
		n, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", ""), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", v)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%v (%T) is not a number", value, value)
	}
}

func coerceBoolean(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "1", "on":
			return true, nil
		case "false", "no", "n", "0", "off":
			return false, nil
		}
		return nil, fmt.Errorf("%q is not yes or no", v)
	default:
		return nil, fmt.Errorf("%v (%T) is not yes or no", value, value)
	}
}

func coerceTime(value any, layouts []string, dateOnly bool) (any, error) {
	switch v := value.(type) {
	case time.Time:
		if dateOnly {
			return time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC), nil
		}
		return v, nil
	case string:
		text := strings.TrimSpace(v)
		for _, layout := range layouts {
			parsed, err := time.Parse(layout, text)
			if err != nil {
				continue
			}
			if dateOnly {
				return time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC), nil
			}
			return parsed, nil
		}
		if dateOnly {
			return nil, fmt.Errorf("%q is not a date (YYYY-MM-DD)", v)
		}
		return nil, fmt.Errorf("%q is not a timestamp", v)
	default:
		return nil, fmt.Errorf("%v (%T) is not a date", value, value)
	}
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
