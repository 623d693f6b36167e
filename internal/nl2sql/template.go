package nl2sql

import (
	"fmt"
	"strings"
)

type ParameterType string

const (
	TypeString   ParameterType = "string"
	TypeInteger  ParameterType = "integer"
	TypeNumber   ParameterType = "number"
	TypeBoolean  ParameterType = "boolean"
	TypeDate     ParameterType = "date"
	TypeDateTime ParameterType = "datetime"
)

// QueryTemplate is a parameterized SQL statement matched to user questions.
// Tokens are written as {name} or positionally as {0}, {1}, ... (index into Parameters).
type QueryTemplate struct {
	Name        string                `json:"name" yaml:"name"`
	Description string                `json:"description" yaml:"description"`
	Questions   []string              `json:"questions,omitempty" yaml:"questions"`
	SQL         string                `json:"sql" yaml:"sql"`
	Parameters  []ParameterDefinition `json:"parameters" yaml:"parameters"`
}

type ParameterDefinition struct {
	Name         string               `json:"name" yaml:"name"`
	Description  string               `json:"description,omitempty" yaml:"description"`
	Type         ParameterType        `json:"type,omitempty" yaml:"type"`
	Required     bool                 `json:"required" yaml:"required"`
	AskIfMissing bool                 `json:"ask_if_missing" yaml:"ask_if_missing"`
	DefaultValue any                  `json:"default_value,omitempty" yaml:"default_value"`
	Keywords     []string             `json:"keywords,omitempty" yaml:"keywords"`
	Validation   *ParameterValidation `json:"validation,omitempty" yaml:"validation"`
}

type ParameterValidation struct {
	AllowedValues []string      `json:"allowed_values,omitempty" yaml:"allowed_values"`
	Min           *float64      `json:"min,omitempty" yaml:"min"`
	Max           *float64      `json:"max,omitempty" yaml:"max"`
	MinLength     int           `json:"min_length,omitempty" yaml:"min_length"`
	MaxLength     int           `json:"max_length,omitempty" yaml:"max_length"`
	Pattern       string        `json:"pattern,omitempty" yaml:"pattern"`
	ValuesSource  *ValuesSource `json:"values_source,omitempty" yaml:"values_source"`
	Hint          string        `json:"hint,omitempty" yaml:"hint"`
}

// ValuesSource names a column whose distinct values are the allowed values of a parameter.
type ValuesSource struct {
	Table  string `json:"table" yaml:"table"`
	Column string `json:"column" yaml:"column"`
}

func (d ParameterDefinition) EffectiveType() ParameterType {
	if d.Type == "" {
		return TypeString
	}
	return d.Type
}

func (d ParameterDefinition) HasDefault() bool {
	return d.DefaultValue != nil
}

// ValidationHint describes the accepted shape of a value for clarification prompts.
func (d ParameterDefinition) ValidationHint() string {
	parts := make([]string, 0, 4)
	if d.Validation != nil && strings.TrimSpace(d.Validation.Hint) != "" {
		parts = append(parts, strings.TrimSpace(d.Validation.Hint))
	}
	switch d.EffectiveType() {
	case TypeDate:
		parts = append(parts, "a date such as 2024-01-31 or 'last week'")
	case TypeDateTime:
		parts = append(parts, "a timestamp such as 2024-01-31T10:00:00Z")
	case TypeInteger:
		parts = append(parts, "a whole number")
	case TypeNumber:
		parts = append(parts, "a number")
	case TypeBoolean:
		parts = append(parts, "yes or no")
	}
	if d.Validation != nil {
		if len(d.Validation.AllowedValues) > 0 {
			parts = append(parts, "one of: "+strings.Join(d.Validation.AllowedValues, ", "))
		}
		if d.Validation.Min != nil && d.Validation.Max != nil {
			parts = append(parts, fmt.Sprintf("between %v and %v", *d.Validation.Min, *d.Validation.Max))
		}
	}
	if d.HasDefault() {
		parts = append(parts, fmt.Sprintf("default %v", d.DefaultValue))
	}
	return strings.Join(parts, "; ")
}

// Validate checks the structural invariants of a template.
func (t QueryTemplate) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("template name is required")
	}
	if strings.TrimSpace(t.SQL) == "" {
		return fmt.Errorf("template %q: sql is required", t.Name)
	}
	seen := make(map[string]struct{}, len(t.Parameters))
	for _, param := range t.Parameters {
		name := strings.TrimSpace(param.Name)
		if name == "" {
			return fmt.Errorf("template %q: parameter name is required", t.Name)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("template %q: duplicate parameter %q", t.Name, name)
		}
		seen[name] = struct{}{}
		switch param.EffectiveType() {
		case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeDate, TypeDateTime:
		default:
			return fmt.Errorf("template %q: parameter %q has unsupported type %q", t.Name, name, param.Type)
		}
	}
	return nil
}

func (t QueryTemplate) Parameter(name string) (ParameterDefinition, bool) {
	for _, param := range t.Parameters {
		if param.Name == name {
			return param, true
		}
	}
	return ParameterDefinition{}, false
}
