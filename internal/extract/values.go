package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/query"
)

// AllowedValuesProvider returns the canonical values a parameter may take.
// An empty result means the parameter has no closed value set.
type AllowedValuesProvider interface {
	AllowedValues(ctx context.Context, def nl2sql.ParameterDefinition) ([]string, error)
}

// StaticValues serves the allowed values declared on the parameter.
type StaticValues struct{}

func (StaticValues) AllowedValues(_ context.Context, def nl2sql.ParameterDefinition) ([]string, error) {
	if def.Validation == nil {
		return nil, nil
	}
	return def.Validation.AllowedValues, nil
}

// QueryRunner is the execution capability used for value lookups.
type QueryRunner interface {
	RunWithLimit(ctx context.Context, sql string, rowLimit int) query.ExecutionResult
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// SQLValues looks up distinct column values named by a parameter's
// values_source, caching each column for ttl.
type SQLValues struct {
	runner QueryRunner
	ttl    time.Duration
	limit  int
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cachedValues
}

type cachedValues struct {
	values  []string
	expires time.Time
}

func NewSQLValues(runner QueryRunner, ttl time.Duration, limit int) *SQLValues {
	if limit <= 0 {
		limit = 500
	}
	return &SQLValues{runner: runner, ttl: ttl, limit: limit, now: time.Now, entries: map[string]cachedValues{}}
}

func (p *SQLValues) AllowedValues(ctx context.Context, def nl2sql.ParameterDefinition) ([]string, error) {
	if def.Validation == nil || def.Validation.ValuesSource == nil {
		return nil, nil
	}
	source := def.Validation.ValuesSource
	if !identifierPattern.MatchString(source.Table) || !identifierPattern.MatchString(source.Column) || strings.Contains(source.Column, ".") {
		return nil, fmt.Errorf("invalid values source %s.%s", source.Table, source.Column)
	}
	key := strings.ToLower(source.Table + "." + source.Column)

	p.mu.Lock()
	entry, ok := p.entries[key]
	p.mu.Unlock()
	if ok && p.now().Before(entry.expires) {
		return entry.values, nil
	}

	sql := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL", source.Column, source.Table, source.Column)
	result := p.runner.RunWithLimit(ctx, sql, p.limit)
	if !result.Success {
		message := "unknown error"
		if result.Error != nil {
			message = *result.Error
		}
		return nil, fmt.Errorf("lookup values for %s: %s", key, message)
	}
	values := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		if value, ok := row[source.Column]; ok && value != nil {
			values = append(values, fmt.Sprint(value))
			continue
		}
		for _, value := range row {
			if value != nil {
				values = append(values, fmt.Sprint(value))
			}
			break
		}
	}

	p.mu.Lock()
	p.entries[key] = cachedValues{values: values, expires: p.now().Add(p.ttl)}
	p.mu.Unlock()
	return values, nil
}

// ChainValues returns the first non-empty value set among providers.
type ChainValues []AllowedValuesProvider

func (c ChainValues) AllowedValues(ctx context.Context, def nl2sql.ParameterDefinition) ([]string, error) {
	var firstErr error
	for _, provider := range c {
		values, err := provider.AllowedValues(ctx, def)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(values) > 0 {
			return values, nil
		}
	}
	return nil, firstErr
}
