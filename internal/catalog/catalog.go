// Package catalog describes the tables of the target database so the query
// builder can write SQL against them.
package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("catalog: not found")

type Column struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Nullable    bool   `json:"nullable" yaml:"nullable"`
	Description string `json:"description,omitempty" yaml:"description"`
}

type TableMetadata struct {
	Name        string   `json:"name" yaml:"name"`
	Schema      string   `json:"schema,omitempty" yaml:"schema"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Columns     []Column `json:"columns" yaml:"columns"`
}

func (t TableMetadata) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

type Provider interface {
	ListTables(ctx context.Context) ([]TableMetadata, error)
}

// StaticProvider serves table metadata declared in the catalog file.
type StaticProvider struct {
	tables []TableMetadata
}

func NewStaticProvider(tables []TableMetadata) *StaticProvider {
	copied := make([]TableMetadata, len(tables))
	copy(copied, tables)
	return &StaticProvider{tables: copied}
}

func (p *StaticProvider) ListTables(context.Context) ([]TableMetadata, error) {
	out := make([]TableMetadata, len(p.tables))
	copy(out, p.tables)
	return out, nil
}

// MergedProvider returns the union of several providers. Later providers
// only contribute tables earlier ones do not describe, so hand-written
// descriptions win over introspected ones.
type MergedProvider struct {
	providers []Provider
}

func NewMergedProvider(providers ...Provider) *MergedProvider {
	return &MergedProvider{providers: providers}
}

func (p *MergedProvider) ListTables(ctx context.Context) ([]TableMetadata, error) {
	seen := map[string]struct{}{}
	out := make([]TableMetadata, 0)
	for _, provider := range p.providers {
		tables, err := provider.ListTables(ctx)
		if err != nil {
			return nil, err
		}
		for _, table := range tables {
			key := strings.ToLower(table.QualifiedName())
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, table)
		}
	}
	return out, nil
}

// CachedProvider loads tables once and serves the result until Invalidate.
type CachedProvider struct {
	next Provider

	mu     sync.Mutex
	tables []TableMetadata
	loaded bool
}

func NewCachedProvider(next Provider) *CachedProvider {
	return &CachedProvider{next: next}
}

func (p *CachedProvider) ListTables(ctx context.Context) ([]TableMetadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return p.tables, nil
	}
	tables, err := p.next.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	p.tables = tables
	p.loaded = true
	return tables, nil
}

func (p *CachedProvider) Invalidate() {
	p.mu.Lock()
	p.loaded = false
	p.tables = nil
	p.mu.Unlock()
}

func Find(tables []TableMetadata, name string) (TableMetadata, error) {
	for _, table := range tables {
		if strings.EqualFold(table.Name, name) || strings.EqualFold(table.QualifiedName(), name) {
			return table, nil
		}
	}
	return TableMetadata{}, ErrNotFound
}

// Relevant ranks tables by how many words of the question appear in their
// names, descriptions and columns, and returns the best limit tables. When no
// table scores, all tables up to limit are returned in their original order.
func Relevant(tables []TableMetadata, question string, limit int) []TableMetadata {
	if limit <= 0 || limit > len(tables) {
		limit = len(tables)
	}
	words := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
	})
	type scored struct {
		table TableMetadata
		score int
		index int
	}
	ranked := make([]scored, 0, len(tables))
	for idx, table := range tables {
		ranked = append(ranked, scored{table: table, score: tableScore(table, words), index: idx})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	out := make([]TableMetadata, 0, limit)
	for _, item := range ranked[:limit] {
		out = append(out, item.table)
	}
	return out
}

func tableScore(table TableMetadata, words []string) int {
	haystack := strings.ToLower(table.Name + " " + table.Description)
	for _, column := range table.Columns {
		haystack += " " + strings.ToLower(column.Name+" "+column.Description)
	}
	score := 0
	for _, word := range words {
		if len(word) < 3 {
			continue
		}
		if strings.Contains(haystack, strings.TrimSuffix(word, "s")) {
			score++
		}
	}
	return score
}
