package storage

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,127}$`)

// Dataset maps a table name to parquet objects. A key ending in "/" is a
// prefix and expands to every .parquet object below it.
type Dataset struct {
	Table string
	Keys  []string
}

// ParseDatasets reads "table=key|key,table=prefix/" dataset lists.
func ParseDatasets(spec string) ([]Dataset, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	seen := map[string]struct{}{}
	out := make([]Dataset, 0)
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		table, keys, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid dataset %q: expected table=key", entry)
		}
		table = strings.TrimSpace(table)
		if !tableNamePattern.MatchString(table) {
			return nil, fmt.Errorf("invalid dataset table name: %q", table)
		}
		if _, dup := seen[strings.ToLower(table)]; dup {
			return nil, fmt.Errorf("duplicate dataset table %q", table)
		}
		seen[strings.ToLower(table)] = struct{}{}

		dataset := Dataset{Table: table}
		for _, key := range strings.Split(keys, "|") {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			if err := validateKey(key); err != nil {
				return nil, fmt.Errorf("dataset %s: %w", table, err)
			}
			dataset.Keys = append(dataset.Keys, key)
		}
		if len(dataset.Keys) == 0 {
			return nil, fmt.Errorf("dataset %s has no object keys", table)
		}
		out = append(out, dataset)
	}
	return out, nil
}

// ResolveObjects expands prefixes of a dataset into parquet objects, sorted by key.
func ResolveObjects(ctx context.Context, store ObjectStore, dataset Dataset) ([]ObjectInfo, error) {
	out := make([]ObjectInfo, 0, len(dataset.Keys))
	for _, key := range dataset.Keys {
		if !strings.HasSuffix(key, "/") {
			info, err := store.Stat(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", key, err)
			}
			if info.Key == "" {
				info.Key = key
			}
			out = append(out, info)
			continue
		}
		listed, err := store.List(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", key, err)
		}
		for _, info := range listed {
			if strings.HasSuffix(strings.ToLower(info.Key), ".parquet") {
				out = append(out, info)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("dataset %s: %w", dataset.Table, ErrObjectNotFound)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func validateKey(key string) error {
	cleaned := path.Clean(strings.TrimPrefix(key, "/"))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.Contains(cleaned, "/../") {
		return fmt.Errorf("invalid object key: %q", key)
	}
	return nil
}
