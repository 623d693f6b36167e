// Package templates loads the query template catalog and finds the template
// that best answers a question.
package templates

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/querypilot/querypilot/internal/catalog"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/storage"
)

const maxCatalogBytes = 8 << 20

// Catalog is the content of a catalog file: parameterized query templates
// and hand-written table descriptions.
type Catalog struct {
	Templates []nl2sql.QueryTemplate  `yaml:"templates" json:"templates"`
	Tables    []catalog.TableMetadata `yaml:"tables" json:"tables"`
}

// Parse decodes and validates a YAML catalog. Template names must be unique
// and every template must pass QueryTemplate.Validate.
func Parse(data []byte) (Catalog, error) {
	var out Catalog
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	seen := make(map[string]struct{}, len(out.Templates))
	for _, tpl := range out.Templates {
		if err := tpl.Validate(); err != nil {
			return Catalog{}, fmt.Errorf("invalid catalog: %w", err)
		}
		if _, ok := seen[tpl.Name]; ok {
			return Catalog{}, fmt.Errorf("invalid catalog: duplicate template %q", tpl.Name)
		}
		seen[tpl.Name] = struct{}{}
	}
	for _, table := range out.Tables {
		if table.Name == "" {
			return Catalog{}, fmt.Errorf("invalid catalog: table name is required")
		}
	}
	return out, nil
}

func LoadFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// LoadObject reads the catalog from the object store.
func LoadObject(ctx context.Context, store storage.ObjectStore, key string) (Catalog, error) {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return Catalog{}, fmt.Errorf("get catalog object %s: %w", key, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(io.LimitReader(reader, maxCatalogBytes+1))
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog object %s: %w", key, err)
	}
	if len(data) > maxCatalogBytes {
		return Catalog{}, fmt.Errorf("catalog object %s exceeds %d bytes", key, maxCatalogBytes)
	}
	return Parse(data)
}

// Publish validates a catalog file and stores it under key, where LoadObject
// reads it.
func Publish(ctx context.Context, store storage.ObjectStore, key string, data []byte) (Catalog, storage.ObjectInfo, error) {
	if len(data) > maxCatalogBytes {
		return Catalog{}, storage.ObjectInfo{}, fmt.Errorf("catalog exceeds %d bytes", maxCatalogBytes)
	}
	cat, err := Parse(data)
	if err != nil {
		return Catalog{}, storage.ObjectInfo{}, err
	}
	info, err := store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: "application/yaml"})
	if err != nil {
		return Catalog{}, storage.ObjectInfo{}, fmt.Errorf("put catalog object %s: %w", key, err)
	}
	return cat, info, nil
}

// Withdraw removes a published catalog. Removing a missing object succeeds.
func Withdraw(ctx context.Context, store storage.ObjectStore, key string) error {
	if err := store.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete catalog object %s: %w", key, err)
	}
	return nil
}

// Lookup returns the template with the given name.
func (c Catalog) Lookup(name string) (nl2sql.QueryTemplate, bool) {
	for _, tpl := range c.Templates {
		if tpl.Name == name {
			return tpl, true
		}
	}
	return nl2sql.QueryTemplate{}, false
}

func (c Catalog) Names() []string {
	names := make([]string, 0, len(c.Templates))
	for _, tpl := range c.Templates {
		names = append(names, tpl.Name)
	}
	sort.Strings(names)
	return names
}
