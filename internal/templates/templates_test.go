package templates

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/storage"
)

const sampleCatalog = `
templates:
  - name: orders_by_customer
    description: Orders placed by a customer since a date
    questions:
      - show orders for customer 7 since last month
      - which orders did customer 12 place this year
    sql: SELECT * FROM Orders WHERE CustomerID = {cust_id} AND OrderDate >= {start_date}
    parameters:
      - name: cust_id
        type: integer
        description: Customer identifier
        required: true
        validation:
          min: 1
      - name: start_date
        type: date
        required: true
  - name: products_by_category
    description: Products in a category with their unit price
    questions:
      - list beverages products
    sql: SELECT ProductName, UnitPrice FROM Products WHERE CategoryName = {category}
    parameters:
      - name: category
        required: true
        validation:
          values_source:
            table: Categories
            column: CategoryName
tables:
  - name: Orders
    schema: public
    description: Customer orders
    columns:
      - name: CustomerID
        type: integer
`

func TestParseCatalog(t *testing.T) {
	cat, err := Parse([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(cat.Templates) != 2 || len(cat.Tables) != 1 {
		t.Fatalf("Parse() = %+v", cat)
	}
	tpl, ok := cat.Lookup("orders_by_customer")
	if !ok {
		t.Fatal("Lookup() did not find orders_by_customer")
	}
	if tpl.Parameters[0].Type != nl2sql.TypeInteger || *tpl.Parameters[0].Validation.Min != 1 {
		t.Fatalf("parameter = %+v", tpl.Parameters[0])
	}
	source := cat.Templates[1].Parameters[0].Validation.ValuesSource
	if source == nil || source.Table != "Categories" {
		t.Fatalf("values source = %+v", source)
	}
	if names := strings.Join(cat.Names(), ","); names != "orders_by_customer,products_by_category" {
		t.Fatalf("Names() = %q", names)
	}
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	tests := map[string]string{
		"duplicate template": "templates:\n  - {name: a, sql: SELECT 1}\n  - {name: a, sql: SELECT 2}\n",
		"duplicate param":    "templates:\n  - name: a\n    sql: SELECT {x}\n    parameters: [{name: x}, {name: x}]\n",
		"unknown field":      "templates:\n  - {name: a, sql: SELECT 1, sqll: oops}\n",
		"missing sql":        "templates:\n  - {name: a}\n",
		"table without name": "tables:\n  - {description: nameless}\n",
	}
	for name, input := range tests {
		if _, err := Parse([]byte(input)); err == nil {
			t.Fatalf("%s: Parse() expected error", name)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	cat, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(cat.Templates) != 2 {
		t.Fatalf("templates = %d", len(cat.Templates))
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("LoadFile() expected error for missing file")
	}
}

type objectStore struct {
	objects map[string][]byte
}

func (s objectStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	s.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (s objectStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s objectStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	data, ok := s.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (s objectStore) Delete(_ context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

func (s objectStore) List(context.Context, string) ([]storage.ObjectInfo, error) { return nil, nil }

func TestLoadObject(t *testing.T) {
	store := objectStore{objects: map[string][]byte{"catalogs/prod.yaml": []byte(sampleCatalog)}}
	cat, err := LoadObject(context.Background(), store, "catalogs/prod.yaml")
	if err != nil {
		t.Fatalf("LoadObject() error = %v", err)
	}
	if len(cat.Templates) != 2 {
		t.Fatalf("templates = %d", len(cat.Templates))
	}
	_, err = LoadObject(context.Background(), store, "catalogs/missing.yaml")
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("LoadObject() error = %v, want ErrObjectNotFound", err)
	}
}

func TestPublishAndWithdraw(t *testing.T) {
	ctx := context.Background()
	store := objectStore{objects: map[string][]byte{}}

	if _, _, err := Publish(ctx, store, "catalogs/prod.yaml", []byte("templates:\n  - name: broken\n")); err == nil {
		t.Fatal("Publish() expected error for an invalid catalog")
	}
	if len(store.objects) != 0 {
		t.Fatalf("invalid catalog was stored: %v", store.objects)
	}

	cat, info, err := Publish(ctx, store, "catalogs/prod.yaml", []byte(sampleCatalog))
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(cat.Templates) != 2 || info.Size != int64(len(sampleCatalog)) {
		t.Fatalf("Publish() = %d templates, size %d", len(cat.Templates), info.Size)
	}
	loaded, err := LoadObject(ctx, store, "catalogs/prod.yaml")
	if err != nil {
		t.Fatalf("LoadObject() error = %v", err)
	}
	if len(loaded.Templates) != 2 {
		t.Fatalf("LoadObject() templates = %d", len(loaded.Templates))
	}

	if err := Withdraw(ctx, store, "catalogs/prod.yaml"); err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if _, err := LoadObject(ctx, store, "catalogs/prod.yaml"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("LoadObject() after Withdraw error = %v, want ErrObjectNotFound", err)
	}
}

func TestLocalIndexRanksBestTemplateFirst(t *testing.T) {
	cat, err := Parse([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	index := NewLocalIndex(cat.Templates, 0.35)

	matches, err := index.Search(context.Background(), "orders for customer 42 since last week", 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if matches[0].Template.Name != "orders_by_customer" {
		t.Fatalf("Search() top = %q", matches[0].Template.Name)
	}
	if matches[0].Score <= 0.35 || matches[0].Score > 1 {
		t.Fatalf("Search() score = %v", matches[0].Score)
	}

	matches, err = index.Search(context.Background(), "List beverages products!", 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 1 || matches[0].Template.Name != "products_by_category" || matches[0].Score != 1 {
		t.Fatalf("Search() = %+v", matches)
	}
}

func TestLocalIndexReturnsErrNoMatch(t *testing.T) {
	cat, err := Parse([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	index := NewLocalIndex(cat.Templates, 0.35)
	for _, question := range []string{"", "what is the weather like tomorrow", "show me"} {
		if _, err := index.Search(context.Background(), question, 3); !errors.Is(err, ErrNoMatch) {
			t.Fatalf("Search(%q) error = %v, want ErrNoMatch", question, err)
		}
	}
	if _, err := NewLocalIndex(nil, 0).Search(context.Background(), "orders", 3); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("empty index error = %v", err)
	}
}
