package catalog

import (
	"context"
	"errors"
	"testing"
)

func TestRelevantPrefersMatchingTables(t *testing.T) {
	tables := []TableMetadata{
		{Name: "Products", Columns: []Column{{Name: "ProductID"}}},
		{Name: "Orders", Description: "customer orders", Columns: []Column{{Name: "CustomerID"}, {Name: "OrderDate"}}},
		{Name: "Employees"},
	}
	got := Relevant(tables, "How many orders did each customer place?", 1)
	if len(got) != 1 || got[0].Name != "Orders" {
		t.Fatalf("Relevant() = %+v", got)
	}

	all := Relevant(tables, "xyz", 0)
	if len(all) != 3 || all[0].Name != "Products" {
		t.Fatalf("Relevant() fallback = %+v", all)
	}
}

func TestMergedProviderKeepsFirstDescription(t *testing.T) {
	static := NewStaticProvider([]TableMetadata{{Name: "orders", Schema: "public", Description: "hand written"}})
	introspected := NewStaticProvider([]TableMetadata{
		{Name: "orders", Schema: "public", Description: "generated"},
		{Name: "customers", Schema: "public"},
	})
	tables, err := NewMergedProvider(static, introspected).ListTables(context.Background())
	if err != nil {
		t.Fatalf("ListTables() error = %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("len(tables) = %d", len(tables))
	}
	if tables[0].Description != "hand written" {
		t.Fatalf("Description = %q", tables[0].Description)
	}
}

func TestCachedProviderLoadsOnce(t *testing.T) {
	counting := &countingProvider{}
	cached := NewCachedProvider(counting)
	for i := 0; i < 3; i++ {
		if _, err := cached.ListTables(context.Background()); err != nil {
			t.Fatalf("ListTables() error = %v", err)
		}
	}
	if counting.calls != 1 {
		t.Fatalf("calls = %d, want 1", counting.calls)
	}
	cached.Invalidate()
	_, _ = cached.ListTables(context.Background())
	if counting.calls != 2 {
		t.Fatalf("calls after Invalidate = %d, want 2", counting.calls)
	}
}

func TestFindReturnsNotFound(t *testing.T) {
	_, err := Find([]TableMetadata{{Name: "orders"}}, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Find() error = %v", err)
	}
	table, err := Find([]TableMetadata{{Name: "orders", Schema: "sales"}}, "sales.ORDERS")
	if err != nil || table.Name != "orders" {
		t.Fatalf("Find() = %+v, %v", table, err)
	}
}

type countingProvider struct {
	calls int
}

func (p *countingProvider) ListTables(context.Context) ([]TableMetadata, error) {
	p.calls++
	return []TableMetadata{{Name: "t"}}, nil
}
