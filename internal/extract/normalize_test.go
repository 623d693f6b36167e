package extract

import (
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"  Crème Brûlée!! ":        "creme brulee",
		"Orders since 2026-10-12?": "orders since 2026-10-12",
		"ÄRGER, über-alles":        "arger uber alles",
		"total > 1,500.25 dollars": "total 1,500.25 dollars",
		"STRASSE":                  "strasse",
		"tab\tand\nnewline":        "tab and newline",
		"customer_id":              "customer_id",
	}
	for input, want := range tests {
		if got := Normalize(input); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("seafood", "seafood"); got != 1 {
		t.Fatalf("Similarity(equal) = %v", got)
	}
	if got := Similarity("bevrages", "beverages"); got < 0.88 || got > 0.89 {
		t.Fatalf("Similarity(bevrages, beverages) = %v", got)
	}
	if got := Similarity("north", "seafood"); got > 0.5 {
		t.Fatalf("Similarity(unrelated) = %v", got)
	}
}

func TestNameParts(t *testing.T) {
	tests := map[string][]string{
		"cust_id":    {"cust", "id"},
		"CustomerID": {"customer", "id"},
		"startDate":  {"start", "date"},
		"is_express": {"is", "express"},
	}
	for input, want := range tests {
		got := nameParts(input)
		if len(got) != len(want) {
			t.Fatalf("nameParts(%q) = %v, want %v", input, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("nameParts(%q) = %v, want %v", input, got, want)
			}
		}
	}
}

func TestResolveDate(t *testing.T) {
	tests := map[string]string{
		"today":               "2026-10-19",
		"yesterday":           "2026-10-18",
		"last week":           "2026-10-12",
		"since last month":    "2026-09-19",
		"last 7 days":         "2026-10-12",
		"past three weeks":    "2026-09-28",
		"this week":           "2026-10-19",
		"this month":          "2026-10-01",
		"this quarter":        "2026-10-01",
		"this year":           "2026-01-01",
		"start of this month": "2026-10-01",
		"3 days ago":          "2026-10-16",
		"2024-01-31":          "2024-01-31",
		"2024/02/29":          "2024-02-29",
		"march 2025":          "2025-03-01",
		"december":            "2025-12-01",
		"in august":           "2026-08-01",
	}
	for input, want := range tests {
		got, ok := ResolveDate(input, fixedNow)
		if !ok {
			t.Fatalf("ResolveDate(%q) did not resolve", input)
		}
		if got.Format(time.DateOnly) != want {
			t.Fatalf("ResolveDate(%q) = %s, want %s", input, got.Format(time.DateOnly), want)
		}
	}
	for _, input := range []string{"", "whenever", "may i see orders", "last customer"} {
		if got, ok := ResolveDate(input, fixedNow); ok {
			t.Fatalf("ResolveDate(%q) = %s, want no match", input, got)
		}
	}
}
