package migrations

import (
	"strings"
	"testing"
)

func TestHistoryMigrationsContainRequiredTablesAndIndexes(t *testing.T) {
	required := map[string][]string{
		"sql/000001_query_history.up.sql": {
			"CREATE TABLE query_history",
			"conversation_id TEXT NOT NULL",
			"CREATE INDEX idx_query_history_conversation",
		},
		"sql/000002_api_key.up.sql": {
			"CREATE TABLE api_key",
			"key_hash TEXT PRIMARY KEY",
			"revoked_at TIMESTAMPTZ",
		},
	}
	for file, snippets := range required {
		body, err := embeddedFS.ReadFile(file)
		if err != nil {
			t.Fatalf("ReadFile(%s) error = %v", file, err)
		}
		for _, snippet := range snippets {
			if !strings.Contains(string(body), snippet) {
				t.Fatalf("%s missing required snippet: %s", file, snippet)
			}
		}
	}
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	items, err := loadMigrations(embeddedFS)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 || items[0].Version != 1 || items[1].Version != 2 {
		t.Fatalf("loadMigrations() = %+v", items)
	}
}
