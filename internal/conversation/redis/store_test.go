package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/querypilot/querypilot/internal/conversation"
	"github.com/querypilot/querypilot/internal/nl2sql"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, ttl), mr
}

func TestStoreRoundTrip(t *testing.T) {
	store, mr := newTestStore(t, 10*time.Minute)
	ctx := context.Background()
	record := conversation.Record{
		TenantID:       "tenant-a",
		ConversationID: "c1",
		State:          conversation.StateAwaitingClarification,
		Pending: &conversation.PendingExtraction{
			Template:      nl2sql.QueryTemplate{Name: "orders_by_customer", SQL: "SELECT 1"},
			Known:         map[string]any{"cust_id": int64(42)},
			Missing:       []nl2sql.MissingParameter{{Name: "start_date", ValidationHint: "a date"}},
			OriginalQuery: "orders for customer 42",
		},
	}
	record.AppendTurn(conversation.RoleUser, "orders for customer 42", time.Now(), 10)
	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !mr.Exists("querypilot:conversation:tenant-a:c1") {
		t.Fatal("expected record under tenant namespaced key")
	}
	if ttl := mr.TTL("querypilot:conversation:tenant-a:c1"); ttl != 10*time.Minute {
		t.Fatalf("TTL = %s", ttl)
	}

	got, err := store.Get(ctx, "tenant-a", "c1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Pending == nil || got.Pending.Template.Name != "orders_by_customer" {
		t.Fatalf("Get() = %+v", got)
	}
	if got.Pending.Known["cust_id"] != float64(42) {
		t.Fatalf("known cust_id = %#v", got.Pending.Known["cust_id"])
	}
	if len(got.History) != 1 {
		t.Fatalf("History = %+v", got.History)
	}
}

func TestStoreMissAndIsolation(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	ctx := context.Background()
	if err := store.Save(ctx, conversation.Record{TenantID: "tenant-a", ConversationID: "c1"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := store.Get(ctx, "tenant-b", "c1"); !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("Get() other tenant error = %v", err)
	}
	if err := store.Delete(ctx, "tenant-b", "c1"); !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("Delete() other tenant error = %v", err)
	}
	if err := store.Delete(ctx, "tenant-a", "c1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}

func TestStoreExpiresWithTTL(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	ctx := context.Background()
	if err := store.Save(ctx, conversation.Record{TenantID: "t", ConversationID: "c"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, "t", "c"); !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("Get() after TTL error = %v", err)
	}
}

func TestStoreSurfacesDecodeErrors(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	if err := mr.Set("querypilot:conversation:t:c", "{not json"); err != nil {
		t.Fatalf("miniredis Set() error = %v", err)
	}
	if _, err := store.Get(context.Background(), "t", "c"); err == nil || errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("Get() error = %v, want decode error", err)
	}
}
