package agents

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

func TestFoundryServiceListFollowsPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Fatalf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if r.URL.Query().Get("api-version") != "v1" {
			t.Fatalf("api-version = %q", r.URL.Query().Get("api-version"))
		}
		switch r.URL.Query().Get("after") {
		case "":
			_, _ = w.Write([]byte(`{"data":[{"id":"a1","name":"one"}],"has_more":true,"last_id":"a1"}`))
		case "a1":
			_, _ = w.Write([]byte(`{"data":[{"id":"a2","name":"two"}],"has_more":false,"last_id":"a2"}`))
		default:
			t.Fatalf("unexpected after=%q", r.URL.Query().Get("after"))
		}
	}))
	defer server.Close()

	service := newFoundryForTest(t, server.URL)
	agents, err := service.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(agents) != 2 || agents[1].Name != "two" {
		t.Fatalf("List() = %+v", agents)
	}
}

func TestFoundryServiceCreateAndDelete(t *testing.T) {
	deleted := ""
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["name"] != "builder" || body["model"] != "gpt-4o" || body["instructions"] != "write sql" {
				t.Fatalf("body = %#v", body)
			}
			_, _ = w.Write([]byte(`{"id":"asst_9","name":"builder"}`))
		case http.MethodDelete:
			deleted = r.URL.Path
			_, _ = w.Write([]byte(`{"deleted":true}`))
		default:
			t.Fatalf("method = %s", r.Method)
		}
	}))
	defer server.Close()

	service := newFoundryForTest(t, server.URL)
	created, err := service.Create(context.Background(), Definition{Name: "builder", Instructions: "write sql"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID != "asst_9" {
		t.Fatalf("Create() = %+v", created)
	}
	if err := service.Delete(context.Background(), created.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if deleted != "/assistants/asst_9" {
		t.Fatalf("deleted path = %q", deleted)
	}
}

func TestFoundryServiceMapsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer server.Close()

	err := newFoundryForTest(t, server.URL).Delete(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete() error = %v", err)
	}
}

func newFoundryForTest(t *testing.T, endpoint string) *FoundryService {
	t.Helper()
	service, err := NewFoundryService(FoundryConfig{
		Endpoint:   endpoint,
		Model:      "gpt-4o",
		Credential: tokenCredential{},
	})
	if err != nil {
		t.Fatalf("NewFoundryService() error = %v", err)
	}
	return service
}

type tokenCredential struct{}

func (tokenCredential) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: "tok", ExpiresOn: time.Now().Add(time.Hour)}, nil
}
