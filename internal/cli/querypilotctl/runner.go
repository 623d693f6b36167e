package querypilotctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	TenantID   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type request struct {
	method string
	path   string
	body   any
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("querypilotctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "QueryPilot API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	tenantID := fs.String("tenant-id", defaults.TenantID, "Tenant ID header (used when auth is disabled)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")
	conversationID := fs.String("conversation", "", "conversation id for ask")
	templateName := fs.String("template", "", "template name for extract")
	rowLimit := fs.Int("row-limit", 0, "row limit for query (0 uses the server limit)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	text := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
	var req request
	switch command {
	case "health":
		req = request{method: http.MethodGet, path: "/v1/health"}
	case "ready":
		req = request{method: http.MethodGet, path: "/v1/ready"}
	case "templates":
		req = request{method: http.MethodGet, path: "/v1/templates"}
	case "schema":
		req = request{method: http.MethodGet, path: "/v1/schema"}
	case "ask":
		if text == "" {
			return usageError(stderr, "ask needs a message")
		}
		body := map[string]any{"message": text}
		if id := strings.TrimSpace(*conversationID); id != "" {
			body["conversation_id"] = id
		}
		req = request{method: http.MethodPost, path: "/v1/chat", body: body}
	case "query":
		if text == "" {
			return usageError(stderr, "query needs SQL")
		}
		body := map[string]any{"sql": text}
		if *rowLimit > 0 {
			body["row_limit"] = *rowLimit
		}
		req = request{method: http.MethodPost, path: "/v1/query", body: body}
	case "translate":
		if text == "" {
			return usageError(stderr, "translate needs a prompt")
		}
		req = request{method: http.MethodPost, path: "/v1/query/translate", body: map[string]any{"prompt": text}}
	case "extract":
		if text == "" || strings.TrimSpace(*templateName) == "" {
			return usageError(stderr, "extract needs -template and a question")
		}
		req = request{method: http.MethodPost, path: "/v1/extract", body: map[string]any{"template": strings.TrimSpace(*templateName), "query": text}}
	case "conversation", "history", "reset":
		if text == "" {
			return usageError(stderr, command+" needs a conversation id")
		}
		path := "/v1/conversations/" + url.PathEscape(text)
		switch command {
		case "conversation":
			req = request{method: http.MethodGet, path: path}
		case "history":
			req = request{method: http.MethodGet, path: path + "/history"}
		default:
			req = request{method: http.MethodDelete, path: path}
		}
	default:
		return usageError(stderr, fmt.Sprintf("unknown command %q", command))
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	code, responseBody, err := doRequest(ctx, client, req.method, endpoint, req.body, *apiKey, *tenantID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, url string, payload any, apiKey, tenantID string) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	if strings.TrimSpace(tenantID) != "" {
		req.Header.Set("X-Tenant-ID", strings.TrimSpace(tenantID))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, raw, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func usageError(w io.Writer, message string) int {
	_, _ = fmt.Fprintf(w, "%s\n\n", message)
	writeUsage(w)
	return 2
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: querypilotctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                  GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                   GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  templates               GET /v1/templates")
	_, _ = fmt.Fprintln(w, "  schema                  GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  ask <message>           POST /v1/chat (-conversation to continue one)")
	_, _ = fmt.Fprintln(w, "  query <sql>             POST /v1/query")
	_, _ = fmt.Fprintln(w, "  translate <prompt>      POST /v1/query/translate")
	_, _ = fmt.Fprintln(w, "  extract <question>      POST /v1/extract (requires -template)")
	_, _ = fmt.Fprintln(w, "  conversation <id>       GET /v1/conversations/{id}")
	_, _ = fmt.Fprintln(w, "  history <id>            GET /v1/conversations/{id}/history")
	_, _ = fmt.Fprintln(w, "  reset <id>              DELETE /v1/conversations/{id}")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
