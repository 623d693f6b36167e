package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/cli/querypilotctl"
)

func main() {
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("QUERYPILOT_CLI_TIMEOUT")), 30*time.Second)
	options := querypilotctl.Options{
		BaseURL:  envOr("QUERYPILOT_API_URL", "http://localhost:8080"),
		APIKey:   strings.TrimSpace(os.Getenv("QUERYPILOT_API_KEY")),
		TenantID: strings.TrimSpace(os.Getenv("QUERYPILOT_TENANT_ID")),
		Timeout:  timeout,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}

	code := querypilotctl.Run(context.Background(), os.Args[1:], options)
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid QUERYPILOT_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
