// Package auth resolves API keys to tenant identities.
package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	// RoleQueryReader may ask questions and read templates and conversations.
	RoleQueryReader = "query_reader"
	// RoleSQLRunner may additionally execute raw SQL through /v1/query.
	RoleSQLRunner = "sql_runner"
)

// DefaultTenant is the identity used when authentication is disabled.
const DefaultTenant = "default"

type Identity struct {
	TenantID string
	Roles    []string
}

func (i Identity) HasRole(role string) bool {
	for _, candidate := range i.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

// StaticAPIKeyValidator holds keys configured as "key:tenant:role|role,...".
type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:tenant:role|role", entry)
		}
		key := strings.TrimSpace(parts[0])
		tenant := strings.TrimSpace(parts[1])
		if key == "" || tenant == "" {
			return nil, fmt.Errorf("invalid static key entry %q: empty key/tenant", entry)
		}
		roles := parseRoles(parts[2], "|")
		if len(roles) == 0 {
			return nil, fmt.Errorf("invalid static key entry %q: at least one role is required", entry)
		}
		validator.keys[key] = Identity{TenantID: tenant, Roles: roles}
	}
	return validator, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}

func parseRoles(raw, sep string) []string {
	roles := make([]string, 0, 2)
	for _, role := range strings.Split(strings.TrimSpace(raw), sep) {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	sort.Strings(roles)
	return roles
}

// HashKey is the stored form of an API key.
func HashKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// SQLAPIKeyValidator looks keys up by hash in the api_key table created by
// the history migrations. Revoked keys are rejected.
type SQLAPIKeyValidator struct {
	db *sql.DB
}

func NewSQLAPIKeyValidator(db *sql.DB) *SQLAPIKeyValidator {
	return &SQLAPIKeyValidator{db: db}
}

func (v *SQLAPIKeyValidator) Validate(ctx context.Context, apiKey string) (Identity, bool) {
	identity, err := v.lookup(ctx, apiKey)
	return identity, err == nil
}

func (v *SQLAPIKeyValidator) lookup(ctx context.Context, apiKey string) (Identity, error) {
	var tenant, roles string
	err := v.db.QueryRowContext(ctx,
		`SELECT tenant_id, roles FROM api_key WHERE key_hash = $1 AND revoked_at IS NULL`,
		HashKey(apiKey),
	).Scan(&tenant, &roles)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, err
	}
	if err != nil {
		return Identity{}, fmt.Errorf("lookup api key: %w", err)
	}
	return Identity{TenantID: tenant, Roles: parseRoles(roles, ",")}, nil
}

// ChainValidator accepts a key if any validator does.
type ChainValidator []APIKeyValidator

func (c ChainValidator) Validate(ctx context.Context, apiKey string) (Identity, bool) {
	for _, validator := range c {
		if identity, ok := validator.Validate(ctx, apiKey); ok {
			return identity, true
		}
	}
	return Identity{}, false
}
