// Package secrets resolves named secret definitions through a small set of
// pluggable backends: credential, token, api-key, and hashicorp-vault.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"gopkg.in/yaml.v3"

	"flowrunner.dev/flowrunner/templating"
)

// ErrNotFound is returned when a secret name has no matching definition.
var ErrNotFound = errors.New("secrets: secret not found")

// ErrBadSecret is returned when a definition is malformed for its declared type.
var ErrBadSecret = errors.New("secrets: malformed secret definition")

// Definition is one entry of the secrets YAML document.
type Definition struct {
	Name string         `yaml:"name"`
	Type string         `yaml:"type"`
	Spec map[string]any `yaml:",inline"`
}

func (d *Definition) UnmarshalYAML(value *yaml.Node) error {
	var m map[string]any
	if err := value.Decode(&m); err != nil {
		return err
	}
	name, _ := m["name"].(string)
	typ, _ := m["type"].(string)
	d.Name = name
	d.Type = typ
	d.Spec = m
	return nil
}

// Table is a flow's private set of secret definitions, keyed by name.
type Table map[string]Definition

// Load reads a secrets YAML file into a Table.
func Load(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secrets: load %s: %w", path, err)
	}
	var defs []Definition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadSecret, path, err)
	}
	table := make(Table, len(defs))
	for _, d := range defs {
		table[d.Name] = d
	}
	return table, nil
}

// VaultCache caches a hashicorp-vault lookup result keyed by (uri, jqExpression).
type VaultCache interface {
	Get(key string) (map[string]any, bool)
	Set(key string, value map[string]any, ttl time.Duration)
}

// Resolver resolves a named secret to its materialized value.
type Resolver struct {
	table      Table
	vaultToken string
	vaultTTL   time.Duration
	cache      VaultCache
	http       *resty.Client
}

// NewResolver builds a Resolver over table, using vaultToken/vaultTTL for the
// hashicorp-vault backend and cache as its TTL cache (typically a process-wide
// singleton shared across every flow invocation).
func NewResolver(table Table, vaultToken string, vaultTTL time.Duration, cache VaultCache) *Resolver {
	if cache == nil {
		cache = NewInProcessCache()
	}
	return &Resolver{
		table:      table,
		vaultToken: vaultToken,
		vaultTTL:   vaultTTL,
		cache:      cache,
		http:       resty.New(),
	}
}

// Resolve looks up name and dispatches to its backend.
func (r *Resolver) Resolve(ctx context.Context, name string) (map[string]any, error) {
	def, ok := r.table[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	switch def.Type {
	case "credential":
		return requireKeys(def, "username", "password")
	case "token":
		return requireKeys(def, "token")
	case "api-key":
		return requireKeys(def, "key", "value")
	case "hashicorp-vault":
		return r.resolveVault(ctx, def)
	default:
		return nil, fmt.Errorf("%w: %s: unsupported type %q", ErrBadSecret, name, def.Type)
	}
}

func requireKeys(def Definition, keys ...string) (map[string]any, error) {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		v, ok := def.Spec[k]
		if !ok {
			return nil, fmt.Errorf("%w: %s: missing field %q", ErrBadSecret, def.Name, k)
		}
		out[k] = v
	}
	return out, nil
}

func (r *Resolver) resolveVault(ctx context.Context, def Definition) (map[string]any, error) {
	uri, _ := def.Spec["uri"].(string)
	if uri == "" {
		return nil, fmt.Errorf("%w: %s: missing field %q", ErrBadSecret, def.Name, "uri")
	}
	jqExpr, _ := def.Spec["jq_expression"].(string)

	cacheKey := uri + "|" + jqExpr
	if v, ok := r.cache.Get(cacheKey); ok {
		return v, nil
	}

	resp, err := r.http.R().
		SetContext(ctx).
		SetHeader("X-Vault-Token", r.vaultToken).
		Get(uri)
	if err != nil {
		return nil, fmt.Errorf("secrets: vault request %s: %w", def.Name, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("secrets: vault request %s: status %d", def.Name, resp.StatusCode())
	}

	var body map[string]any
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("%w: %s: invalid vault response: %v", ErrBadSecret, def.Name, err)
	}

	data, _ := body["data"].(map[string]any)
	inner, _ := data["data"].(map[string]any)
	if inner == nil {
		return nil, fmt.Errorf("%w: %s: vault response missing data.data", ErrBadSecret, def.Name)
	}

	value := inner
	if jqExpr != "" {
		filtered, err := templating.ApplyJQ(jqExpr, inner)
		if err != nil {
			return nil, fmt.Errorf("secrets: vault jq filter %s: %w", def.Name, err)
		}
		asMap, ok := filtered.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s: jq_expression did not produce an object", ErrBadSecret, def.Name)
		}
		value = asMap
	}

	r.cache.Set(cacheKey, value, r.vaultTTL)
	return value, nil
}
