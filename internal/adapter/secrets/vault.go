package secrets

import (
	"context"
	"errors"
	"fmt"

	vault "github.com/hashicorp/vault/api"
)

const approleLoginPath = "auth/approle/login"

var ErrSecretNotFound = errors.New("secret not found")

type Option func(*options)

type options struct {
	address  string
	token    string
	roleID   string
	secretID string
}

func WithAddress(address string) Option {
	return func(o *options) {
		o.address = address
	}
}

func WithToken(token string) Option {
	return func(o *options) {
		o.token = token
	}
}

// WithAppRole logs in with role_id and secret_id instead of a static token.
func WithAppRole(roleID, secretID string) Option {
	return func(o *options) {
		o.roleID = roleID
		o.secretID = secretID
	}
}

// Vault reads single string values out of KV secrets.
type Vault struct {
	api *vault.Client
}

// NewVault builds a client from the environment (VAULT_ADDR, VAULT_TOKEN)
// overridden by opts, logging in through AppRole when both ids are set.
func NewVault(ctx context.Context, opts ...Option) (*Vault, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	apiCfg := vault.DefaultConfig()
	if apiCfg.Error != nil {
		return nil, fmt.Errorf("failed to read vault environment: %w", apiCfg.Error)
	}
	if o.address != "" {
		apiCfg.Address = o.address
	}

	api, err := vault.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault API client: %w", err)
	}
	if o.token != "" {
		api.SetToken(o.token)
	}

	v := &Vault{api: api}
	if o.roleID != "" && o.secretID != "" {
		if err := v.loginAppRole(ctx, o.roleID, o.secretID); err != nil {
			return nil, fmt.Errorf("AppRole login failed: %w", err)
		}
	}

	return v, nil
}

func (v *Vault) loginAppRole(ctx context.Context, roleID, secretID string) error {
	resp, err := v.api.Logical().WriteWithContext(ctx, approleLoginPath, map[string]any{
		"role_id":   roleID,
		"secret_id": secretID,
	})
	if err != nil {
		return fmt.Errorf("approle login request: %w", err)
	}
	if resp == nil || resp.Auth == nil || resp.Auth.ClientToken == "" {
		return fmt.Errorf("no token in login response")
	}
	v.api.SetToken(resp.Auth.ClientToken)
	return nil
}

// ReadString returns key from the secret at path. KV v2 paths
// (mount/data/name) are unwrapped transparently.
func (v *Vault) ReadString(ctx context.Context, path, key string) (string, error) {
	secret, err := v.api.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, path)
	}

	data := secret.Data
	if _, ok := data[key]; !ok {
		if nested, ok := data["data"].(map[string]interface{}); ok {
			data = nested
		}
	}

	raw, ok := data[key]
	if !ok {
		return "", fmt.Errorf("%w: %s has no key %q", ErrSecretNotFound, path, key)
	}
	value, ok := raw.(string)
	if !ok || value == "" {
		return "", fmt.Errorf("invalid value for %q at %s", key, path)
	}
	return value, nil
}
