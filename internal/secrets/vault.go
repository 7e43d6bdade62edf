package secrets

import (
	"fmt"

	vault "github.com/hashicorp/vault/api"
)

// APIKeys are exchange credentials loaded from Vault.
type APIKeys struct {
	Key    string
	Secret string
}

// LoadAPIKeys reads exchange credentials from a Vault KV v2 secret at path.
// The secret must contain "api_key" and "api_secret" fields.
func LoadAPIKeys(addr, token, path string) (*APIKeys, error) {
	cfg := vault.DefaultConfig()
	cfg.Address = addr

	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	client.SetToken(token)

	secret, err := client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading vault secret %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault secret %s not found", path)
	}

	// KV v2 nests the payload under "data".
	data := secret.Data
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = nested
	}

	keys := &APIKeys{}
	if v, ok := data["api_key"].(string); ok {
		keys.Key = v
	}
	if v, ok := data["api_secret"].(string); ok {
		keys.Secret = v
	}
	if keys.Key == "" || keys.Secret == "" {
		return nil, fmt.Errorf("vault secret %s missing api_key or api_secret", path)
	}
	return keys, nil
}
