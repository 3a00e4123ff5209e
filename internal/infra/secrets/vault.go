package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Vault fetches secrets from a Vault KV v2 mount. Names take the form
// path#field; a name without a field reads the field "value".
type Vault struct {
	Addr       string
	Token      string
	HTTPClient *http.Client
}

func NewVault(addr, token string) *Vault {
	return &Vault{Addr: strings.TrimRight(addr, "/"), Token: token}
}

func (v *Vault) Fetch(ctx context.Context, name string) (string, error) {
	if v.Addr == "" || v.Token == "" {
		return "", errors.New("vault addr or token missing")
	}
	path, field, found := strings.Cut(name, "#")
	if path == "" {
		return "", errors.New("vault path is required")
	}
	if !found {
		field = "value"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		v.Addr+"/v1/"+strings.TrimLeft(path, "/"), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Vault-Token", v.Token)

	resp, err := v.client().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vault read failed: status %d", resp.StatusCode)
	}

	var envelope struct {
		Data struct {
			Data map[string]string `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", err
	}
	secret, ok := envelope.Data.Data[field]
	if !ok {
		return "", fmt.Errorf("vault secret %q has no field %q", path, field)
	}
	return secret, nil
}

func (v *Vault) client() *http.Client {
	if v.HTTPClient != nil {
		return v.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

var _ Source = (*Vault)(nil)
