package secrets

import (
	"context"
	"fmt"
	"strings"
)

// Source fetches one named secret from a backend.
type Source interface {
	Fetch(ctx context.Context, name string) (string, error)
}

// Resolve turns a config value into its secret material. Values of the form
// scheme://name are fetched from the matching source; anything else is
// returned as-is, so plain literals keep working in development.
func Resolve(ctx context.Context, sources map[string]Source, value string) (string, error) {
	scheme, name, ok := splitRef(value)
	if !ok {
		return value, nil
	}
	source, ok := sources[scheme]
	if !ok {
		return "", fmt.Errorf("no secret source registered for scheme %q", scheme)
	}
	secret, err := source.Fetch(ctx, name)
	if err != nil {
		return "", fmt.Errorf("resolve %s secret %q: %w", scheme, name, err)
	}
	return secret, nil
}

func splitRef(value string) (scheme, name string, ok bool) {
	idx := strings.Index(value, "://")
	if idx <= 0 {
		return "", "", false
	}
	scheme, name = value[:idx], value[idx+3:]
	if name == "" {
		return "", "", false
	}
	return scheme, name, true
}
