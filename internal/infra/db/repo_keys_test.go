package db

import (
	"context"
	"testing"
	"time"

	"keystone/internal/domain"
)

func TestKeyModelRoundTrip(t *testing.T) {
	retired := time.Date(2024, 6, 8, 12, 0, 0, 0, time.UTC)
	key := &domain.SigningKey{
		ID:           "key_prod_001",
		Algorithm:    domain.KeyAlgorithmHS256,
		StrengthBits: 256,
		Status:       domain.KeyStatusRetired,
		AccessLevel:  domain.AccessLevelStandard,
		Secret:       []byte("super-secret"),
		CreatedAt:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		RetiredAt:    &retired,
	}

	got := modelToKey(keyToModel(key))
	if got.ID != key.ID || got.Algorithm != key.Algorithm || got.StrengthBits != key.StrengthBits {
		t.Fatalf("round trip = %+v", got)
	}
	if got.Status != key.Status || got.AccessLevel != key.AccessLevel {
		t.Fatalf("status round trip = %+v", got)
	}
	if string(got.Secret) != string(key.Secret) {
		t.Fatalf("secret round trip = %q", got.Secret)
	}
	if got.RetiredAt == nil || !got.RetiredAt.Equal(retired) {
		t.Fatalf("retired at = %v", got.RetiredAt)
	}

	// The model holds its own copy of the secret.
	got.Secret[0] = 'X'
	if key.Secret[0] == 'X' {
		t.Fatal("secret aliases the source key")
	}
}

func TestKeyRepositoryWithoutConnection(t *testing.T) {
	repo := NewKeyRepository(nil)
	if err := repo.SaveKeys(context.Background(), &domain.SigningKey{ID: "key_prod_001"}); err == nil {
		t.Fatal("expected error without a connection")
	}
	if _, err := repo.ListKeys(context.Background()); err == nil {
		t.Fatal("expected error without a connection")
	}
}
