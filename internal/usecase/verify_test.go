package usecase

import (
	"context"
	"testing"
	"time"

	"keystone/internal/domain"
)

func newVerifierFixture() (*TokenVerifier, *registryStub, *ledgerStub, *signerStub) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	registry := newRegistryStub(func() time.Time { return now })
	ledger := newLedgerStub()
	signer := &signerStub{}
	verifier := &TokenVerifier{
		Registry: registry,
		Ledger:   ledger,
		Signer:   signer,
		RefSalt:  "unit-salt",
		Clock:    func() time.Time { return now },
	}
	return verifier, registry, ledger, signer
}

func TestVerifyAcceptsPrimaryAndSecondaryKeys(t *testing.T) {
	verifier, registry, _, _ := newVerifierFixture()
	registry.addPrimary("key_prod_001")
	secondary := registry.addPrimary("key_prod_002")
	secondary.Status = domain.KeyStatusActiveSecondary

	for _, kid := range []string{"key_prod_001", "key_prod_002"} {
		result, err := verifier.Verify(context.Background(), kid+"|tok-1|alice")
		if err != nil {
			t.Fatalf("Verify(%s): %v", kid, err)
		}
		if !result.Valid || result.KeyID != kid {
			t.Fatalf("Verify(%s) = %+v", kid, result)
		}
	}
}

func TestVerifyRejectsByKeyStatus(t *testing.T) {
	verifier, registry, _, _ := newVerifierFixture()
	registry.addPrimary("key_prod_001")
	compromised := registry.addPrimary("key_prod_bad")
	compromised.Status = domain.KeyStatusCompromised
	retired := registry.addPrimary("key_prod_old")
	retired.Status = domain.KeyStatusRetired

	cases := []struct {
		token  string
		reason string
	}{
		{"key_prod_bad|tok-1|alice", VerifyReasonKeyCompromised},
		{"key_prod_old|tok-2|alice", VerifyReasonKeyInactive},
		{"key_prod_unknown|tok-3|alice", VerifyReasonUnknownKey},
	}
	for _, tc := range cases {
		result, err := verifier.Verify(context.Background(), tc.token)
		if err != nil {
			t.Fatalf("Verify(%s): %v", tc.token, err)
		}
		if result.Valid || result.Reason != tc.reason {
			t.Fatalf("Verify(%s) = %+v, want reason %s", tc.token, result, tc.reason)
		}
	}
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	verifier, registry, _, _ := newVerifierFixture()
	registry.addPrimary("key_prod_001")

	result, err := verifier.Verify(context.Background(), "not-a-token")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Valid || result.Reason != VerifyReasonMalformed {
		t.Fatalf("result = %+v", result)
	}
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	verifier, registry, _, signer := newVerifierFixture()
	registry.addPrimary("key_prod_001")
	signer.verifyErr = context.DeadlineExceeded

	result, err := verifier.Verify(context.Background(), "key_prod_001|tok-1|alice")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Valid || result.Reason != VerifyReasonBadSignature {
		t.Fatalf("result = %+v", result)
	}
}

func TestVerifyRejectsRevokedToken(t *testing.T) {
	verifier, registry, ledger, _ := newVerifierFixture()
	registry.addPrimary("key_prod_001")
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	err := ledger.Revoke(context.Background(), domain.RevocationEntry{
		TokenRef:  TokenRef("unit-salt", "tok-1"),
		UserID:    "alice",
		RevokedAt: now,
		ExpiresAt: now.Add(time.Hour),
		Reason:    domain.RevocationReasonUserLogout,
	})
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	result, verr := verifier.Verify(context.Background(), "key_prod_001|tok-1|alice")
	if verr != nil {
		t.Fatalf("Verify: %v", verr)
	}
	if result.Valid || result.Reason != VerifyReasonRevoked {
		t.Fatalf("result = %+v", result)
	}

	// A different token id under the same key still verifies.
	result, verr = verifier.Verify(context.Background(), "key_prod_001|tok-2|alice")
	if verr != nil {
		t.Fatalf("Verify: %v", verr)
	}
	if !result.Valid {
		t.Fatalf("result = %+v", result)
	}
}
