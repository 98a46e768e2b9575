package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// A throwaway key for signature round-trips.
const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testWallet(t *testing.T) string {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
}

func newTestService() (*Service, *MemStore) {
	store := NewMemStore()
	return New(store, 5*time.Minute, 137), store
}

func TestValidWallet(t *testing.T) {
	t.Parallel()

	valid := []string{
		"0x0000000000000000000000000000000000000000",
		"0xAbCdEf0123456789abcdef0123456789ABCDEF01",
	}
	for _, w := range valid {
		if !ValidWallet(w) {
			t.Errorf("ValidWallet(%q) = false", w)
		}
	}

	invalid := []string{
		"",
		"0x123",
		"1234567890123456789012345678901234567890ab",
		"0xZZZZ567890123456789012345678901234567890",
		"0x12345678901234567890123456789012345678901", // 41 chars
	}
	for _, w := range invalid {
		if ValidWallet(w) {
			t.Errorf("ValidWallet(%q) = true", w)
		}
	}
}

func TestIssueNonceRejectsBadWallet(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService()

	if _, err := svc.IssueNonce(context.Background(), "not-a-wallet"); err != ErrInvalidWallet {
		t.Errorf("err = %v, want ErrInvalidWallet", err)
	}
}

func TestSignatureRoundTrip(t *testing.T) {
	t.Parallel()
	svc, store := newTestService()
	wallet := testWallet(t)
	ctx := context.Background()

	challenge, err := svc.IssueNonce(ctx, wallet)
	if err != nil {
		t.Fatalf("IssueNonce: %v", err)
	}
	if challenge.Nonce == "" || challenge.Message == "" {
		t.Fatalf("challenge = %+v", challenge)
	}

	// Sign against the stored nonce exactly as a client would.
	stored, err := store.Consume(ctx, challenge.Nonce, wallet)
	if err != nil {
		t.Fatalf("load nonce: %v", err)
	}
	sig, err := svc.SignForTest(testKeyHex, wallet, stored)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	// Re-save so Verify can consume it.
	stored.Used = false
	if err := store.Save(ctx, stored); err != nil {
		t.Fatalf("re-save nonce: %v", err)
	}

	if err := svc.Verify(ctx, wallet, challenge.Nonce, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestNonceIsSingleUse(t *testing.T) {
	t.Parallel()
	svc, store := newTestService()
	wallet := testWallet(t)
	ctx := context.Background()

	challenge, err := svc.IssueNonce(ctx, wallet)
	if err != nil {
		t.Fatalf("IssueNonce: %v", err)
	}

	stored, _ := store.Consume(ctx, challenge.Nonce, wallet)
	sig, err := svc.SignForTest(testKeyHex, wallet, stored)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	stored.Used = false
	if err := store.Save(ctx, stored); err != nil {
		t.Fatalf("re-save: %v", err)
	}

	if err := svc.Verify(ctx, wallet, challenge.Nonce, sig); err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	if err := svc.Verify(ctx, wallet, challenge.Nonce, sig); err != ErrNonceInvalid {
		t.Errorf("second Verify err = %v, want ErrNonceInvalid", err)
	}
}

func TestVerifyRejectsWrongWallet(t *testing.T) {
	t.Parallel()
	svc, store := newTestService()
	other := "0x1111111111111111111111111111111111111111"
	ctx := context.Background()

	challenge, err := svc.IssueNonce(ctx, other)
	if err != nil {
		t.Fatalf("IssueNonce: %v", err)
	}

	stored, err := store.Consume(ctx, challenge.Nonce, other)
	if err != nil {
		t.Fatalf("load nonce: %v", err)
	}
	// Signature from a key that does not own `other`.
	sig, err := svc.SignForTest(testKeyHex, other, stored)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	stored.Used = false
	if err := store.Save(ctx, stored); err != nil {
		t.Fatalf("re-save: %v", err)
	}

	if err := svc.Verify(ctx, other, challenge.Nonce, sig); err != ErrBadSignature {
		t.Errorf("err = %v, want ErrBadSignature", err)
	}
}

func TestExpiredNonceRejected(t *testing.T) {
	t.Parallel()
	store := NewMemStore()
	svc := New(store, -time.Second, 137) // already expired at issue
	wallet := testWallet(t)
	ctx := context.Background()

	challenge, err := svc.IssueNonce(ctx, wallet)
	if err != nil {
		t.Fatalf("IssueNonce: %v", err)
	}
	if err := svc.Verify(ctx, wallet, challenge.Nonce, "0x00"); err != ErrNonceInvalid {
		t.Errorf("err = %v, want ErrNonceInvalid", err)
	}
}
