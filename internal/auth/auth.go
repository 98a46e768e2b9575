// Package auth implements wallet authentication for the protected API
// endpoints: server-issued single-use nonces and EIP-712 typed-data
// signature verification against the claiming wallet address.
//
// Nonces live in a repository with TTL semantics so multiple backend
// instances share one single-use set.
package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/google/uuid"

	"market-intel/internal/storage"
)

// walletRe validates the claimed wallet address.
var walletRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

var (
	// ErrInvalidWallet reports a malformed wallet address.
	ErrInvalidWallet = errors.New("invalid wallet address")
	// ErrNonceInvalid reports an unknown, expired, or already-used nonce.
	ErrNonceInvalid = errors.New("nonce invalid or expired")
	// ErrBadSignature reports a signature that does not recover to the
	// claimed wallet.
	ErrBadSignature = errors.New("signature does not match wallet")
)

// Challenge is the issued nonce payload returned to the client.
type Challenge struct {
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

// NonceStore is the repository capability the service needs.
type NonceStore interface {
	Save(ctx context.Context, n *storage.Nonce) error
	Consume(ctx context.Context, nonce, wallet string) (*storage.Nonce, error)
	PruneExpired(ctx context.Context) error
}

// Service issues and verifies authentication challenges.
type Service struct {
	nonces  NonceStore
	ttl     time.Duration
	chainID *big.Int
}

// New creates the service.
func New(nonces NonceStore, ttl time.Duration, chainID int64) *Service {
	return &Service{
		nonces:  nonces,
		ttl:     ttl,
		chainID: big.NewInt(chainID),
	}
}

// ValidWallet reports whether an address is well-formed.
func ValidWallet(wallet string) bool {
	return walletRe.MatchString(wallet)
}

// IssueNonce creates a single-use challenge for a wallet.
func (s *Service) IssueNonce(ctx context.Context, wallet string) (*Challenge, error) {
	if !ValidWallet(wallet) {
		return nil, ErrInvalidWallet
	}
	wallet = strings.ToLower(wallet)

	// Opportunistic cleanup keeps the table bounded without a ticker.
	if err := s.nonces.PruneExpired(ctx); err != nil {
		return nil, fmt.Errorf("prune nonces: %w", err)
	}

	now := time.Now().UTC()
	nonce := uuid.NewString()
	message := fmt.Sprintf("Sign this message to authenticate.\nNonce: %s\nIssued: %d", nonce, now.Unix())

	if err := s.nonces.Save(ctx, &storage.Nonce{
		Nonce:     nonce,
		Wallet:    wallet,
		Message:   message,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}); err != nil {
		return nil, fmt.Errorf("save nonce: %w", err)
	}

	return &Challenge{Nonce: nonce, Timestamp: now.Unix(), Message: message}, nil
}

// Verify consumes a nonce and checks the EIP-712 signature over it.
// The nonce is spent whether or not the signature verifies — a failed
// attempt cannot be retried against the same nonce.
func (s *Service) Verify(ctx context.Context, wallet, nonce, signatureHex string) error {
	if !ValidWallet(wallet) {
		return ErrInvalidWallet
	}
	wallet = strings.ToLower(wallet)

	stored, err := s.nonces.Consume(ctx, nonce, wallet)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return ErrNonceInvalid
		}
		return fmt.Errorf("consume nonce: %w", err)
	}

	hash, err := s.typedDataHash(wallet, stored)
	if err != nil {
		return fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil || len(sig) != 65 {
		return ErrBadSignature
	}
	// Normalize V from 27/28 to 0/1 for recovery.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return ErrBadSignature
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), wallet) {
		return ErrBadSignature
	}
	return nil
}

// typedDataHash builds the EIP-712 digest the client signed.
func (s *Service) typedDataHash(wallet string, n *storage.Nonce) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"Auth": {
				{Name: "wallet", Type: "address"},
				{Name: "nonce", Type: "string"},
				{Name: "message", Type: "string"},
				{Name: "timestamp", Type: "string"},
			},
		},
		PrimaryType: "Auth",
		Domain: apitypes.TypedDataDomain{
			Name:    "MarketIntel",
			Version: "1",
			ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(s.chainID)),
		},
		Message: apitypes.TypedDataMessage{
			"wallet":    common.HexToAddress(wallet).Hex(),
			"nonce":     n.Nonce,
			"message":   n.Message,
			"timestamp": strconv.FormatInt(n.IssuedAt.Unix(), 10),
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, err
	}
	return hash, nil
}

// SignForTest produces a valid signature for a challenge with the given
// private key. Test helper kept here so the typed-data layout has a single
// definition.
func (s *Service) SignForTest(privKeyHex string, wallet string, n *storage.Nonce) (string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return "", err
	}
	hash, err := s.typedDataHash(strings.ToLower(wallet), n)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return "", err
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}
