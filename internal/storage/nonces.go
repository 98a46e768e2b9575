package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Nonce is one single-use authentication challenge.
type Nonce struct {
	Nonce     string    `db:"nonce"`
	Wallet    string    `db:"wallet"`
	Message   string    `db:"message"`
	IssuedAt  time.Time `db:"issued_at"`
	ExpiresAt time.Time `db:"expires_at"`
	Used      bool      `db:"used"`
}

// NonceRepo persists auth nonces so every instance of the backend shares
// the same single-use set.
type NonceRepo struct {
	db *DB
}

// NewNonceRepo creates the repository.
func NewNonceRepo(db *DB) *NonceRepo {
	return &NonceRepo{db: db}
}

// Save stores a freshly issued nonce.
func (r *NonceRepo) Save(ctx context.Context, n *Nonce) error {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_nonces (nonce, wallet, message, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		n.Nonce, n.Wallet, n.Message, n.IssuedAt, n.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save nonce: %w", err)
	}
	return nil
}

// Consume atomically marks an unexpired, unused nonce as used and returns
// it. Returns ErrNoRows when the nonce is unknown, expired, used, or issued
// to a different wallet — consuming is all-or-nothing.
func (r *NonceRepo) Consume(ctx context.Context, nonce, wallet string) (*Nonce, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var n Nonce
	err := r.db.GetContext(ctx, &n, `
		UPDATE auth_nonces SET used = TRUE
		WHERE nonce = $1 AND wallet = $2 AND NOT used AND expires_at > now()
		RETURNING *`, nonce, wallet)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("consume nonce: %w", err)
	}
	return &n, nil
}

// PruneExpired deletes nonces past their expiry. Called opportunistically
// by the issuing path.
func (r *NonceRepo) PruneExpired(ctx context.Context) error {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `DELETE FROM auth_nonces WHERE expires_at <= now()`)
	if err != nil {
		return fmt.Errorf("prune nonces: %w", err)
	}
	return nil
}
