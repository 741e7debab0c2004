package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/auction-house/internal/model"
	"github.com/iliyamo/auction-house/internal/utils"
)

// ProfileRepo persists accounts and their bid-token balances.  Every
// balance change is paired with a token_transactions row written in the
// same transaction.
type ProfileRepo struct{ DB *sql.DB }

func NewProfileRepo(db *sql.DB) *ProfileRepo { return &ProfileRepo{DB: db} }

var ErrEmailExists = errors.New("email already exists")

const profileColumns = `id, email, password_hash, role, token_balance, created_at, updated_at`

func scanProfile(s rowScanner) (model.Profile, error) {
	var p model.Profile
	err := s.Scan(&p.ID, &p.Email, &p.PasswordHash, &p.Role, &p.TokenBalance, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Profile{}, ErrProfileNotFound
	}
	return p, err
}

// Create inserts a profile and returns its ID.
func (r *ProfileRepo) Create(ctx context.Context, email, password, role string, cost int, now time.Time) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO profiles (email, password_hash, role, token_balance, created_at, updated_at) VALUES (?,?,?,0,?,?)",
		email, hash, role, now, now)
	if err != nil {
		msg := strings.ToLower(err.Error())
		// 1062 is MySQL's duplicate key; SQLite reports a UNIQUE constraint failure.
		if strings.Contains(msg, "1062") || strings.Contains(msg, "unique constraint") {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail fetches a profile by normalized email.
func (r *ProfileRepo) GetByEmail(ctx context.Context, email string) (model.Profile, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanProfile(r.DB.QueryRowContext(ctx,
		"SELECT "+profileColumns+" FROM profiles WHERE email=? LIMIT 1", email))
}

// GetByID fetches a profile by id.
func (r *ProfileRepo) GetByID(ctx context.Context, id uint64) (model.Profile, error) {
	return scanProfile(r.DB.QueryRowContext(ctx,
		"SELECT "+profileColumns+" FROM profiles WHERE id=? LIMIT 1", id))
}

// BalanceTx reads the token balance inside the bid transaction.
func (r *ProfileRepo) BalanceTx(ctx context.Context, tx *sql.Tx, id uint64) (int64, error) {
	var bal int64
	err := tx.QueryRowContext(ctx, "SELECT token_balance FROM profiles WHERE id=?", id).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrProfileNotFound
	}
	return bal, err
}

// DebitTokenTx removes one token from the profile.  The update is
// conditional on a positive balance so the balance can never go negative;
// ErrInsufficientTokens is returned when nothing was debited.
func (r *ProfileRepo) DebitTokenTx(ctx context.Context, tx *sql.Tx, id uint64, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE profiles SET token_balance = token_balance - 1, updated_at = ? WHERE id = ? AND token_balance >= 1",
		now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInsufficientTokens
	}
	return nil
}

// RecordTokenTxTx appends an audit row to token_transactions.
func (r *ProfileRepo) RecordTokenTxTx(ctx context.Context, tx *sql.Tx, t *model.TokenTransaction) error {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO token_transactions (profile_id, type, amount, reference, created_at) VALUES (?,?,?,?,?)",
		t.ProfileID, t.Type, t.Amount, t.Reference, t.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	return nil
}

// GrantTokens credits amount tokens and records a grant transaction.  It
// returns the new balance.
func (r *ProfileRepo) GrantTokens(ctx context.Context, id uint64, amount int64, reference string, now time.Time) (int64, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx,
		"UPDATE profiles SET token_balance = token_balance + ?, updated_at = ? WHERE id = ?", amount, now, id)
	if err != nil {
		return 0, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if n == 0 {
		return 0, ErrProfileNotFound
	}
	if err := r.RecordTokenTxTx(ctx, tx, &model.TokenTransaction{
		ProfileID: id,
		Type:      model.TokenTxGrant,
		Amount:    amount,
		Reference: reference,
		CreatedAt: now,
	}); err != nil {
		return 0, err
	}
	bal, err := r.BalanceTx(ctx, tx, id)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return bal, nil
}

// ListTokenTransactions returns the audit trail of a profile, newest first.
func (r *ProfileRepo) ListTokenTransactions(ctx context.Context, id uint64) ([]model.TokenTransaction, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, profile_id, type, amount, reference, created_at FROM token_transactions WHERE profile_id=? ORDER BY id DESC",
		id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.TokenTransaction, 0)
	for rows.Next() {
		var t model.TokenTransaction
		if err := rows.Scan(&t.ID, &t.ProfileID, &t.Type, &t.Amount, &t.Reference, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
