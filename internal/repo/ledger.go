package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"mindlock/internal/domain"
)

// ErrInsufficientBalance is returned when a debit would take the cached
// balance below zero. Detected inside the caller's transaction, so the check
// and the write see one snapshot.
var ErrInsufficientBalance = errors.New("insufficient gem balance")

// AppendLedgerTx is the only write path for gem balances. It mutates the
// denormalized users.gems counter with a conditional UPDATE, then inserts the
// immutable ledger row, all inside the caller's transaction. Entries are
// never updated or deleted; corrections are compensating entries.
func (r Repo) AppendLedgerTx(ctx context.Context, tx *sql.Tx, e domain.LedgerEntry) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE users SET gems = gems + ? WHERE id=? AND gems + ? >= 0`,
		e.Amount, e.OwnerUserID, e.Amount)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if e.Amount < 0 {
			return 0, ErrInsufficientBalance
		}
		return 0, ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO ledger_entries(id,owner_user_id,amount,cause,cause_ref_id,description,created_at) VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.OwnerUserID, e.Amount, e.Cause, e.CauseRefID, e.Description, e.CreatedAt); err != nil {
		return 0, err
	}
	var balance int64
	if err := tx.QueryRowContext(ctx, `SELECT gems FROM users WHERE id=?`, e.OwnerUserID).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (r Repo) ListLedgerEntries(ctx context.Context, ownerUserID string, limit int, cursorCreatedAt, cursorID string) ([]domain.LedgerEntry, error) {
	clauses := []string{"owner_user_id=?"}
	args := []any{ownerUserID}
	if cursorCreatedAt != "" && cursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorID)
	}
	query := `SELECT id,owner_user_id,amount,cause,cause_ref_id,description,created_at FROM ledger_entries WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.OwnerUserID, &e.Amount, &e.Cause, &e.CauseRefID, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LedgerSum folds the ledger for one user. Diagnostic read; must always
// equal the cached users.gems counter.
func (r Repo) LedgerSum(ctx context.Context, ownerUserID string) (int64, error) {
	var sum sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT SUM(amount) FROM ledger_entries WHERE owner_user_id=?`, ownerUserID).Scan(&sum)
	return sum.Int64, err
}
