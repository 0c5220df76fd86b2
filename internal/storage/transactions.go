package storage

import (
	"context"
	"fmt"
	"time"
)

func (r *Repository) CreateTransaction(ctx context.Context, tx *Transaction) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (user_id, kind, amount, category, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tx.UserID, tx.Kind, tx.Amount.String(), tx.Category, tx.Description, tx.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	tx.ID = id
	return nil
}

// ListTransactions returns the user's transactions created in [from, to).
func (r *Repository) ListTransactions(ctx context.Context, userID int64, from, to time.Time) ([]*Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, kind, amount, category, description, created_at
		 FROM transactions WHERE user_id = ? AND created_at >= ? AND created_at < ?
		 ORDER BY created_at, id`,
		userID, from.Unix(), to.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []*Transaction
	for rows.Next() {
		var (
			tx        Transaction
			createdAt int64
		)
		err := rows.Scan(&tx.ID, &tx.UserID, &tx.Kind, &tx.Amount, &tx.Category, &tx.Description, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.CreatedAt = fromUnix(createdAt)
		txs = append(txs, &tx)
	}
	return txs, rows.Err()
}
