package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const paymentColumns = `id, user_id, provider_id, reference_code, amount, currency, period_days, status, confirmation_url, created_at, confirmed_at`

func scanPayment(s scanner) (*Payment, error) {
	var (
		p           Payment
		createdAt   int64
		confirmedAt sql.NullInt64
	)
	err := s.Scan(
		&p.ID, &p.UserID, &p.ProviderID, &p.ReferenceCode, &p.Amount, &p.Currency,
		&p.PeriodDays, &p.Status, &p.ConfirmationURL, &createdAt, &confirmedAt,
	)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = fromUnix(createdAt)
	p.ConfirmedAt = timePtr(confirmedAt)
	return &p, nil
}

func (r *Repository) CreatePayment(ctx context.Context, payment *Payment) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO payments (user_id, provider_id, reference_code, amount, currency, period_days, status, confirmation_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.UserID, payment.ProviderID, payment.ReferenceCode, payment.Amount.String(), payment.Currency,
		payment.PeriodDays, payment.Status, payment.ConfirmationURL, payment.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	payment.ID = id
	return nil
}

func (r *Repository) GetPaymentByProviderID(ctx context.Context, providerID string) (*Payment, error) {
	payment, err := scanPayment(r.db.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE provider_id = ?", providerID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query payment: %w", err)
	}
	return payment, nil
}

// ListPendingPayments returns pending payments created at or after since,
// oldest first. Pending payments with confirmed_at set were confirmed by the
// provider but never applied, and are returned regardless of age.
func (r *Repository) ListPendingPayments(ctx context.Context, since time.Time) ([]*Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+paymentColumns+` FROM payments
		 WHERE status = ? AND (created_at >= ? OR confirmed_at IS NOT NULL)
		 ORDER BY created_at, id`,
		PaymentStatusPending, since.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}

// UpdatePaymentStatus moves a payment from one status to another. Only the
// caller that observes the from status wins; everyone else gets false.
// confirmedAt is written as given, nil clears it.
func (r *Repository) UpdatePaymentStatus(ctx context.Context, providerID string, from, to PaymentStatus, confirmedAt *time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE payments SET status = ?, confirmed_at = ? WHERE provider_id = ? AND status = ?",
		to, unixOrNil(confirmedAt), providerID, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update payment status: %w", err)
	}
	return affected(result)
}
