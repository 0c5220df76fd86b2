package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const reminderColumns = `id, user_id, chat_id, body, due_at, completed, attempts, last_error, created_at, completed_at`

func scanReminder(s scanner) (*Reminder, error) {
	var (
		rem              Reminder
		dueAt, createdAt int64
		completedAt      sql.NullInt64
	)
	err := s.Scan(
		&rem.ID, &rem.UserID, &rem.ChatID, &rem.Body, &dueAt,
		&rem.Completed, &rem.Attempts, &rem.LastError, &createdAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	rem.DueAt = fromUnix(dueAt)
	rem.CreatedAt = fromUnix(createdAt)
	rem.CompletedAt = timePtr(completedAt)
	return &rem, nil
}

func (r *Repository) CreateReminder(ctx context.Context, rem *Reminder) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO reminders (user_id, chat_id, body, due_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rem.UserID, rem.ChatID, rem.Body, rem.DueAt.Unix(), rem.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create reminder: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rem.ID = id
	rem.Completed = false
	return nil
}

func (r *Repository) GetReminder(ctx context.Context, id int64) (*Reminder, error) {
	rem, err := scanReminder(r.db.QueryRowContext(ctx,
		"SELECT "+reminderColumns+" FROM reminders WHERE id = ?", id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query reminder: %w", err)
	}
	return rem, nil
}

// ListActiveReminders returns the user's not yet delivered reminders, soonest first.
func (r *Repository) ListActiveReminders(ctx context.Context, userID int64) ([]*Reminder, error) {
	return r.queryReminders(ctx,
		"SELECT "+reminderColumns+" FROM reminders WHERE user_id = ? AND completed = 0 ORDER BY due_at, id",
		userID,
	)
}

// ListDueReminders returns up to limit not-completed reminders with due_at <= now.
// Reminders with fewer failed attempts come first, so a batch full of
// undeliverable reminders cannot hold back fresh ones.
func (r *Repository) ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*Reminder, error) {
	return r.queryReminders(ctx,
		"SELECT "+reminderColumns+" FROM reminders WHERE completed = 0 AND due_at <= ? ORDER BY attempts, due_at, id LIMIT ?",
		now.Unix(), limit,
	)
}

func (r *Repository) queryReminders(ctx context.Context, query string, args ...any) ([]*Reminder, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		reminders = append(reminders, rem)
	}
	return reminders, rows.Err()
}

// CompleteReminder flips completed to true. It reports false if the reminder
// is gone or was already completed.
func (r *Repository) CompleteReminder(ctx context.Context, id int64, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE reminders SET completed = 1, completed_at = ? WHERE id = ? AND completed = 0",
		at.Unix(), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete reminder: %w", err)
	}
	return affected(result)
}

// RecordReminderFailure bumps the attempt counter of a pending reminder and
// returns the new count, or 0 if the reminder is gone or completed.
func (r *Repository) RecordReminderFailure(ctx context.Context, id int64, reason string) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx,
		`UPDATE reminders SET attempts = attempts + 1, last_error = ?
		 WHERE id = ? AND completed = 0
		 RETURNING attempts`,
		reason, id,
	).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to record reminder failure: %w", err)
	}
	return attempts, nil
}

// DeleteReminder removes the reminder only if it belongs to userID.
func (r *Repository) DeleteReminder(ctx context.Context, id, userID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM reminders WHERE id = ? AND user_id = ?", id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete reminder: %w", err)
	}
	return affected(result)
}

func (r *Repository) CountPendingReminders(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reminders WHERE completed = 0").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count reminders: %w", err)
	}
	return count, nil
}
