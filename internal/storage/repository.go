package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Repository struct {
	db *sql.DB
}

type scanner interface {
	Scan(dest ...any) error
}

// NewRepository opens (and creates, if needed) the SQLite database at dsn.
func NewRepository(dsn string) (*Repository, error) {
	dsn = strings.TrimPrefix(dsn, "file:")
	if dsn == "" {
		dsn = "bot.db"
	}

	if dsn != ":memory:" {
		path := dsn
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path '%s': %w", path, err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dsn+sep+"_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database '%s': %w", dsn, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database '%s': %w", dsn, err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// User operations

const userColumns = `id, username, trial_used, subscription_end, expiry_notified_for, created_at`

func scanUser(s scanner) (*User, error) {
	var (
		user          User
		end, notified sql.NullInt64
		createdAt     int64
	)
	if err := s.Scan(&user.ID, &user.Username, &user.TrialUsed, &end, &notified, &createdAt); err != nil {
		return nil, err
	}
	user.SubscriptionEnd = timePtr(end)
	user.ExpiryNotifiedFor = timePtr(notified)
	user.CreatedAt = fromUnix(createdAt)
	return &user, nil
}

// GetOrCreateUser returns the user with the given Telegram id, creating it
// on first contact. The stored username is refreshed when it changes.
func (r *Repository) GetOrCreateUser(ctx context.Context, id int64, username string, now time.Time) (*User, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET username = excluded.username
		 WHERE excluded.username != '' AND users.username != excluded.username`,
		id, username, now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	user, err := r.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %d vanished after upsert", id)
	}
	return user, nil
}

func (r *Repository) GetUser(ctx context.Context, id int64) (*User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?", id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ? COLLATE NOCASE", username,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query user by username: %w", err)
	}
	return user, nil
}

// GrantTrial marks the trial as used and moves subscription_end to end unless
// it already lies further in the future. A missing user row is created. It
// reports false when the trial had already been used.
func (r *Repository) GrantTrial(ctx context.Context, userID int64, now, end time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, trial_used, subscription_end, created_at) VALUES (?, 1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			trial_used = 1,
			subscription_end = CASE
				WHEN users.subscription_end IS NOT NULL AND users.subscription_end > excluded.subscription_end
				THEN users.subscription_end
				ELSE excluded.subscription_end
			END
		 WHERE users.trial_used = 0`,
		userID, end.Unix(), now.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to grant trial: %w", err)
	}
	return affected(result)
}

// UpdateSubscriptionEnd reads the current subscription end, computes the new
// one with next and stores it, all inside a single transaction. The user row
// is created with now as its creation time if it does not exist yet.
func (r *Repository) UpdateSubscriptionEnd(ctx context.Context, userID int64, now time.Time, next func(current *time.Time) (time.Time, error)) (time.Time, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO users (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING",
		userID, now.Unix(),
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to ensure user: %w", err)
	}

	var current sql.NullInt64
	err = tx.QueryRowContext(ctx, "SELECT subscription_end FROM users WHERE id = ?", userID).Scan(&current)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query subscription end: %w", err)
	}

	end, err := next(timePtr(current))
	if err != nil {
		return time.Time{}, err
	}

	if _, err := tx.ExecContext(ctx, "UPDATE users SET subscription_end = ? WHERE id = ?", end.Unix(), userID); err != nil {
		return time.Time{}, fmt.Errorf("failed to update subscription end: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return time.Time{}, fmt.Errorf("failed to commit subscription end: %w", err)
	}
	return fromUnix(end.Unix()), nil
}

func (r *Repository) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

func (r *Repository) CountActiveSubscriptions(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE subscription_end > ?", now.Unix(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active subscriptions: %w", err)
	}
	return count, nil
}

// ListUsersExpiringBetween returns users whose subscription ends in (from, to]
// and who have not yet been notified about that particular end.
func (r *Repository) ListUsersExpiringBetween(ctx context.Context, from, to time.Time) ([]*User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE subscription_end > ? AND subscription_end <= ?
		   AND (expiry_notified_for IS NULL OR expiry_notified_for != subscription_end)
		 ORDER BY subscription_end`,
		from.Unix(), to.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (r *Repository) MarkExpiryNotified(ctx context.Context, userID int64, end time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET expiry_notified_for = ? WHERE id = ?", end.Unix(), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark expiry notified: %w", err)
	}
	return nil
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func fromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnix(v.Int64)
	return &t
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
