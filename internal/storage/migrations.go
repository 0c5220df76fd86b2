package storage

import (
	"context"
	"fmt"
)

// Migrate creates all necessary tables.
// Timestamps are stored as unix seconds so range comparisons are numeric.
func (r *Repository) Migrate(ctx context.Context) error {
	migrations := []struct {
		name string
		sql  string
	}{
		{
			name: "create_users",
			sql: `CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY,
				username TEXT NOT NULL DEFAULT '',
				trial_used INTEGER NOT NULL DEFAULT 0,
				subscription_end INTEGER,
				expiry_notified_for INTEGER,
				created_at INTEGER NOT NULL
			)`,
		},
		{
			name: "create_reminders",
			sql: `CREATE TABLE IF NOT EXISTS reminders (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				chat_id INTEGER NOT NULL,
				body TEXT NOT NULL,
				due_at INTEGER NOT NULL,
				completed INTEGER NOT NULL DEFAULT 0,
				attempts INTEGER NOT NULL DEFAULT 0,
				last_error TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				completed_at INTEGER,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
		},
		{
			name: "create_payments",
			sql: `CREATE TABLE IF NOT EXISTS payments (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				provider_id TEXT NOT NULL UNIQUE,
				reference_code TEXT NOT NULL UNIQUE,
				amount TEXT NOT NULL,
				currency TEXT NOT NULL,
				period_days INTEGER NOT NULL,
				status TEXT NOT NULL,
				confirmation_url TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				confirmed_at INTEGER,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
		},
		{
			name: "create_todos",
			sql: `CREATE TABLE IF NOT EXISTS todos (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				chat_id INTEGER NOT NULL,
				user_id INTEGER NOT NULL,
				text TEXT NOT NULL,
				priority INTEGER NOT NULL DEFAULT 0,
				due_at INTEGER,
				completed INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				completed_at INTEGER,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
		},
		{
			name: "create_transactions",
			sql: `CREATE TABLE IF NOT EXISTS transactions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				kind TEXT NOT NULL CHECK (kind IN ('income', 'expense')),
				amount TEXT NOT NULL,
				category TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
		},
		{
			name: "create_chat_messages",
			sql: `CREATE TABLE IF NOT EXISTS chat_messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				chat_id INTEGER NOT NULL,
				user_id INTEGER NOT NULL,
				username TEXT NOT NULL DEFAULT '',
				text TEXT NOT NULL,
				is_bot INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL
			)`,
		},
		{
			name: "create_archives",
			sql: `CREATE TABLE IF NOT EXISTS archives (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				chat_id INTEGER NOT NULL,
				user_id INTEGER NOT NULL,
				username TEXT NOT NULL DEFAULT '',
				file_id TEXT NOT NULL,
				file_name TEXT NOT NULL,
				file_type TEXT NOT NULL CHECK (file_type IN ('document', 'photo')),
				mime_type TEXT NOT NULL DEFAULT '',
				file_size INTEGER NOT NULL DEFAULT 0,
				caption TEXT NOT NULL DEFAULT '',
				uploaded_at INTEGER NOT NULL
			)`,
		},
		{
			name: "create_indexes",
			sql: `CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(completed, attempts, due_at);
				CREATE INDEX IF NOT EXISTS idx_reminders_user_id ON reminders(user_id);
				CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status, created_at);
				CREATE INDEX IF NOT EXISTS idx_todos_user_id ON todos(user_id, completed);
				CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id, created_at);
				CREATE INDEX IF NOT EXISTS idx_chat_messages_chat_id ON chat_messages(chat_id, created_at);
				CREATE INDEX IF NOT EXISTS idx_users_subscription_end ON users(subscription_end);
				CREATE INDEX IF NOT EXISTS idx_archives_chat_id ON archives(chat_id, uploaded_at);
			`,
		},
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration.sql); err != nil {
			return fmt.Errorf("migration %s failed: %w", migration.name, err)
		}
	}

	return nil
}
