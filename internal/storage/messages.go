package storage

import (
	"context"
	"fmt"
	"strings"
)

func (r *Repository) SaveChatMessage(ctx context.Context, msg *ChatMessage) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_messages (chat_id, user_id, username, text, is_bot, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ChatID, msg.UserID, msg.Username, msg.Text, msg.IsBot, msg.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save chat message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	msg.ID = id
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchChatMessages returns up to limit newest messages in chatID containing query.
func (r *Repository) SearchChatMessages(ctx context.Context, chatID int64, query string, limit int) ([]*ChatMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, chat_id, user_id, username, text, is_bot, created_at
		 FROM chat_messages WHERE chat_id = ? AND text LIKE ? ESCAPE '\'
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		chatID, "%"+likeEscaper.Replace(query)+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search chat messages: %w", err)
	}
	defer rows.Close()

	var messages []*ChatMessage
	for rows.Next() {
		var (
			msg       ChatMessage
			createdAt int64
		)
		err := rows.Scan(&msg.ID, &msg.ChatID, &msg.UserID, &msg.Username, &msg.Text, &msg.IsBot, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		msg.CreatedAt = fromUnix(createdAt)
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

func (r *Repository) CountChatMessages(ctx context.Context, chatID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chat_messages WHERE chat_id = ?", chatID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chat messages: %w", err)
	}
	return count, nil
}
