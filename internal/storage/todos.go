package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func (r *Repository) CreateTodo(ctx context.Context, todo *Todo) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO todos (chat_id, user_id, text, priority, due_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		todo.ChatID, todo.UserID, todo.Text, todo.Priority, unixOrNil(todo.DueAt), todo.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create todo: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	todo.ID = id
	return nil
}

// ListTodos returns the user's todos: due date first (undated last), then
// priority, then creation order.
func (r *Repository) ListTodos(ctx context.Context, userID int64, completed bool) ([]*Todo, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, chat_id, user_id, text, priority, due_at, completed, created_at, completed_at
		 FROM todos WHERE user_id = ? AND completed = ?
		 ORDER BY due_at IS NULL, due_at, priority DESC, created_at, id`,
		userID, completed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query todos: %w", err)
	}
	defer rows.Close()

	var todos []*Todo
	for rows.Next() {
		var (
			todo               Todo
			dueAt, completedAt sql.NullInt64
			createdAt          int64
		)
		err := rows.Scan(
			&todo.ID, &todo.ChatID, &todo.UserID, &todo.Text, &todo.Priority,
			&dueAt, &todo.Completed, &createdAt, &completedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan todo: %w", err)
		}
		todo.DueAt = timePtr(dueAt)
		todo.CreatedAt = fromUnix(createdAt)
		todo.CompletedAt = timePtr(completedAt)
		todos = append(todos, &todo)
	}
	return todos, rows.Err()
}

func (r *Repository) CompleteTodo(ctx context.Context, id, userID int64, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE todos SET completed = 1, completed_at = ? WHERE id = ? AND user_id = ? AND completed = 0",
		at.Unix(), id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete todo: %w", err)
	}
	return affected(result)
}

func (r *Repository) DeleteTodo(ctx context.Context, id, userID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM todos WHERE id = ? AND user_id = ?", id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete todo: %w", err)
	}
	return affected(result)
}
