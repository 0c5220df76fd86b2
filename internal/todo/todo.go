// Package todo manages a user's task list.
package todo

import (
	"context"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/skoret/assistant-bot/internal/reminder"
	"github.com/skoret/assistant-bot/internal/storage"
)

const MaxPriority = 3

var (
	ErrEmptyText = errors.New("task text is empty")
	ErrNotFound  = errors.New("task not found")
)

type Repository interface {
	CreateTodo(ctx context.Context, todo *storage.Todo) error
	ListTodos(ctx context.Context, userID int64, completed bool) ([]*storage.Todo, error)
	CompleteTodo(ctx context.Context, id, userID int64, at time.Time) (bool, error)
	DeleteTodo(ctx context.Context, id, userID int64) (bool, error)
}

type Service struct {
	repo  Repository
	clock clockwork.Clock
	loc   *time.Location
}

func NewService(repo Repository, clock clockwork.Clock, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{repo: repo, clock: clock, loc: loc}
}

// Add creates a task from "[time expression] [!..] text". A recognised
// leading time expression becomes the due date, leading exclamation marks
// raise the priority.
func (s *Service) Add(ctx context.Context, userID, chatID int64, args string) (*storage.Todo, error) {
	now := s.clock.Now().In(s.loc)
	text := strings.TrimSpace(args)

	var due *time.Time
	if expr, body, err := reminder.Split(text); err == nil {
		if t, err := reminder.Parse(expr, now); err == nil {
			due = &t
			text = body
		}
	}

	priority, text := splitPriority(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	todo := &storage.Todo{
		ChatID:    chatID,
		UserID:    userID,
		Text:      text,
		Priority:  priority,
		DueAt:     due,
		CreatedAt: now,
	}
	if err := s.repo.CreateTodo(ctx, todo); err != nil {
		return nil, errors.Wrap(err, "create todo")
	}
	return todo, nil
}

func splitPriority(text string) (int, string) {
	trimmed := strings.TrimLeft(text, "!")
	priority := len(text) - len(trimmed)
	if priority > MaxPriority {
		priority = MaxPriority
	}
	return priority, strings.TrimSpace(trimmed)
}

func (s *Service) List(ctx context.Context, userID int64, completed bool) ([]*storage.Todo, error) {
	todos, err := s.repo.ListTodos(ctx, userID, completed)
	if err != nil {
		return nil, errors.Wrap(err, "list todos")
	}
	return todos, nil
}

func (s *Service) Complete(ctx context.Context, userID, id int64) error {
	ok, err := s.repo.CompleteTodo(ctx, id, userID, s.clock.Now())
	if err != nil {
		return errors.Wrap(err, "complete todo")
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	ok, err := s.repo.DeleteTodo(ctx, id, userID)
	if err != nil {
		return errors.Wrap(err, "delete todo")
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
