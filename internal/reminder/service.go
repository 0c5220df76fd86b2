// Package reminder turns user input into persisted reminders.
// Delivery is done by the scheduler sweep.
package reminder

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/skoret/assistant-bot/internal/metrics"
	"github.com/skoret/assistant-bot/internal/storage"
)

var (
	ErrDueNotInFuture = errors.New("due time is not in the future")
	ErrNotFound       = errors.New("reminder not found")
)

type Repository interface {
	CreateReminder(ctx context.Context, rem *storage.Reminder) error
	GetReminder(ctx context.Context, id int64) (*storage.Reminder, error)
	ListActiveReminders(ctx context.Context, userID int64) ([]*storage.Reminder, error)
	DeleteReminder(ctx context.Context, id, userID int64) (bool, error)
}

type Service struct {
	repo    Repository
	clock   clockwork.Clock
	loc     *time.Location
	metrics *metrics.Metrics
}

func NewService(repo Repository, clock clockwork.Clock, loc *time.Location, m *metrics.Metrics) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{repo: repo, clock: clock, loc: loc, metrics: m}
}

// Now is the current time in the zone reminder expressions are read in.
func (s *Service) Now() time.Time {
	return s.clock.Now().In(s.loc)
}

func (s *Service) Location() *time.Location {
	return s.loc
}

// Create stores a reminder due at dueAt. dueAt must be strictly after now.
func (s *Service) Create(ctx context.Context, userID, chatID int64, body string, dueAt time.Time) (*storage.Reminder, error) {
	if body == "" {
		return nil, ErrEmptyBody
	}
	now := s.Now()
	if !dueAt.After(now) {
		return nil, ErrDueNotInFuture
	}

	rem := &storage.Reminder{
		UserID:    userID,
		ChatID:    chatID,
		Body:      body,
		DueAt:     ceilSecond(dueAt),
		CreatedAt: now,
	}
	if err := s.repo.CreateReminder(ctx, rem); err != nil {
		return nil, errors.Wrap(err, "create reminder")
	}
	s.metrics.RemindersCreated.Inc()
	return rem, nil
}

// CreateFromArgs parses "<time expression> <text>" and creates the reminder.
func (s *Service) CreateFromArgs(ctx context.Context, userID, chatID int64, args string) (*storage.Reminder, error) {
	expr, body, err := Split(args)
	if err != nil {
		return nil, err
	}
	dueAt, err := Parse(expr, s.Now())
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, userID, chatID, body, dueAt)
}

// Get returns the reminder only if it belongs to userID.
func (s *Service) Get(ctx context.Context, userID, id int64) (*storage.Reminder, error) {
	rem, err := s.repo.GetReminder(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get reminder")
	}
	if rem == nil || rem.UserID != userID {
		return nil, ErrNotFound
	}
	return rem, nil
}

func (s *Service) List(ctx context.Context, userID int64) ([]*storage.Reminder, error) {
	reminders, err := s.repo.ListActiveReminders(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list reminders")
	}
	return reminders, nil
}

// Delete removes a reminder owned by userID, which also cancels its delivery.
func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	ok, err := s.repo.DeleteReminder(ctx, id, userID)
	if err != nil {
		return errors.Wrap(err, "delete reminder")
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// ceilSecond rounds t up to a whole second, the store's resolution, so a
// stored due time is never earlier than the requested one.
func ceilSecond(t time.Time) time.Time {
	if r := t.Truncate(time.Second); !r.Equal(t) {
		return r.Add(time.Second)
	}
	return t
}
