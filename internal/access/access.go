// Package access keeps the per-user subscription ledger: who may use premium
// features right now, the one-time trial and paid extensions.
package access

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/skoret/assistant-bot/internal/metrics"
	"github.com/skoret/assistant-bot/internal/storage"
)

var (
	ErrTrialUsed       = errors.New("trial already used")
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidDuration = errors.New("duration must be positive")
)

// Reason explains a denied check
type Reason string

const (
	ReasonNoSubscription Reason = "no_subscription"
	ReasonExpired        Reason = "expired"
)

type CheckResult struct {
	Allowed        bool
	Admin          bool
	Reason         Reason
	EndsAt         *time.Time
	TrialAvailable bool
}

type Repository interface {
	GetUser(ctx context.Context, id int64) (*storage.User, error)
	GrantTrial(ctx context.Context, userID int64, now, end time.Time) (bool, error)
	UpdateSubscriptionEnd(ctx context.Context, userID int64, now time.Time, next func(current *time.Time) (time.Time, error)) (time.Time, error)
}

type Service struct {
	repo    Repository
	adminID int64
	metrics *metrics.Metrics
}

func NewService(repo Repository, adminID int64, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		adminID: adminID,
		metrics: m,
	}
}

func (s *Service) IsAdmin(userID int64) bool {
	return s.adminID != 0 && userID == s.adminID
}

// Check reports the user's access state at now.
func (s *Service) Check(ctx context.Context, userID int64, now time.Time) (*CheckResult, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user")
	}

	result := &CheckResult{TrialAvailable: user == nil || !user.TrialUsed}
	if user != nil {
		result.EndsAt = user.SubscriptionEnd
	}

	switch {
	case s.IsAdmin(userID):
		result.Allowed = true
		result.Admin = true
	case result.EndsAt == nil:
		result.Reason = ReasonNoSubscription
	case result.EndsAt.After(now):
		result.Allowed = true
	default:
		result.Reason = ReasonExpired
	}
	return result, nil
}

// HasAccess is true for the admin and for users whose subscription ends strictly after now.
func (s *Service) HasAccess(ctx context.Context, userID int64, now time.Time) (bool, error) {
	result, err := s.Check(ctx, userID, now)
	if err != nil {
		return false, err
	}
	return result.Allowed, nil
}

// GrantTrial gives the user d of access once in a lifetime. The resulting end
// is max(current end, now+d).
func (s *Service) GrantTrial(ctx context.Context, userID int64, now time.Time, d time.Duration) (time.Time, error) {
	if d <= 0 {
		return time.Time{}, ErrInvalidDuration
	}

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "failed to get user")
	}
	if user != nil && user.TrialUsed {
		return time.Time{}, ErrTrialUsed
	}

	granted, err := s.repo.GrantTrial(ctx, userID, now, now.Add(d))
	if err != nil {
		return time.Time{}, errors.Wrap(err, "failed to grant trial")
	}
	if !granted {
		return time.Time{}, ErrTrialUsed
	}
	s.metrics.TrialsGranted.Inc()

	user, err = s.repo.GetUser(ctx, userID)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "failed to reload user")
	}
	if user == nil || user.SubscriptionEnd == nil {
		return time.Time{}, ErrUserNotFound
	}
	return *user.SubscriptionEnd, nil
}

// Extend adds d to the user's subscription, counted from the later of now
// and the current end. Callers must deduplicate payments themselves.
func (s *Service) Extend(ctx context.Context, userID int64, now time.Time, d time.Duration) (time.Time, error) {
	if d <= 0 {
		return time.Time{}, ErrInvalidDuration
	}

	end, err := s.repo.UpdateSubscriptionEnd(ctx, userID, now, func(current *time.Time) (time.Time, error) {
		return NextEnd(current, now, d), nil
	})
	if err != nil {
		return time.Time{}, errors.Wrap(err, "failed to extend subscription")
	}
	return end, nil
}

// NextEnd is max(current, now) + d; a nil current counts as now.
func NextEnd(current *time.Time, now time.Time, d time.Duration) time.Time {
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	return base.Add(d)
}
