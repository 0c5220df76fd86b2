// Package scheduler runs the bot's periodic jobs: the reminder delivery
// sweep, pending payment polling and subscription expiry notices.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/skoret/assistant-bot/internal/lib/sl"
	"github.com/skoret/assistant-bot/internal/metrics"
	"github.com/skoret/assistant-bot/internal/storage"
)

const (
	defaultBatchSize = 100
	jobTimeout       = 5 * time.Minute
)

type Repository interface {
	ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*storage.Reminder, error)
	GetReminder(ctx context.Context, id int64) (*storage.Reminder, error)
	CompleteReminder(ctx context.Context, id int64, at time.Time) (bool, error)
	RecordReminderFailure(ctx context.Context, id int64, reason string) (int, error)
	ListUsersExpiringBetween(ctx context.Context, from, to time.Time) ([]*storage.User, error)
	MarkExpiryNotified(ctx context.Context, userID int64, end time.Time) error
}

type Notifier interface {
	SendNotification(ctx context.Context, chatID int64, text string) error
}

type PaymentSyncer interface {
	SyncPending(ctx context.Context) (int, error)
}

type Options struct {
	SweepInterval       time.Duration
	PaymentSyncInterval time.Duration
	ExpiryCheckInterval time.Duration
	ExpiryNotice        time.Duration
	// FailureAlert is the attempt count from which failed deliveries are logged at error level.
	FailureAlert int
	BatchSize    int
	Location     *time.Location
}

type Service struct {
	repo     Repository
	notifier Notifier
	payments PaymentSyncer
	clock    clockwork.Clock
	log      *slog.Logger
	metrics  *metrics.Metrics
	opts     Options

	cron gocron.Scheduler
}

// NewService wires the jobs; payments may be nil when billing is disabled.
func NewService(repo Repository, notifier Notifier, payments PaymentSyncer, clock clockwork.Clock, log *slog.Logger, m *metrics.Metrics, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FailureAlert <= 0 {
		opts.FailureAlert = 1
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		payments: payments,
		clock:    clock,
		log:      log.With(slog.String("component", "scheduler")),
		metrics:  m,
		opts:     opts,
	}
}

// Start registers the jobs and starts them in the background. The reminder
// sweep runs once right away so reminders that fell due while the process
// was down go out promptly.
func (s *Service) Start(ctx context.Context) error {
	cron, err := gocron.NewScheduler(
		gocron.WithClock(s.clock),
		gocron.WithLogger(s.log),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create scheduler")
	}

	jobs := []job{
		{name: "reminder-sweep", interval: s.opts.SweepInterval, run: func(ctx context.Context) error {
			_, err := s.SweepReminders(ctx)
			return err
		}},
		{name: "expiry-notices", interval: s.opts.ExpiryCheckInterval, run: func(ctx context.Context) error {
			_, err := s.NotifyExpiringSubscriptions(ctx)
			return err
		}},
	}
	if s.payments != nil {
		jobs = append(jobs, job{name: "payment-sync", interval: s.opts.PaymentSyncInterval, run: func(ctx context.Context) error {
			_, err := s.payments.SyncPending(ctx)
			return err
		}})
	}

	for _, j := range jobs {
		j := j
		_, err := cron.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(func() { s.runJob(ctx, j) }),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			_ = cron.Shutdown()
			return errors.Wrapf(err, "failed to register job %s", j.name)
		}
	}

	s.cron = cron
	cron.Start()
	s.log.Info("scheduler started",
		slog.Duration("sweep_interval", s.opts.SweepInterval),
		slog.Bool("payment_sync", s.payments != nil),
	)
	return nil
}

// Stop waits for running jobs to finish and stops the scheduler.
func (s *Service) Stop() error {
	if s.cron == nil {
		return nil
	}
	if err := s.cron.Shutdown(); err != nil {
		return errors.Wrap(err, "failed to stop scheduler")
	}
	return nil
}

type job struct {
	name     string
	interval time.Duration
	run      func(context.Context) error
}

func (s *Service) runJob(ctx context.Context, j job) {
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	if err := j.run(ctx); err != nil {
		s.log.Error("job failed", slog.String("job", j.name), sl.Err(err))
	}
}

// SweepReminders delivers every not-completed reminder whose due time has
// passed and returns how many were delivered.
func (s *Service) SweepReminders(ctx context.Context) (int, error) {
	now := s.clock.Now()
	due, err := s.repo.ListDueReminders(ctx, now, s.opts.BatchSize)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list due reminders")
	}

	delivered := 0
	for _, rem := range due {
		ok, err := s.deliver(ctx, rem.ID, now)
		if err != nil {
			s.log.Error("failed to deliver reminder", slog.Int64("reminder_id", rem.ID), sl.Err(err))
			continue
		}
		if ok {
			delivered++
		}
	}

	if len(due) > 0 {
		s.log.Debug("reminder sweep finished", slog.Int("due", len(due)), slog.Int("delivered", delivered))
	}
	return delivered, nil
}

// deliver re-reads the reminder right before sending so that a reminder
// deleted or completed since the listing is never sent.
func (s *Service) deliver(ctx context.Context, id int64, now time.Time) (bool, error) {
	rem, err := s.repo.GetReminder(ctx, id)
	if err != nil {
		return false, errors.Wrap(err, "failed to reload reminder")
	}
	if rem == nil || rem.Completed || rem.DueAt.After(now) {
		return false, nil
	}

	log := s.log.With(slog.Int64("reminder_id", rem.ID), slog.Int64("chat_id", rem.ChatID))

	if err := s.notifier.SendNotification(ctx, rem.ChatID, ReminderText(rem)); err != nil {
		s.metrics.ReminderFailures.Inc()
		attempts, rerr := s.repo.RecordReminderFailure(ctx, rem.ID, err.Error())
		if rerr != nil {
			return false, errors.Wrap(rerr, "failed to record delivery failure")
		}
		if attempts >= s.opts.FailureAlert {
			log.Error("reminder delivery keeps failing", slog.Int("attempts", attempts), sl.Err(err))
		} else {
			log.Warn("reminder delivery failed, will retry", slog.Int("attempts", attempts), sl.Err(err))
		}
		return false, nil
	}

	completed, err := s.repo.CompleteReminder(ctx, rem.ID, s.clock.Now())
	if err != nil {
		return false, errors.Wrap(err, "failed to mark reminder completed")
	}
	if !completed {
		log.Info("reminder removed while being delivered")
	}
	s.metrics.RemindersDelivered.Inc()
	return true, nil
}

// ReminderText is the message a user receives when a reminder fires.
func ReminderText(rem *storage.Reminder) string {
	return "🔔 Напоминание\n\n" + rem.Body
}

// NotifyExpiringSubscriptions warns users whose subscription ends within
// ExpiryNotice, once per subscription end.
func (s *Service) NotifyExpiringSubscriptions(ctx context.Context) (int, error) {
	now := s.clock.Now()
	users, err := s.repo.ListUsersExpiringBetween(ctx, now, now.Add(s.opts.ExpiryNotice))
	if err != nil {
		return 0, errors.Wrap(err, "failed to list expiring subscriptions")
	}

	notified := 0
	for _, user := range users {
		end := *user.SubscriptionEnd
		daysLeft := int(end.Sub(now).Hours() / 24)
		message := fmt.Sprintf(
			"⏰ Ваша подписка истекает через %d дн. (%s).\n\n"+
				"Продлите её командой /subscribe, чтобы напоминания и задачи продолжили работать.",
			daysLeft, end.In(s.opts.Location).Format("02.01.2006 15:04"),
		)

		if err := s.notifier.SendNotification(ctx, user.ID, message); err != nil {
			s.log.Warn("failed to send expiry notice", slog.Int64("user_id", user.ID), sl.Err(err))
			continue
		}
		if err := s.repo.MarkExpiryNotified(ctx, user.ID, end); err != nil {
			s.log.Error("failed to mark expiry notice", slog.Int64("user_id", user.ID), sl.Err(err))
			continue
		}
		notified++
	}
	return notified, nil
}
