// Package billing sells subscription periods through YooKassa and applies
// confirmed payments to the subscription ledger exactly once.
package billing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/skoret/assistant-bot/internal/lib/sl"
	"github.com/skoret/assistant-bot/internal/metrics"
	"github.com/skoret/assistant-bot/internal/storage"
	"github.com/skoret/assistant-bot/internal/yookassa"
)

const (
	Currency = "RUB"

	// pendingWindow bounds how far back SyncPending polls the provider for
	// payments that were never confirmed.
	pendingWindow = 24 * time.Hour
)

var (
	ErrPaymentsDisabled = errors.New("payments are not configured")
	ErrUnknownPayment   = errors.New("unknown payment")
	ErrAmountMismatch   = errors.New("payment amount does not match")
)

// Outcome is the result of processing a provider payment.
type Outcome string

const (
	OutcomePending          Outcome = "pending"
	OutcomeSucceeded        Outcome = "succeeded"
	OutcomeCanceled         Outcome = "canceled"
	OutcomeAlreadyProcessed Outcome = "already_processed"
)

type Repository interface {
	CreatePayment(ctx context.Context, payment *storage.Payment) error
	GetPaymentByProviderID(ctx context.Context, providerID string) (*storage.Payment, error)
	ListPendingPayments(ctx context.Context, since time.Time) ([]*storage.Payment, error)
	UpdatePaymentStatus(ctx context.Context, providerID string, from, to storage.PaymentStatus, confirmedAt *time.Time) (bool, error)
}

type Provider interface {
	CreatePayment(ctx context.Context, params yookassa.CreatePaymentRequest, idempotenceKey string) (*yookassa.Payment, error)
	GetPayment(ctx context.Context, id string) (*yookassa.Payment, error)
}

type Ledger interface {
	Extend(ctx context.Context, userID int64, now time.Time, d time.Duration) (time.Time, error)
}

type Notifier interface {
	SendNotification(ctx context.Context, chatID int64, text string) error
}

type Options struct {
	Price     decimal.Decimal
	Period    time.Duration
	ReturnURL string
}

type Service struct {
	repo     Repository
	provider Provider
	ledger   Ledger
	notifier Notifier
	clock    clockwork.Clock
	log      *slog.Logger
	metrics  *metrics.Metrics
	opts     Options
}

// NewService builds the billing service. provider may be nil, in which case
// CreatePayment returns ErrPaymentsDisabled.
func NewService(repo Repository, provider Provider, ledger Ledger, notifier Notifier, clock clockwork.Clock, log *slog.Logger, m *metrics.Metrics, opts Options) *Service {
	return &Service{
		repo:     repo,
		provider: provider,
		ledger:   ledger,
		notifier: notifier,
		clock:    clock,
		log:      log,
		metrics:  m,
		opts:     opts,
	}
}

func (s *Service) Enabled() bool {
	return s.provider != nil
}

func (s *Service) Price() decimal.Decimal {
	return s.opts.Price
}

func (s *Service) PeriodDays() int {
	days := int(s.opts.Period / (24 * time.Hour))
	if days < 1 {
		days = 1
	}
	return days
}

// GenerateReferenceCode generates a unique reference code for payment
func (s *Service) GenerateReferenceCode() (string, error) {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return "", errors.Wrap(err, "failed to generate random bytes")
	}
	return strings.ToUpper(hex.EncodeToString(bytes)), nil
}

// CreatePayment registers a pending payment with the provider for one
// subscription period and stores it locally.
func (s *Service) CreatePayment(ctx context.Context, userID int64) (*storage.Payment, error) {
	if s.provider == nil {
		return nil, ErrPaymentsDisabled
	}

	referenceCode, err := s.GenerateReferenceCode()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate reference code")
	}

	days := s.PeriodDays()
	remote, err := s.provider.CreatePayment(ctx, yookassa.CreatePaymentRequest{
		Amount:  yookassa.NewAmount(s.opts.Price, Currency),
		Capture: true,
		Confirmation: yookassa.Confirmation{
			Type:      "redirect",
			ReturnURL: s.opts.ReturnURL,
		},
		Description: fmt.Sprintf("Подписка на %d дней, заказ %s", days, referenceCode),
		Metadata: map[string]string{
			"user_id":   strconv.FormatInt(userID, 10),
			"reference": referenceCode,
		},
	}, uuid.NewString())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create provider payment")
	}
	if remote.Confirmation == nil || remote.Confirmation.ConfirmationURL == "" {
		return nil, errors.Errorf("provider payment %s has no confirmation url", remote.ID)
	}

	payment := &storage.Payment{
		UserID:          userID,
		ProviderID:      remote.ID,
		ReferenceCode:   referenceCode,
		Amount:          s.opts.Price,
		Currency:        Currency,
		PeriodDays:      days,
		Status:          storage.PaymentStatusPending,
		ConfirmationURL: remote.Confirmation.ConfirmationURL,
		CreatedAt:       s.clock.Now(),
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, errors.Wrap(err, "failed to store payment")
	}

	s.log.Info("payment created",
		slog.Int64("user_id", userID),
		slog.String("payment_id", payment.ProviderID),
		slog.String("reference", referenceCode),
	)
	return payment, nil
}

// ProcessPayment re-reads the payment from the provider and applies its
// final status. A payment extends the subscription at most once however many
// times it is processed.
func (s *Service) ProcessPayment(ctx context.Context, providerID string) (Outcome, error) {
	const op = "billing.ProcessPayment"
	log := s.log.With(slog.String("op", op), slog.String("payment_id", providerID))

	if s.provider == nil {
		return "", ErrPaymentsDisabled
	}

	local, err := s.repo.GetPaymentByProviderID(ctx, providerID)
	if err != nil {
		return "", errors.Wrap(err, "failed to get payment")
	}
	if local == nil {
		return "", ErrUnknownPayment
	}
	if local.Status != storage.PaymentStatusPending {
		return OutcomeAlreadyProcessed, nil
	}

	remote, err := s.provider.GetPayment(ctx, providerID)
	if err != nil {
		return "", errors.Wrap(err, "failed to fetch provider payment")
	}

	switch remote.Status {
	case yookassa.StatusSucceeded:
		return s.applySucceeded(ctx, log, local, remote)
	case yookassa.StatusCanceled:
		ok, err := s.repo.UpdatePaymentStatus(ctx, providerID, storage.PaymentStatusPending, storage.PaymentStatusCanceled, nil)
		if err != nil {
			return "", errors.Wrap(err, "failed to cancel payment")
		}
		if !ok {
			return OutcomeAlreadyProcessed, nil
		}
		log.Info("payment canceled", slog.Int64("user_id", local.UserID))
		s.notify(ctx, log, local.UserID, "Платёж отменён. Подписка не продлена, попробуйте ещё раз: /subscribe")
		return OutcomeCanceled, nil
	default:
		return OutcomePending, nil
	}
}

func (s *Service) applySucceeded(ctx context.Context, log *slog.Logger, local *storage.Payment, remote *yookassa.Payment) (Outcome, error) {
	amount, err := remote.Amount.Decimal()
	if err != nil || !amount.Equal(local.Amount) || remote.Amount.Currency != local.Currency {
		log.Error("payment amount mismatch",
			slog.String("expected", local.Amount.StringFixed(2)+" "+local.Currency),
			slog.String("got", remote.Amount.Value+" "+remote.Amount.Currency),
		)
		return "", ErrAmountMismatch
	}

	now := s.clock.Now()
	ok, err := s.repo.UpdatePaymentStatus(ctx, local.ProviderID, storage.PaymentStatusPending, storage.PaymentStatusSucceeded, &now)
	if err != nil {
		return "", errors.Wrap(err, "failed to confirm payment")
	}
	if !ok {
		return OutcomeAlreadyProcessed, nil
	}

	end, err := s.ledger.Extend(ctx, local.UserID, now, time.Duration(local.PeriodDays)*24*time.Hour)
	if err != nil {
		log.Error("payment confirmed but subscription not extended, will retry",
			slog.Int64("user_id", local.UserID),
			sl.Err(err),
		)
		// confirmed_at stays set so SyncPending keeps retrying past pendingWindow
		if _, rerr := s.repo.UpdatePaymentStatus(ctx, local.ProviderID, storage.PaymentStatusSucceeded, storage.PaymentStatusPending, &now); rerr != nil {
			log.Error("failed to revert payment status", sl.Err(rerr))
		}
		return "", errors.Wrap(err, "failed to extend subscription")
	}

	s.metrics.PaymentsConfirmed.Inc()
	log.Info("payment applied", slog.Int64("user_id", local.UserID), slog.Time("subscription_end", end))
	s.notify(ctx, log, local.UserID, fmt.Sprintf("Оплата получена, спасибо! Подписка активна до %s.", end.Format("02.01.2006")))
	return OutcomeSucceeded, nil
}

// SyncPending polls the provider for recent pending payments, covering lost
// notifications. It returns how many payments reached a final status.
func (s *Service) SyncPending(ctx context.Context) (int, error) {
	const op = "billing.SyncPending"
	log := s.log.With(slog.String("op", op))

	if s.provider == nil {
		return 0, nil
	}

	pending, err := s.repo.ListPendingPayments(ctx, s.clock.Now().Add(-pendingWindow))
	if err != nil {
		return 0, errors.Wrap(err, "failed to list pending payments")
	}

	settled := 0
	for _, payment := range pending {
		outcome, err := s.ProcessPayment(ctx, payment.ProviderID)
		if err != nil {
			log.Error("failed to process payment", slog.String("payment_id", payment.ProviderID), sl.Err(err))
			continue
		}
		if outcome == OutcomeSucceeded || outcome == OutcomeCanceled {
			settled++
		}
	}
	return settled, nil
}

func (s *Service) notify(ctx context.Context, log *slog.Logger, userID int64, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendNotification(ctx, userID, text); err != nil {
		log.Warn("failed to notify user", slog.Int64("user_id", userID), sl.Err(err))
	}
}
