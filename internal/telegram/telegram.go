package telegram

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/skoret/assistant-bot/internal/access"
	"github.com/skoret/assistant-bot/internal/billing"
	"github.com/skoret/assistant-bot/internal/finance"
	"github.com/skoret/assistant-bot/internal/lib/sl"
	"github.com/skoret/assistant-bot/internal/reminder"
	"github.com/skoret/assistant-bot/internal/storage"
	"github.com/skoret/assistant-bot/internal/todo"
)

// API is the part of *tgbotapi.BotAPI the bot talks to.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// NewAPI connects to Telegram with the given token.
func NewAPI(token string, log *slog.Logger) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to telegram")
	}
	log.Info("bot authorized", slog.String("username", api.Self.UserName), slog.Int64("id", api.Self.ID))
	return api, nil
}

// Sender delivers outbound messages under one shared rate limit.
type Sender struct {
	api     API
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewSender allows perSecond messages per second with a burst of the same size.
func NewSender(api API, perSecond float64, log *slog.Logger) *Sender {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &Sender{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		log:     log,
	}
}

// SendNotification sends a plain text message to chatID.
func (s *Sender) SendNotification(ctx context.Context, chatID int64, text string) error {
	return s.Send(ctx, tgbotapi.NewMessage(chatID, text))
}

// Send waits for the rate limiter and sends c. Messages without content are dropped.
func (s *Sender) Send(ctx context.Context, c tgbotapi.Chattable) error {
	if c == nil || isEmpty(c) {
		s.log.Warn("skipping empty message")
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter")
	}
	if _, err := s.api.Send(c); err != nil {
		return errors.Wrap(err, "failed to send message")
	}
	return nil
}

func isEmpty(c tgbotapi.Chattable) bool {
	switch v := c.(type) {
	case tgbotapi.MessageConfig:
		return v.Text == ""
	case tgbotapi.EditMessageTextConfig:
		return v.Text == ""
	case tgbotapi.PhotoConfig:
		return v.File == nil
	}
	return false
}

type Repository interface {
	GetOrCreateUser(ctx context.Context, id int64, username string, now time.Time) (*storage.User, error)
	GetUser(ctx context.Context, id int64) (*storage.User, error)
	GetUserByUsername(ctx context.Context, username string) (*storage.User, error)
	SaveChatMessage(ctx context.Context, msg *storage.ChatMessage) error
	SearchChatMessages(ctx context.Context, chatID int64, query string, limit int) ([]*storage.ChatMessage, error)
	CountChatMessages(ctx context.Context, chatID int64) (int, error)
	SaveArchive(ctx context.Context, a *storage.Archive) error
	SearchArchives(ctx context.Context, chatID int64, query string, limit int) ([]*storage.Archive, error)
	CountUsers(ctx context.Context) (int, error)
	CountActiveSubscriptions(ctx context.Context, now time.Time) (int, error)
	CountPendingReminders(ctx context.Context) (int, error)
}

// Services are the domain services behind the bot commands.
type Services struct {
	Access    *access.Service
	Billing   *billing.Service
	Reminders *reminder.Service
	Todos     *todo.Service
	Finance   *finance.Service
}

type Options struct {
	AdminUsernames []string
	TrialDuration  time.Duration
	Location       *time.Location
}

type Bot struct {
	wg            *sync.WaitGroup
	api           API
	sender        *Sender
	log           *slog.Logger
	clock         clockwork.Clock
	repo          Repository
	admins        map[string]struct{}
	access        *access.Service
	billing       *billing.Service
	reminders     *reminder.Service
	todos         *todo.Service
	finance       *finance.Service
	trialDuration time.Duration
	loc           *time.Location
}

// NewBot creates new Bot instance
func NewBot(api API, sender *Sender, repo Repository, services Services, clock clockwork.Clock, log *slog.Logger, opts Options) *Bot {
	admins := make(map[string]struct{}, len(opts.AdminUsernames))
	for _, user := range opts.AdminUsernames {
		if user = strings.TrimPrefix(strings.TrimSpace(user), "@"); user != "" {
			admins[strings.ToLower(user)] = struct{}{}
		}
	}

	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	return &Bot{
		wg:            &sync.WaitGroup{},
		api:           api,
		sender:        sender,
		log:           log.With(slog.String("component", "telegram")),
		clock:         clock,
		repo:          repo,
		admins:        admins,
		access:        services.Access,
		billing:       services.Billing,
		reminders:     services.Reminders,
		todos:         services.Todos,
		finance:       services.Finance,
		trialDuration: opts.TrialDuration,
		loc:           loc,
	}
}

// Run polls updates until ctx is done and waits for in-flight handlers.
func (b *Bot) Run(ctx context.Context) error {
	defer b.wg.Wait()

	if err := b.setMyCommands(); err != nil {
		b.log.Warn("failed to set bot commands", sl.Err(err))
	}

	config := tgbotapi.NewUpdate(0)
	config.Timeout = 30

	updates := b.api.GetUpdatesChan(config)

	// in-flight handlers finish their replies after ctx is canceled
	handlerCtx := context.WithoutCancel(ctx)

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				for _, err := range b.handle(handlerCtx, &update) {
					b.log.Error("failed to handle update", slog.Int("update_id", update.UpdateID), sl.Err(err))
				}
			}()
		case <-ctx.Done():
			b.log.Info("stopping bot", sl.Err(ctx.Err()))
			b.api.StopReceivingUpdates()
			return nil
		}
	}
}

func (b *Bot) isAdmin(user *storage.User) bool {
	if b.access.IsAdmin(user.ID) {
		return true
	}
	if len(b.admins) == 0 || user.Username == "" {
		return false
	}
	_, ok := b.admins[strings.ToLower(user.Username)]
	return ok
}

func (b *Bot) handle(ctx context.Context, update *tgbotapi.Update) []error {
	var res responses
	var err error
	errs := make([]error, 0)
	switch {
	case update.Message != nil:
		res, err = b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		res, err = b.handleQuery(ctx, update.CallbackQuery)
	default:
		return nil
	}
	if err != nil {
		errs = append(errs, err)
	}
	for _, resp := range res {
		if err := b.sender.Send(ctx, resp); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
