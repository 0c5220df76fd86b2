package telegram

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skoret/assistant-bot/internal/access"
	"github.com/skoret/assistant-bot/internal/billing"
	"github.com/skoret/assistant-bot/internal/finance"
	"github.com/skoret/assistant-bot/internal/metrics"
	"github.com/skoret/assistant-bot/internal/reminder"
	"github.com/skoret/assistant-bot/internal/storage"
	"github.com/skoret/assistant-bot/internal/todo"
)

var start = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

const (
	aliceID   int64 = 1
	bossID    int64 = 2
	groupChat int64 = -100
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	updates  chan tgbotapi.Update
}

func (a *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, c)
	return tgbotapi.Message{}, nil
}

func (a *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (a *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return a.updates
}

func (a *fakeAPI) StopReceivingUpdates() {}

func (a *fakeAPI) sentTexts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return texts(a.sent)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type fixture struct {
	bot   *Bot
	api   *fakeAPI
	repo  *storage.Repository
	clock *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.Migrate(context.Background()))

	clock := clockwork.NewFakeClockAt(start)
	log := newNoopLogger()
	m := metrics.NewNop()
	api := &fakeAPI{updates: make(chan tgbotapi.Update)}
	sender := NewSender(api, 1000, log)

	accessSvc := access.NewService(repo, 0, m)
	billingSvc := billing.NewService(repo, nil, accessSvc, sender, clock, log, m, billing.Options{
		Price:  decimal.RequireFromString("500"),
		Period: 30 * 24 * time.Hour,
	})

	bot := NewBot(api, sender, repo, Services{
		Access:    accessSvc,
		Billing:   billingSvc,
		Reminders: reminder.NewService(repo, clock, time.UTC, m),
		Todos:     todo.NewService(repo, clock, time.UTC),
		Finance:   finance.NewService(repo, clock, time.UTC),
	}, clock, log, Options{
		AdminUsernames: []string{"@Boss"},
		TrialDuration:  7 * 24 * time.Hour,
		Location:       time.UTC,
	})

	return &fixture{bot: bot, api: api, repo: repo, clock: clock}
}

func newMessage(userID int64, username string, chatID int64, text string) *tgbotapi.Message {
	chatType := "private"
	if chatID < 0 {
		chatType = "group"
	}
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: userID, UserName: username},
		Chat:      &tgbotapi.Chat{ID: chatID, Type: chatType},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return msg
}

// say sends text as alice in her private chat and returns the reply texts.
func (f *fixture) say(t *testing.T, text string) []string {
	t.Helper()
	return f.sayAs(t, aliceID, "alice", aliceID, text)
}

func (f *fixture) sayAs(t *testing.T, userID int64, username string, chatID int64, text string) []string {
	t.Helper()
	res, err := f.bot.handleMessage(context.Background(), newMessage(userID, username, chatID, text))
	require.NoError(t, err)
	return texts(res)
}

func texts(res []tgbotapi.Chattable) []string {
	out := make([]string, 0, len(res))
	for _, c := range res {
		switch v := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, v.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, v.Text)
		case tgbotapi.PhotoConfig:
			out = append(out, "photo:"+v.Caption)
		case tgbotapi.DocumentConfig:
			out = append(out, "document:"+v.Caption)
		}
	}
	return out
}

func joined(texts []string) string {
	return strings.Join(texts, "\n---\n")
}

func TestPremiumCommandsRequireSubscription(t *testing.T) {
	f := newFixture(t)

	for _, cmd := range []string{"/remind 18:30 чай", "/todo хлеб", "/expense 10 еда", "/report"} {
		got := f.say(t, cmd)
		require.Len(t, got, 1, cmd)
		assert.Contains(t, got[0], "🔒", cmd)
	}

	reminders, err := f.repo.ListActiveReminders(context.Background(), aliceID)
	require.NoError(t, err)
	assert.Empty(t, reminders)

	got := f.say(t, "/reminders")
	assert.Contains(t, joined(got), "нет активных напоминаний")
}

func TestReminderManagementAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.say(t, "/subscribe")
	got := f.say(t, "/remind 2024-01-20 10:00 оплатить аренду")
	assert.Contains(t, joined(got), "Напоминание #1 создано")
	f.say(t, "/remind 2024-01-21 10:00 вынести мусор")

	f.clock.Advance(8 * 24 * time.Hour)

	got = f.say(t, "/remind 2024-01-22 10:00 новое")
	assert.Contains(t, joined(got), "🔒", "creating still needs a subscription")

	got = f.say(t, "/reminders")
	assert.Contains(t, joined(got), "оплатить аренду")

	got = f.say(t, "/delete_remind 1")
	assert.Contains(t, joined(got), "Напоминание #1 удалено")

	rem, err := f.repo.GetReminder(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, rem)

	res, err := f.bot.handleQuery(ctx, newQuery(aliceID, deleteReminderPrefix+"2"))
	require.NoError(t, err)
	assert.Contains(t, joined(texts(res)), "Напоминание #2 удалено")

	reminders, err := f.repo.ListActiveReminders(ctx, aliceID)
	require.NoError(t, err)
	assert.Empty(t, reminders)
}

func TestSubscribe_GrantsTrialOnce(t *testing.T) {
	f := newFixture(t)

	got := f.say(t, "/subscribe")
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "Пробный период активирован до 08.01.2024 10:00")

	got = f.say(t, "/subscribe")
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "Подписка уже активна до 08.01.2024 10:00")

	got = f.say(t, "/subscription")
	assert.Contains(t, joined(got), "активна до 08.01.2024 10:00")

	// once the trial is over a payment is required, and payments are not configured here
	f.clock.Advance(8 * 24 * time.Hour)
	got = f.say(t, "/subscribe")
	assert.Contains(t, joined(got), "Оплата временно недоступна")

	got = f.say(t, "/subscription")
	assert.Contains(t, joined(got), "Подписка истекла 08.01.2024 10:00")

	user, err := f.repo.GetUser(context.Background(), aliceID)
	require.NoError(t, err)
	assert.True(t, user.TrialUsed)
}

func TestRemindCommands(t *testing.T) {
	f := newFixture(t)
	f.say(t, "/subscribe")

	got := f.say(t, "/remind через 10 минут выпить чай")
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "Напоминание #1 создано на 01.01.2024 10:10")
	assert.Contains(t, got[0], "выпить чай")

	f.say(t, "/remind завтра 09:00 планёрка")

	got = f.say(t, "/reminders")
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "#1 · 01.01.2024 10:10")
	assert.Contains(t, got[0], "#2 · 02.01.2024 09:00")
	assert.Less(t, strings.Index(got[0], "#1"), strings.Index(got[0], "#2"))

	got = f.say(t, "/delete_remind 1")
	assert.Contains(t, joined(got), "Напоминание #1 удалено")

	got = f.say(t, "/delete_remind 1")
	assert.Contains(t, joined(got), "Напоминание не найдено")

	reminders, err := f.repo.ListActiveReminders(context.Background(), aliceID)
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.Equal(t, "планёрка", reminders[0].Body)
}

func TestRemind_InputErrorsBecomeReplies(t *testing.T) {
	f := newFixture(t)
	f.say(t, "/subscribe")

	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "usage", text: "/remind", want: "Использование: /remind"},
		{name: "unparseable time", text: "/remind послезавтра чай", want: "Не удалось распознать время"},
		{name: "relative without digits", text: "/remind через пять минут чай", want: "Не удалось распознать время"},
		{name: "huge offset", text: "/remind через 3000000 часов чай", want: "Не удалось распознать время"},
		{name: "empty body", text: "/remind 18:30", want: "Укажите текст напоминания"},
		{name: "past date", text: "/remind 2023-12-31 10:00 поздно", want: "уже прошло"},
		{name: "bad id", text: "/delete_remind abc", want: "Укажите номер"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.say(t, tt.text)
			require.Len(t, got, 1)
			assert.Contains(t, got[0], tt.want)
		})
	}
}

func TestTodoCommands(t *testing.T) {
	f := newFixture(t)
	f.say(t, "/subscribe")

	got := f.say(t, "/todo !! купить хлеб")
	assert.Contains(t, joined(got), "Задача #1 добавлена: ❗❗ купить хлеб")

	got = f.say(t, "/todo завтра 10:00 записаться к врачу")
	assert.Contains(t, joined(got), "записаться к врачу (до 02.01.2024 10:00)")

	got = f.say(t, "/todos")
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "#1 ❗❗ купить хлеб")
	assert.Contains(t, got[0], "#2 записаться к врачу")

	got = f.say(t, "/done 1")
	assert.Contains(t, joined(got), "Задача #1 выполнена")

	got = f.say(t, "/todos_done")
	assert.Contains(t, joined(got), "купить хлеб")

	got = f.say(t, "/delete_todo 2")
	assert.Contains(t, joined(got), "Задача #2 удалена")

	got = f.say(t, "/todos")
	assert.Contains(t, joined(got), "Список задач пуст")

	got = f.say(t, "/todo !!!")
	assert.Contains(t, joined(got), "Укажите текст задачи")
}

func TestFinanceCommands(t *testing.T) {
	f := newFixture(t)
	f.say(t, "/subscribe")

	got := f.say(t, "/report")
	assert.Contains(t, joined(got), "Записей пока нет")

	got = f.say(t, "/income 1000 зарплата аванс")
	assert.Contains(t, joined(got), "Доход 1000.00 ₽ записан (зарплата)")

	got = f.say(t, "/expense 250,5 Еда обед")
	assert.Contains(t, joined(got), "Расход 250.50 ₽ записан (еда)")

	got = f.say(t, "/expense -5 еда")
	assert.Contains(t, joined(got), "Сумма должна быть положительным числом")

	got = f.say(t, "/report")
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "Доходы: 1000.00 ₽")
	assert.Contains(t, got[0], "Расходы: 250.50 ₽")
	assert.Contains(t, got[0], "Баланс: 749.50 ₽")
	assert.Contains(t, got[0], "+ зарплата: 1000.00 ₽")
	assert.Contains(t, got[0], "- еда: 250.50 ₽")
}

func TestChatHistory(t *testing.T) {
	f := newFixture(t)

	assert.Empty(t, f.sayAs(t, aliceID, "alice", groupChat, "привет, мир"))
	assert.Empty(t, f.sayAs(t, bossID, "boss", groupChat, "встреча в пятницу"))
	f.sayAs(t, bossID, "boss", aliceID+1000, "мир в другом чате")

	got := f.sayAs(t, aliceID, "alice", groupChat, "/search мир")
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "alice: привет, мир")
	assert.NotContains(t, got[0], "другом чате")

	got = f.sayAs(t, aliceID, "alice", groupChat, "/search отпуск")
	assert.Contains(t, joined(got), "ничего не найдено")

	got = f.sayAs(t, aliceID, "alice", groupChat, "/summary")
	assert.Contains(t, joined(got), "сообщений: 2")
}

func TestArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := newMessage(aliceID, "alice", groupChat, "")
	doc.Document = &tgbotapi.Document{FileID: "doc-1", FileName: "contract.pdf", MimeType: "application/pdf", FileSize: 1024}
	doc.Caption = "договор аренды"
	res, err := f.bot.handleMessage(ctx, doc)
	require.NoError(t, err)
	assert.Contains(t, joined(texts(res)), "Документ сохранён в архив: contract.pdf (#1)")

	photo := newMessage(bossID, "boss", groupChat, "")
	photo.Photo = []tgbotapi.PhotoSize{
		{FileID: "small", Width: 90, Height: 90},
		{FileID: "large", Width: 1280, Height: 1280, FileSize: 4096},
	}
	res, err = f.bot.handleMessage(ctx, photo)
	require.NoError(t, err)
	assert.Contains(t, joined(texts(res)), "Фото сохранено в архив: photo_20240101_100000.jpg (#2)")

	elsewhere := newMessage(aliceID, "alice", aliceID, "")
	elsewhere.Document = &tgbotapi.Document{FileID: "doc-2", FileName: "contract_copy.pdf"}
	_, err = f.bot.handleMessage(ctx, elsewhere)
	require.NoError(t, err)

	saved, err := f.repo.SearchArchives(ctx, groupChat, "photo", 10)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "large", saved[0].FileID, "largest size is kept")
	assert.Equal(t, storage.ArchivePhoto, saved[0].FileType)

	got := f.sayAs(t, aliceID, "alice", groupChat, "/archive аренды")
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "#1 contract.pdf · 01.01.2024 10:00")
	assert.NotContains(t, got[0], "contract_copy.pdf")
	assert.Equal(t, "document:договор аренды", got[1])

	got = f.sayAs(t, aliceID, "alice", groupChat, "/archive")
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "contract.pdf")
	assert.Contains(t, got[0], "photo_20240101_100000.jpg")

	got = f.sayAs(t, aliceID, "alice", groupChat, "/archive отпуск")
	assert.Contains(t, joined(got), "В архиве ничего не найдено")
}

func TestPrivateTextGetsHint(t *testing.T) {
	f := newFixture(t)

	got := f.say(t, "что ты умеешь?")
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "/menu")
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)

	got := f.say(t, "/wat")
	assert.Contains(t, joined(got), "Неизвестная команда")
}

func TestAdminCommands(t *testing.T) {
	f := newFixture(t)
	f.say(t, "/start")

	got := f.say(t, "/stats")
	assert.Contains(t, joined(got), "нет прав администратора")
	got = f.say(t, "/grant 1 30")
	assert.Contains(t, joined(got), "нет прав администратора")

	got = f.sayAs(t, bossID, "boss", bossID, "/grant @alice 30")
	assert.Contains(t, joined(got), "Пользователю 1 продлена подписка до 31.01.2024 10:00")

	user, err := f.repo.GetUser(context.Background(), aliceID)
	require.NoError(t, err)
	require.NotNil(t, user.SubscriptionEnd)
	assert.True(t, user.SubscriptionEnd.Equal(start.Add(30*24*time.Hour)))
	assert.False(t, user.TrialUsed)
	assert.Contains(t, joined(f.api.sentTexts()), "Вам продлена подписка на 30 дн.")

	got = f.sayAs(t, bossID, "boss", bossID, "/grant @nobody 30")
	assert.Contains(t, joined(got), "Пользователь не найден")
	got = f.sayAs(t, bossID, "boss", bossID, "/grant 1 zero")
	assert.Contains(t, joined(got), "Использование: /grant")

	f.say(t, "/subscribe")
	f.say(t, "/remind через 1 час позвонить")

	got = f.sayAs(t, bossID, "BOSS", bossID, "/stats")
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "Пользователей: 2")
	assert.Contains(t, got[0], "Активных подписок: 1")
	assert.Contains(t, got[0], "Ожидающих напоминаний: 1")
}

func TestGrant_CreatesUnknownUser(t *testing.T) {
	f := newFixture(t)

	got := f.sayAs(t, bossID, "boss", bossID, "/grant 777 10")
	assert.Contains(t, joined(got), "Пользователю 777 продлена подписка до 11.01.2024 10:00")

	user, err := f.repo.GetUser(context.Background(), 777)
	require.NoError(t, err)
	require.NotNil(t, user)
	require.NotNil(t, user.SubscriptionEnd)
	assert.True(t, user.SubscriptionEnd.Equal(start.Add(10*24*time.Hour)))

	// the user's first message keeps the granted subscription
	got = f.sayAs(t, 777, "newbie", 777, "/subscription")
	assert.Contains(t, joined(got), "активна до 11.01.2024 10:00")
}

func newQuery(userID int64, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:   "query",
		From: &tgbotapi.User{ID: userID, UserName: "alice"},
		Message: &tgbotapi.Message{
			MessageID: 42,
			Chat:      &tgbotapi.Chat{ID: userID, Type: "private"},
		},
		Data: data,
	}
}

func TestCallbacks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.say(t, "/subscribe")
	f.say(t, "/remind 18:30 полить цветы")
	f.say(t, "/todo вынести мусор")

	res, err := f.bot.handleQuery(ctx, newQuery(aliceID, MenuCmd.Command))
	require.NoError(t, err)
	require.Len(t, res, 1)
	edit, ok := res[0].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Equal(t, 42, edit.MessageID)
	assert.Equal(t, MenuCmd.text, edit.Text)
	assert.Equal(t, &mainMenuKeyboard, edit.ReplyMarkup)

	res, err = f.bot.handleQuery(ctx, newQuery(aliceID, deleteReminderPrefix+"1"))
	require.NoError(t, err)
	assert.Contains(t, joined(texts(res)), "Напоминание #1 удалено")

	res, err = f.bot.handleQuery(ctx, newQuery(aliceID, completeTodoPrefix+"1"))
	require.NoError(t, err)
	assert.Contains(t, joined(texts(res)), "Задача #1 выполнена")

	res, err = f.bot.handleQuery(ctx, newQuery(aliceID, "bogus"))
	require.Error(t, err)
	assert.Contains(t, joined(texts(res)), sorry)

	f.api.mu.Lock()
	assert.Len(t, f.api.requests, 4)
	f.api.mu.Unlock()
}

func TestListKeyboards(t *testing.T) {
	f := newFixture(t)
	f.say(t, "/subscribe")
	f.say(t, "/remind 18:30 полить цветы")

	res, err := f.bot.handleMessage(context.Background(), newMessage(aliceID, "alice", aliceID, "/reminders"))
	require.NoError(t, err)
	require.Len(t, res, 1)
	msg := res[0].(tgbotapi.MessageConfig)
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 2)
	require.NotNil(t, markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, deleteReminderPrefix+"1", *markup.InlineKeyboard[0][0].CallbackData)
}

func TestParseCallbackID(t *testing.T) {
	id, ok := parseCallbackID("rem_del:15", deleteReminderPrefix)
	assert.True(t, ok)
	assert.Equal(t, int64(15), id)

	for _, data := range []string{"rem_del:", "rem_del:x", "rem_del:-1", "todo_done:3"} {
		_, ok := parseCallbackID(data, deleteReminderPrefix)
		assert.False(t, ok, data)
	}
}

func TestSender_SkipsEmptyMessages(t *testing.T) {
	api := &fakeAPI{}
	sender := NewSender(api, 10, newNoopLogger())

	require.NoError(t, sender.Send(context.Background(), tgbotapi.NewMessage(1, "")))
	require.NoError(t, sender.Send(context.Background(), nil))
	assert.Empty(t, api.sent)

	require.NoError(t, sender.SendNotification(context.Background(), 1, "hi"))
	assert.Equal(t, []string{"hi"}, api.sentTexts())
}

func TestSender_RespectsContext(t *testing.T) {
	api := &fakeAPI{}
	sender := NewSender(api, 0.001, newNoopLogger())

	require.NoError(t, sender.SendNotification(context.Background(), 1, "first"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, sender.SendNotification(ctx, 1, "second"))
	assert.Equal(t, []string{"first"}, api.sentTexts())
}

func TestRun_ProcessesUpdatesUntilCanceled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.bot.Run(ctx) }()

	f.api.updates <- tgbotapi.Update{UpdateID: 1, Message: newMessage(aliceID, "alice", aliceID, "/help")}

	assert.Eventually(t, func() bool {
		return strings.Contains(joined(f.api.sentTexts()), "Доступные команды")
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bot did not stop")
	}

	f.api.mu.Lock()
	defer f.api.mu.Unlock()
	require.NotEmpty(t, f.api.requests)
	_, ok := f.api.requests[0].(tgbotapi.SetMyCommandsConfig)
	assert.True(t, ok)
}
