package telegram

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/yeqown/go-qrcode"

	"github.com/skoret/assistant-bot/internal/access"
	"github.com/skoret/assistant-bot/internal/billing"
	"github.com/skoret/assistant-bot/internal/finance"
	"github.com/skoret/assistant-bot/internal/lib/sl"
	"github.com/skoret/assistant-bot/internal/reminder"
	"github.com/skoret/assistant-bot/internal/storage"
	"github.com/skoret/assistant-bot/internal/todo"
)

type responses []tgbotapi.Chattable

const (
	timeLayout  = "02.01.2006 15:04"
	searchLimit = 10
)

var (
	errInvalidID  = errors.New("invalid id")
	errGrantUsage = errors.New("usage: /grant <user_id|@username> <days>")
)

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) (responses, error) {
	if msg.From == nil || msg.Chat == nil {
		return nil, nil
	}

	user, err := b.repo.GetOrCreateUser(ctx, msg.From.ID, msg.From.UserName, b.clock.Now())
	if err != nil {
		return responses{errorMessage(msg.Chat.ID, msg.MessageID, false)}, errors.Wrap(err, "failed to get/create user")
	}

	if msg.Document != nil || len(msg.Photo) > 0 {
		return b.handleFile(ctx, msg, user)
	}
	if !msg.IsCommand() {
		return b.handleText(ctx, msg, user)
	}

	cmd, ok := commands[msg.Command()]
	if !ok {
		return responses{tgbotapi.NewMessage(msg.Chat.ID, "Неизвестная команда. Используйте /menu")}, nil
	}
	return b.runCommand(ctx, cmd, user, msg.Chat.ID, 0, strings.TrimSpace(msg.CommandArguments()))
}

// handleText logs a plain chat message to the history.
func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message, user *storage.User) (responses, error) {
	if strings.TrimSpace(msg.Text) == "" {
		return nil, nil
	}
	err := b.repo.SaveChatMessage(ctx, &storage.ChatMessage{
		ChatID:    msg.Chat.ID,
		UserID:    user.ID,
		Username:  msg.From.UserName,
		Text:      msg.Text,
		IsBot:     msg.From.IsBot,
		CreatedAt: b.clock.Now(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to save chat message")
	}
	if msg.Chat.IsPrivate() {
		return responses{tgbotapi.NewMessage(msg.Chat.ID, "Используйте команды из меню или нажмите /menu")}, nil
	}
	return nil, nil
}

// handleFile stores metadata of a sent document or photo in the chat archive.
func (b *Bot) handleFile(ctx context.Context, msg *tgbotapi.Message, user *storage.User) (responses, error) {
	now := b.clock.Now()
	a := &storage.Archive{
		ChatID:     msg.Chat.ID,
		UserID:     user.ID,
		Username:   msg.From.UserName,
		Caption:    msg.Caption,
		UploadedAt: now,
	}
	if doc := msg.Document; doc != nil {
		a.FileID = doc.FileID
		a.FileName = doc.FileName
		a.FileType = storage.ArchiveDocument
		a.MimeType = doc.MimeType
		a.FileSize = int64(doc.FileSize)
		if a.FileName == "" {
			a.FileName = "document_" + now.In(b.loc).Format("20060102_150405")
		}
	} else {
		// the last size is the largest one
		photo := msg.Photo[len(msg.Photo)-1]
		a.FileID = photo.FileID
		a.FileName = "photo_" + now.In(b.loc).Format("20060102_150405") + ".jpg"
		a.FileType = storage.ArchivePhoto
		a.FileSize = int64(photo.FileSize)
	}

	if err := b.repo.SaveArchive(ctx, a); err != nil {
		return responses{errorMessage(msg.Chat.ID, msg.MessageID, false)}, errors.Wrap(err, "failed to save archive")
	}

	label := "📄 Документ сохранён в архив"
	if a.FileType == storage.ArchivePhoto {
		label = "📸 Фото сохранено в архив"
	}
	return reply(msg.Chat.ID, fmt.Sprintf("%s: %s (#%d)\n\nНайти: /archive <запрос>", label, a.FileName, a.ID)), nil
}

// runCommand checks permissions, answers with the command's own text and
// runs its handler. A non-zero msgID edits that message instead of sending a new one.
func (b *Bot) runCommand(ctx context.Context, cmd *command, user *storage.User, chatID int64, msgID int, arg string) (responses, error) {
	if cmd.admin && !b.isAdmin(user) {
		return responses{tgbotapi.NewMessage(chatID, "❌ У вас нет прав администратора.")}, nil
	}
	if cmd.premium {
		ok, err := b.access.HasAccess(ctx, user.ID, b.clock.Now())
		if err != nil {
			return responses{errorMessage(chatID, msgID, msgID != 0)}, errors.Wrap(err, "failed to check access")
		}
		if !ok {
			return responses{lockedMessage(chatID)}, nil
		}
	}

	var res responses
	if cmd.text != "" {
		res = append(res, introMessage(cmd, chatID, msgID))
	}
	if cmd.handler == nil {
		return res, nil
	}

	out, err := cmd.handler(b, ctx, user, chatID, arg)
	if err != nil {
		if text, ok := userErrorText(err); ok {
			return append(res, tgbotapi.NewMessage(chatID, text)), nil
		}
		return append(res, errorMessage(chatID, msgID, false)), errors.Wrapf(err, "command /%s", cmd.Command)
	}
	return append(res, out...), nil
}

func introMessage(cmd *command, chatID int64, msgID int) tgbotapi.Chattable {
	if msgID != 0 {
		edit := tgbotapi.NewEditMessageText(chatID, msgID, cmd.text)
		edit.ReplyMarkup = cmd.keyboard
		return edit
	}
	msg := tgbotapi.NewMessage(chatID, cmd.text)
	if cmd.keyboard != nil {
		msg.ReplyMarkup = cmd.keyboard
	}
	return msg
}

func lockedMessage(chatID int64) tgbotapi.Chattable {
	msg := tgbotapi.NewMessage(chatID,
		"🔒 Эта функция доступна по подписке.\n\n"+
			"Новым пользователям доступен бесплатный пробный период: /subscribe")
	msg.ReplyMarkup = subscribeKeyboard
	return msg
}

func (b *Bot) handleQuery(ctx context.Context, query *tgbotapi.CallbackQuery) (responses, error) {
	if query.Message == nil || query.Message.Chat == nil || query.From == nil {
		return nil, errors.New("callback query received without message")
	}

	chatID, msgID := query.Message.Chat.ID, query.Message.MessageID

	user, err := b.repo.GetOrCreateUser(ctx, query.From.ID, query.From.UserName, b.clock.Now())
	if err != nil {
		return responses{errorMessage(chatID, msgID, true)}, errors.Wrap(err, "failed to get/create user")
	}

	callback := tgbotapi.NewCallback(query.ID, "")
	if _, err := b.api.Request(callback); err != nil {
		return responses{errorMessage(chatID, msgID, true)}, errors.Wrap(err, "failed to process callback query")
	}

	return b.handleCallbackData(ctx, chatID, msgID, user, query.Data)
}

func (b *Bot) handleCallbackData(ctx context.Context, chatID int64, msgID int, user *storage.User, data string) (responses, error) {
	b.log.Debug("callback", slog.String("data", data), slog.Int64("user_id", user.ID))

	if cmd, ok := commands[data]; ok {
		return b.runCommand(ctx, cmd, user, chatID, msgID, "")
	}
	if id, ok := parseCallbackID(data, deleteReminderPrefix); ok {
		return b.runCommand(ctx, &DeleteRemindCmd, user, chatID, 0, strconv.FormatInt(id, 10))
	}
	if id, ok := parseCallbackID(data, completeTodoPrefix); ok {
		return b.runCommand(ctx, &DoneCmd, user, chatID, 0, strconv.FormatInt(id, 10))
	}

	return responses{errorMessage(chatID, msgID, true)}, errors.Errorf("unknown callback data: %s", data)
}

func (b *Bot) handleRemind(ctx context.Context, user *storage.User, chatID int64, arg string) (responses, error) {
	if arg == "" {
		return reply(chatID, "Использование: /remind <время> <текст>\n\n"+
			"Примеры:\n"+
			"/remind через 15 минут проверить духовку\n"+
			"/remind 18:30 позвонить маме\n"+
			"/remind завтра 09:00 планёрка\n"+
			"/remind 2025-01-31 12:00 оплатить счёт"), nil
	}

	rem, err := b.reminders.CreateFromArgs(ctx, user.ID, chatID, arg)
	if err != nil {
		return nil, err
	}
	return reply(chatID, fmt.Sprintf("✅ Напоминание #%d создано на %s\n\n%s",
		rem.ID, b.formatTime(rem.DueAt), rem.Body)), nil
}

func (b *Bot) handleReminders(ctx context.Context, user *storage.User, chatID int64, _ string) (responses, error) {
	reminders, err := b.reminders.List(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(reminders) == 0 {
		return reply(chatID, "У вас нет активных напоминаний.\n\nСоздайте новое: /remind 18:30 позвонить маме"), nil
	}

	var sb strings.Builder
	sb.WriteString("⏰ Активные напоминания:\n\n")
	for _, rem := range reminders {
		fmt.Fprintf(&sb, "#%d · %s\n%s\n\n", rem.ID, b.formatTime(rem.DueAt), rem.Body)
	}
	sb.WriteString("Удалить: /delete_remind <id>")

	msg := tgbotapi.NewMessage(chatID, sb.String())
	msg.ReplyMarkup = remindersKeyboard(reminders)
	return responses{msg}, nil
}

func (b *Bot) handleDeleteRemind(ctx context.Context, user *storage.User, chatID int64, arg string) (responses, error) {
	id, err := parseID(arg)
	if err != nil {
		return nil, err
	}
	if err := b.reminders.Delete(ctx, user.ID, id); err != nil {
		return nil, err
	}
	return reply(chatID, fmt.Sprintf("🗑 Напоминание #%d удалено.", id)), nil
}

func (b *Bot) handleTodo(ctx context.Context, user *storage.User, chatID int64, arg string) (responses, error) {
	if arg == "" {
		return reply(chatID, "Использование: /todo [время] [!!!] <текст>\n\n"+
			"Примеры:\n"+
			"/todo купить хлеб\n"+
			"/todo !! сдать отчёт\n"+
			"/todo завтра 10:00 записаться к врачу"), nil
	}

	t, err := b.todos.Add(ctx, user.ID, chatID, arg)
	if err != nil {
		return nil, err
	}
	return reply(chatID, fmt.Sprintf("📝 Задача #%d добавлена: %s", t.ID, b.formatTodo(t))), nil
}

func (b *Bot) handleTodos(ctx context.Context, user *storage.User, chatID int64, _ string) (responses, error) {
	return b.listTodos(ctx, user, chatID, false)
}

func (b *Bot) handleTodosDone(ctx context.Context, user *storage.User, chatID int64, _ string) (responses, error) {
	return b.listTodos(ctx, user, chatID, true)
}

func (b *Bot) listTodos(ctx context.Context, user *storage.User, chatID int64, completed bool) (responses, error) {
	todos, err := b.todos.List(ctx, user.ID, completed)
	if err != nil {
		return nil, err
	}
	if len(todos) == 0 {
		if completed {
			return reply(chatID, "Выполненных задач пока нет."), nil
		}
		return reply(chatID, "Список задач пуст.\n\nДобавьте задачу: /todo купить хлеб"), nil
	}

	var sb strings.Builder
	if completed {
		sb.WriteString("✅ Выполненные задачи:\n\n")
	} else {
		sb.WriteString("📋 Задачи:\n\n")
	}
	for _, t := range todos {
		fmt.Fprintf(&sb, "#%d %s\n", t.ID, b.formatTodo(t))
	}

	msg := tgbotapi.NewMessage(chatID, sb.String())
	if !completed {
		msg.ReplyMarkup = todosKeyboard(todos)
	}
	return responses{msg}, nil
}

func (b *Bot) handleDone(ctx context.Context, user *storage.User, chatID int64, arg string) (responses, error) {
	id, err := parseID(arg)
	if err != nil {
		return nil, err
	}
	if err := b.todos.Complete(ctx, user.ID, id); err != nil {
		return nil, err
	}
	return reply(chatID, fmt.Sprintf("✅ Задача #%d выполнена.", id)), nil
}

func (b *Bot) handleDeleteTodo(ctx context.Context, user *storage.User, chatID int64, arg string) (responses, error) {
	id, err := parseID(arg)
	if err != nil {
		return nil, err
	}
	if err := b.todos.Delete(ctx, user.ID, id); err != nil {
		return nil, err
	}
	return reply(chatID, fmt.Sprintf("🗑 Задача #%d удалена.", id)), nil
}

func (b *Bot) handleIncome(ctx context.Context, user *storage.User, chatID int64, arg string) (responses, error) {
	return b.addTransaction(ctx, user, chatID, storage.TransactionIncome, arg)
}

func (b *Bot) handleExpense(ctx context.Context, user *storage.User, chatID int64, arg string) (responses, error) {
	return b.addTransaction(ctx, user, chatID, storage.TransactionExpense, arg)
}

func (b *Bot) addTransaction(ctx context.Context, user *storage.User, chatID int64, kind storage.TransactionKind, arg string) (responses, error) {
	if arg == "" {
		return reply(chatID, fmt.Sprintf("Использование: /%s <сумма> <категория> [описание]\n\nПример: /%s 350 еда обед", kind, kind)), nil
	}

	tx, err := b.finance.Add(ctx, user.ID, kind, arg)
	if err != nil {
		return nil, err
	}

	label := "💸 Расход"
	if kind == storage.TransactionIncome {
		label = "💰 Доход"
	}
	return reply(chatID, fmt.Sprintf("%s %s записан (%s).", label, formatMoney(tx.Amount), tx.Category)), nil
}

func (b *Bot) handleReport(ctx context.Context, user *storage.User, chatID int64, _ string) (responses, error) {
	report, err := b.finance.Report(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if report.Count == 0 {
		return reply(chatID, "Записей пока нет.\n\nДобавьте: /income 50000 зарплата или /expense 350 еда"), nil
	}

	var sb strings.Builder
	sb.WriteString("📊 Финансовый отчёт\n\n")
	fmt.Fprintf(&sb, "Доходы: %s\n", formatMoney(report.Income))
	fmt.Fprintf(&sb, "Расходы: %s\n", formatMoney(report.Expense))
	fmt.Fprintf(&sb, "Баланс: %s\n", formatMoney(report.Balance))
	if len(report.Categories) > 0 {
		sb.WriteString("\nПо категориям:\n")
		for _, c := range report.Categories {
			sign := "-"
			if c.Kind == storage.TransactionIncome {
				sign = "+"
			}
			fmt.Fprintf(&sb, "%s %s: %s\n", sign, c.Category, formatMoney(c.Total))
		}
	}
	return reply(chatID, sb.String()), nil
}

func (b *Bot) handleSearch(ctx context.Context, _ *storage.User, chatID int64, arg string) (responses, error) {
	if arg == "" {
		return reply(chatID, "Использование: /search <текст>"), nil
	}

	found, err := b.repo.SearchChatMessages(ctx, chatID, arg, searchLimit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search chat history")
	}
	if len(found) == 0 {
		return reply(chatID, fmt.Sprintf("По запросу «%s» ничего не найдено.", arg)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🔎 Найдено по запросу «%s»:\n\n", arg)
	for _, m := range found {
		author := m.Username
		if author == "" {
			author = strconv.FormatInt(m.UserID, 10)
		}
		fmt.Fprintf(&sb, "%s %s: %s\n", b.formatTime(m.CreatedAt), author, truncate(m.Text, 200))
	}
	return reply(chatID, sb.String()), nil
}

func (b *Bot) handleArchive(ctx context.Context, _ *storage.User, chatID int64, arg string) (responses, error) {
	found, err := b.repo.SearchArchives(ctx, chatID, arg, searchLimit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search archive")
	}
	if len(found) == 0 {
		return reply(chatID, "📭 В архиве ничего не найдено.\n\nОтправьте документ или фото, чтобы сохранить его."), nil
	}

	var sb strings.Builder
	sb.WriteString("📁 Файлы в архиве:\n\n")
	for _, a := range found {
		icon := "📄"
		if a.FileType == storage.ArchivePhoto {
			icon = "📸"
		}
		fmt.Fprintf(&sb, "%s #%d %s · %s\n", icon, a.ID, a.FileName, b.formatTime(a.UploadedAt))
		if a.Caption != "" {
			fmt.Fprintf(&sb, "   %s\n", truncate(a.Caption, 100))
		}
	}
	res := reply(chatID, sb.String())

	// a single match is sent back as the file itself
	if len(found) == 1 {
		res = append(res, archiveFile(chatID, found[0]))
	}
	return res, nil
}

func archiveFile(chatID int64, a *storage.Archive) tgbotapi.Chattable {
	if a.FileType == storage.ArchivePhoto {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(a.FileID))
		photo.Caption = a.Caption
		return photo
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileID(a.FileID))
	doc.Caption = a.Caption
	return doc
}

func (b *Bot) handleSummary(ctx context.Context, _ *storage.User, chatID int64, _ string) (responses, error) {
	count, err := b.repo.CountChatMessages(ctx, chatID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count chat messages")
	}
	return reply(chatID, fmt.Sprintf("💬 В истории этого чата сообщений: %d", count)), nil
}

func (b *Bot) handleSubscribe(ctx context.Context, user *storage.User, chatID int64, _ string) (responses, error) {
	now := b.clock.Now()
	state, err := b.access.Check(ctx, user.ID, now)
	if err != nil {
		return nil, err
	}

	switch {
	case state.Admin:
		return reply(chatID, "👑 У администратора доступ без ограничений."), nil
	case state.Allowed:
		return reply(chatID, fmt.Sprintf("✅ Подписка уже активна до %s.", b.formatTime(*state.EndsAt))), nil
	case state.TrialAvailable && b.trialDuration > 0:
		end, err := b.access.GrantTrial(ctx, user.ID, now, b.trialDuration)
		if err == nil {
			return reply(chatID, fmt.Sprintf("🎁 Пробный период активирован до %s.\n\nВсе функции бота доступны: /help", b.formatTime(end))), nil
		}
		if !errors.Is(err, access.ErrTrialUsed) {
			return nil, err
		}
	}

	payment, err := b.billing.CreatePayment(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	text := fmt.Sprintf("💳 Подписка на %d дней: %s\n\n"+
		"Перейдите по ссылке, чтобы оплатить. Подписка продлится автоматически после подтверждения оплаты.\n\n"+
		"Код заказа: %s\n%s",
		payment.PeriodDays, formatMoney(payment.Amount), payment.ReferenceCode, payment.ConfirmationURL)
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = paymentKeyboard(payment.ConfirmationURL)

	res := responses{msg}
	if qr := b.createQR(chatID, payment.ReferenceCode, payment.ConfirmationURL); qr != nil {
		res = append(res, qr)
	}
	return res, nil
}

func (b *Bot) handleSubscription(ctx context.Context, user *storage.User, chatID int64, _ string) (responses, error) {
	state, err := b.access.Check(ctx, user.ID, b.clock.Now())
	if err != nil {
		return nil, err
	}

	var text string
	switch {
	case state.Admin:
		text = "👑 У администратора доступ без ограничений."
	case state.Allowed:
		text = fmt.Sprintf("✅ Подписка активна до %s.", b.formatTime(*state.EndsAt))
	case state.Reason == access.ReasonExpired:
		text = fmt.Sprintf("⌛️ Подписка истекла %s.\n\nПродлить: /subscribe", b.formatTime(*state.EndsAt))
	case state.TrialAvailable:
		text = "Подписки нет. Доступен бесплатный пробный период: /subscribe"
	default:
		text = "Подписки нет. Оформить: /subscribe"
	}
	return reply(chatID, text), nil
}

func (b *Bot) handleStats(ctx context.Context, _ *storage.User, chatID int64, _ string) (responses, error) {
	users, err := b.repo.CountUsers(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count users")
	}
	active, err := b.repo.CountActiveSubscriptions(ctx, b.clock.Now())
	if err != nil {
		return nil, errors.Wrap(err, "failed to count subscriptions")
	}
	pending, err := b.repo.CountPendingReminders(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count reminders")
	}
	return reply(chatID, fmt.Sprintf("📈 Статистика\n\n"+
		"Пользователей: %d\n"+
		"Активных подписок: %d\n"+
		"Ожидающих напоминаний: %d",
		users, active, pending)), nil
}

func (b *Bot) handleGrant(ctx context.Context, admin *storage.User, chatID int64, arg string) (responses, error) {
	fields := strings.Fields(arg)
	if len(fields) != 2 {
		return nil, errGrantUsage
	}
	days, err := strconv.Atoi(fields[1])
	if err != nil || days <= 0 {
		return nil, errGrantUsage
	}

	target, err := b.resolveUser(ctx, fields[0])
	if err != nil {
		return nil, err
	}

	end, err := b.access.Extend(ctx, target.ID, b.clock.Now(), time.Duration(days)*24*time.Hour)
	if err != nil {
		return nil, err
	}
	b.log.Info("subscription granted manually",
		slog.Int64("admin_id", admin.ID),
		slog.Int64("user_id", target.ID),
		slog.Int("days", days),
	)

	notice := fmt.Sprintf("🎉 Вам продлена подписка на %d дн. Доступ открыт до %s.", days, b.formatTime(end))
	if err := b.sender.SendNotification(ctx, target.ID, notice); err != nil {
		b.log.Warn("failed to notify user about granted subscription", slog.Int64("user_id", target.ID), sl.Err(err))
	}

	return reply(chatID, fmt.Sprintf("✅ Пользователю %d продлена подписка до %s.", target.ID, b.formatTime(end))), nil
}

// resolveUser finds a user by numeric id or @username. A numeric id that has
// never written to the bot still resolves; its record is created on grant.
func (b *Bot) resolveUser(ctx context.Context, ref string) (*storage.User, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if id <= 0 {
			return nil, errGrantUsage
		}
		user, err := b.repo.GetUser(ctx, id)
		if err != nil {
			return nil, errors.Wrap(err, "failed to find user")
		}
		if user == nil {
			return &storage.User{ID: id}, nil
		}
		return user, nil
	}

	user, err := b.repo.GetUserByUsername(ctx, strings.TrimPrefix(ref, "@"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to find user")
	}
	if user == nil {
		return nil, access.ErrUserNotFound
	}
	return user, nil
}

func (b *Bot) createQR(chatID int64, name, content string) tgbotapi.Chattable {
	options := []qrcode.ImageOption{
		qrcode.WithQRWidth(7),
		qrcode.WithBuiltinImageEncoder(qrcode.PNG_FORMAT),
	}
	qrc, err := qrcode.New(content, options...)
	if err != nil {
		b.log.Warn("failed to create qr code", sl.Err(err))
		return nil
	}
	buf := bytes.Buffer{}
	if err := qrc.SaveTo(&buf); err != nil {
		b.log.Warn("failed to render qr code", sl.Err(err))
		return nil
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileReader{
		Name:   name + ".png",
		Reader: &buf,
	})
	photo.Caption = "QR-код для оплаты"
	return photo
}

func (b *Bot) formatTime(t time.Time) string {
	return t.In(b.loc).Format(timeLayout)
}

func (b *Bot) formatTodo(t *storage.Todo) string {
	text := t.Text
	if t.Priority > 0 {
		text = strings.Repeat("❗", t.Priority) + " " + text
	}
	if t.DueAt != nil {
		text += fmt.Sprintf(" (до %s)", b.formatTime(*t.DueAt))
	}
	return text
}

func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(2) + " ₽"
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(arg), "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidID
	}
	return id, nil
}

func reply(chatID int64, text string) responses {
	return responses{tgbotapi.NewMessage(chatID, text)}
}

// userErrorText maps input and state errors to a message for the user.
func userErrorText(err error) (string, bool) {
	switch {
	case errors.Is(err, reminder.ErrUnparseableTime):
		return "Не удалось распознать время.\n\n" +
			"Поддерживаются: через 15 минут, через 2 часа, через 3 дня, 18:30, завтра 09:00, 2025-01-31 12:00", true
	case errors.Is(err, reminder.ErrEmptyBody):
		return "Укажите текст напоминания, например: /remind 18:30 позвонить маме", true
	case errors.Is(err, reminder.ErrDueNotInFuture):
		return "Это время уже прошло. Укажите время в будущем.", true
	case errors.Is(err, reminder.ErrNotFound):
		return "Напоминание не найдено.", true
	case errors.Is(err, todo.ErrEmptyText):
		return "Укажите текст задачи, например: /todo купить хлеб", true
	case errors.Is(err, todo.ErrNotFound):
		return "Задача не найдена.", true
	case errors.Is(err, finance.ErrInvalidAmount):
		return "Сумма должна быть положительным числом, например: /expense 350 еда", true
	case errors.Is(err, finance.ErrInvalidCategory):
		return "Укажите категорию длиной до 64 символов, например: /expense 350 еда", true
	case errors.Is(err, billing.ErrPaymentsDisabled):
		return "Оплата временно недоступна. Попробуйте позже.", true
	case errors.Is(err, access.ErrUserNotFound):
		return "Пользователь не найден. Он должен хотя бы раз написать боту.", true
	case errors.Is(err, errInvalidID):
		return "Укажите номер из списка, например: /done 3", true
	case errors.Is(err, errGrantUsage):
		return "Использование: /grant <user_id|@username> <дней>", true
	}
	return "", false
}

func init() {
	RemindCmd.handler = (*Bot).handleRemind
	RemindersCmd.handler = (*Bot).handleReminders
	DeleteRemindCmd.handler = (*Bot).handleDeleteRemind
	TodoCmd.handler = (*Bot).handleTodo
	TodosCmd.handler = (*Bot).handleTodos
	TodosDoneCmd.handler = (*Bot).handleTodosDone
	DoneCmd.handler = (*Bot).handleDone
	DeleteTodoCmd.handler = (*Bot).handleDeleteTodo
	IncomeCmd.handler = (*Bot).handleIncome
	ExpenseCmd.handler = (*Bot).handleExpense
	ReportCmd.handler = (*Bot).handleReport
	SearchCmd.handler = (*Bot).handleSearch
	SummaryCmd.handler = (*Bot).handleSummary
	ArchiveCmd.handler = (*Bot).handleArchive
	SubscribeCmd.handler = (*Bot).handleSubscribe
	SubscriptionCmd.handler = (*Bot).handleSubscription
	StatsCmd.handler = (*Bot).handleStats
	GrantCmd.handler = (*Bot).handleGrant
}

const sorry = "Что-то пошло не так, извините 👉🏻👈🏻"

func errorMessage(chatID int64, msgID int, edit bool) (res tgbotapi.Chattable) {
	if edit {
		res = tgbotapi.NewEditMessageTextAndMarkup(
			chatID, msgID, sorry,
			tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(goToMenuButton),
			),
		)
	} else {
		res = tgbotapi.NewMessage(chatID, sorry)
	}
	return
}
