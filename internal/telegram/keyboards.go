package telegram

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/skoret/assistant-bot/internal/storage"
)

const (
	deleteReminderPrefix = "rem_del:"
	completeTodoPrefix   = "todo_done:"

	// maxListButtons caps per-item buttons under a list message.
	maxListButtons = 10
)

func (cmd command) button() tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(cmd.Description, cmd.Command)
}

var (
	mainMenuKeyboard = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(RemindersCmd.button()),
		tgbotapi.NewInlineKeyboardRow(TodosCmd.button()),
		tgbotapi.NewInlineKeyboardRow(ReportCmd.button()),
		tgbotapi.NewInlineKeyboardRow(SubscriptionCmd.button()),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("ℹ️ Помощь", HelpCmd.Command),
		),
	)

	goToMenuButton = tgbotapi.NewInlineKeyboardButtonData("◀️ Меню", MenuCmd.Command)

	helpKeyboard = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(goToMenuButton),
	)

	subscribeKeyboard = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💳 Оформить подписку", SubscribeCmd.Command),
		),
	)
)

func paymentKeyboard(url string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("💳 Оплатить", url)),
		tgbotapi.NewInlineKeyboardRow(goToMenuButton),
	)
}

func remindersKeyboard(reminders []*storage.Reminder) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(reminders)+1)
	for i, rem := range reminders {
		if i == maxListButtons {
			break
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("🗑 #%d %s", rem.ID, truncate(rem.Body, 24)),
				deleteReminderPrefix+strconv.FormatInt(rem.ID, 10),
			),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(goToMenuButton))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func todosKeyboard(todos []*storage.Todo) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(todos)+1)
	for i, t := range todos {
		if i == maxListButtons {
			break
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("✅ #%d %s", t.ID, truncate(t.Text, 24)),
				completeTodoPrefix+strconv.FormatInt(t.ID, 10),
			),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(goToMenuButton))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// parseCallbackID extracts the id from data of the form prefix+id.
func parseCallbackID(data, prefix string) (int64, bool) {
	raw, ok := strings.CutPrefix(data, prefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

func init() {
	StartCmd.keyboard = &mainMenuKeyboard
	MenuCmd.keyboard = &mainMenuKeyboard
	HelpCmd.keyboard = &helpKeyboard
}
