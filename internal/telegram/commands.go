package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/skoret/assistant-bot/internal/storage"
)

type handler func(b *Bot, ctx context.Context, user *storage.User, chatID int64, arg string) (responses, error)

type command struct {
	tgbotapi.BotCommand
	text     string
	keyboard *tgbotapi.InlineKeyboardMarkup
	handler  handler
	// premium commands need an active subscription or trial
	premium bool
	admin   bool
	hidden  bool
}

var (
	StartCmd = command{
		BotCommand: tgbotapi.BotCommand{
			Command:     "start",
			Description: "Главное меню",
		},
		text: "Привет! Я помогу не забыть важное: напоминания, задачи и учёт финансов.\n\n" +
			"Новым пользователям доступен бесплатный пробный период: /subscribe",
	}
	MenuCmd = command{
		BotCommand: tgbotapi.BotCommand{
			Command:     "menu",
			Description: "Меню бота",
		},
		text: "Выберите действие:",
	}
	HelpCmd = command{
		BotCommand: tgbotapi.BotCommand{
			Command:     "help",
			Description: "Помощь",
		},
		text: "ℹ️ Доступные команды:\n\n" +
			"/remind <время> <текст> - Создать напоминание\n" +
			"   время: через 15 минут, 18:30, завтра 09:00, 2025-01-31 12:00\n" +
			"/reminders - Активные напоминания\n" +
			"/delete_remind <id> - Удалить напоминание\n\n" +
			"/todo [время] [!!] <текст> - Добавить задачу\n" +
			"/todos - Список задач\n" +
			"/todos_done - Выполненные задачи\n" +
			"/done <id> - Отметить задачу выполненной\n" +
			"/delete_todo <id> - Удалить задачу\n\n" +
			"/income <сумма> <категория> [описание] - Доход\n" +
			"/expense <сумма> <категория> [описание] - Расход\n" +
			"/report - Отчёт по финансам\n\n" +
			"/search <текст> - Поиск по истории чата\n" +
			"/summary - Статистика чата\n" +
			"/archive [запрос] - Поиск по архиву файлов и фото\n\n" +
			"/subscribe - Оформить подписку\n" +
			"/subscription - Статус подписки",
	}
	RemindCmd = command{
		BotCommand: tgbotapi.BotCommand{
			Command:     "remind",
			Description: "Создать напоминание",
		},
		premium: true,
	}
	RemindersCmd = command{
		BotCommand: tgbotapi.BotCommand{
			Command:     "reminders",
			Description: "Мои напоминания",
		},
	}
	DeleteRemindCmd = command{
		BotCommand: tgbotapi.BotCommand{
			Command:     "delete_remind",
			Description: "Удалить напоминание",
		},
	}
	TodoCmd = command{
		BotCommand: tgbotapi.BotCommand{
			Command:     "todo",
			Description: "Добавить задачу",
		},
		premium: true,
	}
	TodosCmd = command{
		BotCommand: tgbotapi.BotCommand{
			Command:     "todos",
			Description: "Список задач",
		},
		premium: true,
	}
	TodosDoneCmd = command{
		BotCommand: tgbotapi.BotCommand{
			Command:     "todos_done",
			Description: "Выполненные задачи",
		},
		premium: true,
	}
	DoneCmd = command{
		BotCommand: tgbotapi.BotCommand{
			Command:     "done",
			Description: "Отметить задачу выполненной",
		},
		premium: true,
	}
	DeleteTodoCmd = command{
		BotCommand: tgbotapi.BotCommand{
			Command:     "delete_todo",
			Description: "Удалить задачу",
		},
		premium: true,
	}
	IncomeCmd = command{
		BotCommand: tgbotapi.BotCommand{
			Command:     "income",
			Description: "Записать доход",
		},
		premium: true,
	}
	ExpenseCmd = command{
		BotCommand: tgbotapi.BotCommand{
			Command:     "expense",
			Description: "Записать расход",
		},
		premium: true,
	}
	ReportCmd = command{
		BotCommand: tgbotapi.BotCommand{
			Command:     "report",
			Description: "Финансовый отчёт",
		},
		premium: true,
	}
	SearchCmd = command{
		BotCommand: tgbotapi.BotCommand{
			Command:     "search",
			Description: "Поиск по истории чата",
		},
	}
	ArchiveCmd = command{
		BotCommand: tgbotapi.BotCommand{
			Command:     "archive",
			Description: "Поиск по архиву файлов",
		},
	}
	SummaryCmd = command{
		BotCommand: tgbotapi.BotCommand{
			Command:     "summary",
			Description: "Статистика чата",
		},
	}
	SubscribeCmd = command{
		BotCommand: tgbotapi.BotCommand{
			Command:     "subscribe",
			Description: "Оформить подписку",
		},
	}
	SubscriptionCmd = command{
		BotCommand: tgbotapi.BotCommand{
			Command:     "subscription",
			Description: "Статус подписки",
		},
	}
	StatsCmd = command{
		BotCommand: tgbotapi.BotCommand{
			Command:     "stats",
			Description: "Статистика бота",
		},
		admin:  true,
		hidden: true,
	}
	GrantCmd = command{
		BotCommand: tgbotapi.BotCommand{
			Command:     "grant",
			Description: "Продлить подписку пользователю",
		},
		admin:  true,
		hidden: true,
	}
)

var commands = map[string]*command{
	StartCmd.Command:        &StartCmd,
	MenuCmd.Command:         &MenuCmd,
	HelpCmd.Command:         &HelpCmd,
	RemindCmd.Command:       &RemindCmd,
	RemindersCmd.Command:    &RemindersCmd,
	DeleteRemindCmd.Command: &DeleteRemindCmd,
	TodoCmd.Command:         &TodoCmd,
	TodosCmd.Command:        &TodosCmd,
	TodosDoneCmd.Command:    &TodosDoneCmd,
	DoneCmd.Command:         &DoneCmd,
	DeleteTodoCmd.Command:   &DeleteTodoCmd,
	IncomeCmd.Command:       &IncomeCmd,
	ExpenseCmd.Command:      &ExpenseCmd,
	ReportCmd.Command:       &ReportCmd,
	SearchCmd.Command:       &SearchCmd,
	SummaryCmd.Command:      &SummaryCmd,
	ArchiveCmd.Command:      &ArchiveCmd,
	SubscribeCmd.Command:    &SubscribeCmd,
	SubscriptionCmd.Command: &SubscriptionCmd,
	StatsCmd.Command:        &StatsCmd,
	GrantCmd.Command:        &GrantCmd,
}

// menuOrder is the order commands appear in the Telegram command menu.
var menuOrder = []*command{
	&StartCmd, &MenuCmd, &RemindCmd, &RemindersCmd, &DeleteRemindCmd,
	&TodoCmd, &TodosCmd, &TodosDoneCmd, &DoneCmd, &DeleteTodoCmd,
	&IncomeCmd, &ExpenseCmd, &ReportCmd, &SearchCmd, &SummaryCmd,
	&ArchiveCmd, &SubscribeCmd, &SubscriptionCmd, &HelpCmd,
}

func visibleCommands() []tgbotapi.BotCommand {
	res := make([]tgbotapi.BotCommand, 0, len(menuOrder))
	for _, cmd := range menuOrder {
		if !cmd.hidden {
			res = append(res, cmd.BotCommand)
		}
	}
	return res
}

// setMyCommands sets bot commands
func (b *Bot) setMyCommands() error {
	_, err := b.api.Request(tgbotapi.NewSetMyCommands(visibleCommands()...))
	return err
}
