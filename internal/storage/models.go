package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a Telegram user together with its subscription record.
// ID is the Telegram user id.
type User struct {
	ID                int64
	Username          string
	TrialUsed         bool
	SubscriptionEnd   *time.Time
	ExpiryNotifiedFor *time.Time
	CreatedAt         time.Time
}

// Reminder is a scheduled message owned by a user
type Reminder struct {
	ID          int64
	UserID      int64
	ChatID      int64
	Body        string
	DueAt       time.Time
	Completed   bool
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// PaymentStatus mirrors the provider's payment status
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusCanceled  PaymentStatus = "canceled"
)

// Payment represents a subscription purchase attempt
type Payment struct {
	ID              int64
	UserID          int64
	ProviderID      string
	ReferenceCode   string
	Amount          decimal.Decimal
	Currency        string
	PeriodDays      int
	Status          PaymentStatus
	ConfirmationURL string
	CreatedAt       time.Time
	ConfirmedAt     *time.Time
}

type Todo struct {
	ID          int64
	ChatID      int64
	UserID      int64
	Text        string
	Priority    int
	DueAt       *time.Time
	Completed   bool
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// TransactionKind is either income or expense
type TransactionKind string

const (
	TransactionIncome  TransactionKind = "income"
	TransactionExpense TransactionKind = "expense"
)

type Transaction struct {
	ID          int64
	UserID      int64
	Kind        TransactionKind
	Amount      decimal.Decimal
	Category    string
	Description string
	CreatedAt   time.Time
}

// ChatMessage is one logged line of chat history
type ChatMessage struct {
	ID        int64
	ChatID    int64
	UserID    int64
	Username  string
	Text      string
	IsBot     bool
	CreatedAt time.Time
}

const (
	ArchiveDocument = "document"
	ArchivePhoto    = "photo"
)

// Archive is metadata of a file sent to the bot. The file itself stays on
// Telegram's side and is addressed by FileID.
type Archive struct {
	ID         int64
	ChatID     int64
	UserID     int64
	Username   string
	FileID     string
	FileName   string
	FileType   string
	MimeType   string
	FileSize   int64
	Caption    string
	UploadedAt time.Time
}
