// Package finance keeps a simple income/expense ledger per user.
package finance

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/skoret/assistant-bot/internal/storage"
)

const maxCategoryLen = 64

var (
	ErrInvalidAmount   = errors.New("amount must be a positive number")
	ErrInvalidCategory = errors.New("category is empty or too long")
)

type Repository interface {
	CreateTransaction(ctx context.Context, tx *storage.Transaction) error
	ListTransactions(ctx context.Context, userID int64, from, to time.Time) ([]*storage.Transaction, error)
}

type Entry struct {
	Amount      decimal.Decimal
	Category    string
	Description string
}

// ParseEntry reads "<amount> <category> [description]". A comma is accepted
// as the decimal separator.
func ParseEntry(args string) (Entry, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return Entry{}, ErrInvalidAmount
	}

	amount, err := decimal.NewFromString(strings.Replace(fields[0], ",", ".", 1))
	if err != nil || !amount.IsPositive() {
		return Entry{}, ErrInvalidAmount
	}
	if len(fields) < 2 || utf8.RuneCountInString(fields[1]) > maxCategoryLen {
		return Entry{}, ErrInvalidCategory
	}

	return Entry{
		Amount:      amount,
		Category:    strings.ToLower(fields[1]),
		Description: strings.Join(fields[2:], " "),
	}, nil
}

type CategoryTotal struct {
	Kind     storage.TransactionKind
	Category string
	Total    decimal.Decimal
}

type Report struct {
	Income     decimal.Decimal
	Expense    decimal.Decimal
	Balance    decimal.Decimal
	Categories []CategoryTotal
	Count      int
}

type Service struct {
	repo  Repository
	clock clockwork.Clock
	loc   *time.Location
}

func NewService(repo Repository, clock clockwork.Clock, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{repo: repo, clock: clock, loc: loc}
}

func (s *Service) Add(ctx context.Context, userID int64, kind storage.TransactionKind, args string) (*storage.Transaction, error) {
	entry, err := ParseEntry(args)
	if err != nil {
		return nil, err
	}

	tx := &storage.Transaction{
		UserID:      userID,
		Kind:        kind,
		Amount:      entry.Amount,
		Category:    entry.Category,
		Description: entry.Description,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, errors.Wrap(err, "create transaction")
	}
	return tx, nil
}

// Report sums all of the user's transactions.
func (s *Service) Report(ctx context.Context, userID int64) (*Report, error) {
	return s.report(ctx, userID, time.Unix(0, 0), s.clock.Now().Add(time.Second))
}

// MonthReport sums transactions since the start of the current calendar month.
func (s *Service) MonthReport(ctx context.Context, userID int64) (*Report, error) {
	now := s.clock.Now().In(s.loc)
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc)
	return s.report(ctx, userID, from, now.Add(time.Second))
}

func (s *Service) report(ctx context.Context, userID int64, from, to time.Time) (*Report, error) {
	txs, err := s.repo.ListTransactions(ctx, userID, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "list transactions")
	}
	return Summarize(txs), nil
}

// Summarize totals transactions by kind and by category. Categories are
// ordered by kind (income first), then by total descending.
func Summarize(txs []*storage.Transaction) *Report {
	report := &Report{Income: decimal.Zero, Expense: decimal.Zero, Count: len(txs)}
	type key struct {
		kind     storage.TransactionKind
		category string
	}
	totals := make(map[key]decimal.Decimal)

	for _, tx := range txs {
		switch tx.Kind {
		case storage.TransactionIncome:
			report.Income = report.Income.Add(tx.Amount)
		case storage.TransactionExpense:
			report.Expense = report.Expense.Add(tx.Amount)
		}
		k := key{tx.Kind, tx.Category}
		totals[k] = totals[k].Add(tx.Amount)
	}
	report.Balance = report.Income.Sub(report.Expense)

	for k, total := range totals {
		report.Categories = append(report.Categories, CategoryTotal{Kind: k.kind, Category: k.category, Total: total})
	}
	sort.Slice(report.Categories, func(i, j int) bool {
		a, b := report.Categories[i], report.Categories[j]
		if a.Kind != b.Kind {
			return a.Kind == storage.TransactionIncome
		}
		if c := a.Total.Cmp(b.Total); c != 0 {
			return c > 0
		}
		return a.Category < b.Category
	})
	return report
}
