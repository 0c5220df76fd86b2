package finance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skoret/assistant-bot/internal/storage"
)

func TestParseEntry(t *testing.T) {
	tests := []struct {
		args        string
		amount      string
		category    string
		description string
	}{
		{args: "1500 зарплата", amount: "1500", category: "зарплата"},
		{args: "99,90 Еда обед в кафе", amount: "99.9", category: "еда", description: "обед в кафе"},
		{args: "0.01 misc", amount: "0.01", category: "misc"},
	}
	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			entry, err := ParseEntry(tt.args)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.amount).Equal(entry.Amount))
			assert.Equal(t, tt.category, entry.Category)
			assert.Equal(t, tt.description, entry.Description)
		})
	}
}

func TestParseEntry_Errors(t *testing.T) {
	long := "категория" + "________________________________________________________________"
	tests := []struct {
		args string
		want error
	}{
		{args: "", want: ErrInvalidAmount},
		{args: "много еда", want: ErrInvalidAmount},
		{args: "0 еда", want: ErrInvalidAmount},
		{args: "-5 еда", want: ErrInvalidAmount},
		{args: "100", want: ErrInvalidCategory},
		{args: "100 " + long, want: ErrInvalidCategory},
	}
	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			_, err := ParseEntry(tt.args)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSummarize(t *testing.T) {
	d := decimal.RequireFromString
	report := Summarize([]*storage.Transaction{
		{Kind: storage.TransactionIncome, Amount: d("1000"), Category: "salary"},
		{Kind: storage.TransactionExpense, Amount: d("10.10"), Category: "food"},
		{Kind: storage.TransactionExpense, Amount: d("0.20"), Category: "food"},
		{Kind: storage.TransactionExpense, Amount: d("300"), Category: "rent"},
		{Kind: storage.TransactionIncome, Amount: d("50"), Category: "gift"},
	})

	assert.True(t, d("1050").Equal(report.Income))
	assert.True(t, d("310.30").Equal(report.Expense))
	assert.True(t, d("739.70").Equal(report.Balance))
	assert.Equal(t, 5, report.Count)

	require.Len(t, report.Categories, 4)
	assert.Equal(t, "salary", report.Categories[0].Category)
	assert.Equal(t, "gift", report.Categories[1].Category)
	assert.Equal(t, "rent", report.Categories[2].Category)
	assert.Equal(t, "food", report.Categories[3].Category)
	assert.True(t, d("10.30").Equal(report.Categories[3].Total))
}

func TestService_AddAndReport(t *testing.T) {
	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "finance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	ctx := context.Background()
	require.NoError(t, repo.Migrate(ctx))

	start := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	_, err = repo.GetOrCreateUser(ctx, 1, "", start)
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(start)
	svc := NewService(repo, clock, time.UTC)

	_, err = svc.Add(ctx, 1, storage.TransactionIncome, "1000 зарплата")
	require.NoError(t, err)
	clock.Advance(24 * time.Hour)
	_, err = svc.Add(ctx, 1, storage.TransactionExpense, "250,50 еда продукты")
	require.NoError(t, err)

	_, err = svc.Add(ctx, 1, storage.TransactionExpense, "abc еда")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	all, err := svc.Report(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, all.Count)
	assert.True(t, decimal.RequireFromString("749.5").Equal(all.Balance))

	month, err := svc.MonthReport(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, month.Count, "only February transactions")
	assert.True(t, decimal.RequireFromString("-250.5").Equal(month.Balance))
}
