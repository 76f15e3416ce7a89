package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resona/internal/ledger"
	"resona/internal/models"
)

// seedActivity books one grant and one deduction per day for the given
// number of days, ending at testNow.
func seedActivity(t *testing.T, f *fixture, days int) {
	t.Helper()
	for i := days - 1; i >= 0; i-- {
		day := testNow.Add(-time.Duration(i) * 24 * time.Hour)
		f.svc.WithClock(func() time.Time { return day })

		_, err := f.svc.Issue(context.Background(), f.alice.Email, ledger.IssueParams{
			Source: models.SourceAdminGrant,
			Amount: 100,
		})
		require.NoError(t, err)
		_, err = f.svc.Deduct(context.Background(), f.alice.Email, ledger.DeductParams{
			Amount:      40,
			APIEndpoint: fmt.Sprintf("/v1/day/%d", i),
		})
		require.NoError(t, err)
	}
	f.svc.WithClock(func() time.Time { return testNow })
}

func TestHistoryPagination(t *testing.T) {
	f := newFixture(t)
	seedActivity(t, f, 5) // 10 transactions

	entries, meta, err := f.svc.History(context.Background(), f.alice.Email, ledger.HistoryFilter{}, 1, 4)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	assert.Equal(t, 10, meta.TotalItems)
	assert.Equal(t, 3, meta.TotalPages)

	// Newest first: page one starts with today's activity.
	assert.Equal(t, testNow, entries[0].CreatedAt)

	lastPage, _, err := f.svc.History(context.Background(), f.alice.Email, ledger.HistoryFilter{}, 3, 4)
	require.NoError(t, err)
	assert.Len(t, lastPage, 2)

	empty, _, err := f.svc.History(context.Background(), f.alice.Email, ledger.HistoryFilter{}, 4, 4)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHistoryFilters(t *testing.T) {
	f := newFixture(t)
	seedActivity(t, f, 3)

	debit := models.TransactionDebit
	entries, meta, err := f.svc.History(context.Background(), f.alice.Email, ledger.HistoryFilter{Type: &debit}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.TotalItems)
	for _, entry := range entries {
		assert.Equal(t, models.TransactionDebit, entry.Type)
	}

	source := models.SourceAdminGrant
	_, meta, err = f.svc.History(context.Background(), f.alice.Email, ledger.HistoryFilter{Source: &source}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.TotalItems)

	start := testNow.Add(-24 * time.Hour)
	entries, meta, err = f.svc.History(context.Background(), f.alice.Email, ledger.HistoryFilter{StartDate: &start}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 4, meta.TotalItems, "today and yesterday, two transactions each")
	for _, entry := range entries {
		assert.False(t, entry.CreatedAt.Before(start))
	}

	_, _, err = f.svc.History(context.Background(), "nobody@example.com", ledger.HistoryFilter{}, 1, 20)
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

func TestHistoryIncludesPackageDetails(t *testing.T) {
	f := newFixture(t)
	f.issuePackage(t, f.alice.Email, f.starterPkg)

	entries, _, err := f.svc.History(context.Background(), f.alice.Email, ledger.HistoryFilter{}, 1, 20)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Package)
	assert.Equal(t, "Starter", entries[0].Package.Name)
}

func TestAnalytics(t *testing.T) {
	f := newFixture(t)
	seedActivity(t, f, 3)

	report, err := f.svc.Analytics(context.Background(), f.alice.Email, 30*24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, int64(180), report.CurrentBalance)
	assert.Equal(t, 30, report.PeriodStats.DaysInPeriod)

	credits := report.TransactionTypes[models.TransactionCredit]
	assert.Equal(t, 3, credits.Count)
	assert.Equal(t, int64(300), credits.TotalAmount)
	debits := report.TransactionTypes[models.TransactionDebit]
	assert.Equal(t, 3, debits.Count)
	assert.Equal(t, int64(120), debits.TotalAmount)

	// Every enum value is present, active or not.
	assert.Len(t, report.TransactionTypes, len(models.TransactionTypes()))
	assert.Len(t, report.Sources, len(models.TransactionSources()))
	assert.Equal(t, 0, report.Sources[models.SourcePeerTransfer].Count)
	assert.Equal(t, 3, report.Sources[models.SourceAdminGrant].Count)

	require.Len(t, report.DailyTrends, 3)
	for i := 1; i < len(report.DailyTrends); i++ {
		assert.True(t, report.DailyTrends[i-1].Date.Before(report.DailyTrends[i].Date))
	}
	for _, trend := range report.DailyTrends {
		assert.Equal(t, int64(100), trend.CreditAmount)
		assert.Equal(t, int64(40), trend.DebitAmount)
	}

	assert.InDelta(t, 4.0, report.Averages.DailyUsage, 0.001)
	assert.InDelta(t, 40.0, report.Averages.CreditsPerTransaction, 0.001)
}

func TestAnalyticsWindowExcludesOlderActivity(t *testing.T) {
	f := newFixture(t)
	seedActivity(t, f, 10)

	report, err := f.svc.Analytics(context.Background(), f.alice.Email, 2*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, report.TransactionTypes[models.TransactionDebit].Count, "window keeps the trailing two days plus today")
	assert.Equal(t, int64(600), report.CurrentBalance, "balance is not windowed")
}
