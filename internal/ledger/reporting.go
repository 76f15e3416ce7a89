package ledger

import (
	"context"
	"sort"
	"time"

	"resona/internal/models"
)

const (
	defaultPageSize  = 20
	maxPageSize      = 100
	defaultAnalytics = 30 * 24 * time.Hour
)

// PageMeta describes one page of results.
type PageMeta struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
	TotalItems int `json:"total_items"`
}

// HistoryEntry is one transaction with its package summary.
type HistoryEntry struct {
	models.Transaction
	Package *models.CreditPackage `json:"package_details,omitempty"`
}

// History returns a user's transactions newest first, filtered and paginated.
// Pure read.
func (s *Service) History(ctx context.Context, email string, filter HistoryFilter, page, pageSize int) ([]HistoryEntry, PageMeta, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var (
		entries []HistoryEntry
		total   int
	)
	err := s.store.View(ctx, func(tx Tx) error {
		user, err := tx.UserByEmail(ctx, email)
		if err != nil {
			return err
		}
		records, count, err := tx.TransactionPage(ctx, user.ID, filter, pageSize, (page-1)*pageSize)
		if err != nil {
			return err
		}
		total = count
		entries = make([]HistoryEntry, 0, len(records))
		for _, rec := range records {
			entries = append(entries, HistoryEntry{Transaction: rec.Transaction, Package: rec.Package})
		}
		return nil
	})
	if err != nil {
		return nil, PageMeta{}, err
	}

	meta := PageMeta{
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
		TotalItems: total,
	}
	return entries, meta, nil
}

// TxStat aggregates transactions of one type or source.
type TxStat struct {
	Count       int   `json:"count"`
	TotalAmount int64 `json:"total_amount"`
}

// DailyTrend is one day's debit and credit totals.
type DailyTrend struct {
	Date         time.Time `json:"date"`
	DebitAmount  int64     `json:"debit_amount"`
	CreditAmount int64     `json:"credit_amount"`
}

// Analytics aggregates a user's ledger activity over a trailing window.
type Analytics struct {
	CurrentBalance int64 `json:"current_balance"`
	PeriodStats    struct {
		StartDate    time.Time `json:"start_date"`
		EndDate      time.Time `json:"end_date"`
		DaysInPeriod int       `json:"days_in_period"`
	} `json:"period_stats"`
	TransactionTypes map[models.TransactionType]TxStat   `json:"transaction_types"`
	Sources          map[models.TransactionSource]TxStat `json:"sources"`
	DailyTrends      []DailyTrend                        `json:"daily_trends"`
	Averages         struct {
		DailyUsage            float64 `json:"daily_usage"`
		CreditsPerTransaction float64 `json:"credits_per_transaction"`
	} `json:"averages"`
}

// Analytics aggregates debit/credit totals by type and source plus daily
// trend buckets over the trailing window. Pure read.
func (s *Service) Analytics(ctx context.Context, email string, timeRange time.Duration) (*Analytics, error) {
	if timeRange <= 0 {
		timeRange = defaultAnalytics
	}
	now := s.now()
	start := now.Add(-timeRange)

	report := &Analytics{
		TransactionTypes: make(map[models.TransactionType]TxStat, len(models.TransactionTypes())),
		Sources:          make(map[models.TransactionSource]TxStat, len(models.TransactionSources())),
	}
	report.PeriodStats.StartDate = start
	report.PeriodStats.EndDate = now
	report.PeriodStats.DaysInPeriod = int(timeRange / (24 * time.Hour))

	// Every enum value appears in the report, zero or not.
	for _, t := range models.TransactionTypes() {
		report.TransactionTypes[t] = TxStat{}
	}
	for _, src := range models.TransactionSources() {
		report.Sources[src] = TxStat{}
	}

	err := s.store.View(ctx, func(tx Tx) error {
		user, err := tx.UserByEmail(ctx, email)
		if err != nil {
			return err
		}
		batches, err := tx.ActiveBatches(ctx, user.ID, now)
		if err != nil {
			return err
		}
		report.CurrentBalance = sumRemaining(batches)

		txns, err := tx.TransactionsSince(ctx, user.ID, start)
		if err != nil {
			return err
		}

		daily := make(map[time.Time]*DailyTrend)
		for _, txn := range txns {
			typeStat := report.TransactionTypes[txn.Type]
			typeStat.Count++
			typeStat.TotalAmount += txn.Amount
			report.TransactionTypes[txn.Type] = typeStat

			sourceStat := report.Sources[txn.Source]
			sourceStat.Count++
			sourceStat.TotalAmount += txn.Amount
			report.Sources[txn.Source] = sourceStat

			day := txn.CreatedAt.UTC().Truncate(24 * time.Hour)
			trend, ok := daily[day]
			if !ok {
				trend = &DailyTrend{Date: day}
				daily[day] = trend
			}
			switch txn.Type {
			case models.TransactionDebit:
				trend.DebitAmount += txn.Amount
			case models.TransactionCredit:
				trend.CreditAmount += txn.Amount
			}
		}

		report.DailyTrends = make([]DailyTrend, 0, len(daily))
		for _, trend := range daily {
			report.DailyTrends = append(report.DailyTrends, *trend)
		}
		sort.Slice(report.DailyTrends, func(i, j int) bool {
			return report.DailyTrends[i].Date.Before(report.DailyTrends[j].Date)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	days := report.PeriodStats.DaysInPeriod
	if days < 1 {
		days = 1
	}
	debits := report.TransactionTypes[models.TransactionDebit]
	report.Averages.DailyUsage = float64(debits.TotalAmount) / float64(days)
	if debits.Count > 0 {
		report.Averages.CreditsPerTransaction = float64(debits.TotalAmount) / float64(debits.Count)
	}
	return report, nil
}
