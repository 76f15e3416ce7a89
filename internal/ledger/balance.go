package ledger

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"resona/internal/models"
)

// BalanceSummary aggregates a user's drawable batches.
type BalanceSummary struct {
	CurrentBalance int64     `json:"current_balance"`
	TotalEarned    int64     `json:"total_credits_earned"`
	TotalUsed      int64     `json:"total_credits_used"`
	LastUpdated    time.Time `json:"last_updated"`
}

// TimeToExpiry is the remaining lifetime of an expiring batch, broken down
// for display.
type TimeToExpiry struct {
	Days         int   `json:"days"`
	Hours        int   `json:"hours"`
	Minutes      int   `json:"minutes"`
	TotalSeconds int64 `json:"total_seconds"`
}

// BatchDetail describes one drawable batch.
type BatchDetail struct {
	BalanceID       uuid.UUID     `json:"balance_id"`
	PackageID       *uuid.UUID    `json:"package_id,omitempty"`
	PackageName     string        `json:"package_name"`
	InitialAmount   int64         `json:"initial_amount"`
	RemainingAmount int64         `json:"remaining_amount"`
	ConsumedPercent float64       `json:"consumed_percentage"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty"`
	TimeToExpiry    *TimeToExpiry `json:"time_to_expiry,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// SubscriptionDetails describes the user's active subscription, if any.
type SubscriptionDetails struct {
	ID                uuid.UUID                   `json:"id"`
	PackageName       string                      `json:"package_name"`
	CreditsPerPeriod  int64                       `json:"credits_per_period"`
	CurrentPeriodEnd  time.Time                   `json:"current_period_end"`
	Status            string                      `json:"status"`
	Platform          models.SubscriptionPlatform `json:"platform"`
	CancelAtPeriodEnd bool                        `json:"cancel_at_period_end"`
	Package           *models.CreditPackage       `json:"package_details,omitempty"`
}

// CreditDetails is the full balance report for a user.
type CreditDetails struct {
	BalanceSummary
	Batches            []BatchDetail        `json:"balance_details"`
	ActiveSubscription *SubscriptionDetails `json:"active_subscription,omitempty"`
}

// Balance returns the aggregate balance for a user. Pure read.
func (s *Service) Balance(ctx context.Context, email string) (*BalanceSummary, error) {
	now := s.now()
	var summary *BalanceSummary
	err := s.store.View(ctx, func(tx Tx) error {
		user, err := tx.UserByEmail(ctx, email)
		if err != nil {
			return err
		}
		batches, err := tx.ActiveBatches(ctx, user.ID, now)
		if err != nil {
			return err
		}
		summary = summarize(batches, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// CreditDetails returns the aggregate balance plus per-batch breakdown and
// active subscription info. Pure read.
func (s *Service) CreditDetails(ctx context.Context, email string) (*CreditDetails, error) {
	now := s.now()
	var details *CreditDetails
	err := s.store.View(ctx, func(tx Tx) error {
		user, err := tx.UserByEmail(ctx, email)
		if err != nil {
			return err
		}
		records, err := tx.ActiveBatchRecords(ctx, user.ID, now)
		if err != nil {
			return err
		}

		batches := make([]models.BalanceBatch, len(records))
		batchDetails := make([]BatchDetail, 0, len(records))
		for i, rec := range records {
			batches[i] = rec.Batch
			batchDetails = append(batchDetails, batchDetail(rec, now))
		}

		details = &CreditDetails{
			BalanceSummary: *summarize(batches, now),
			Batches:        batchDetails,
		}

		sub, err := tx.ActiveSubscription(ctx, user.ID, now)
		if err != nil {
			return err
		}
		if sub != nil {
			pkg, err := tx.PackageByID(ctx, sub.PackageID)
			if err != nil {
				return err
			}
			details.ActiveSubscription = &SubscriptionDetails{
				ID:                sub.ID,
				PackageName:       pkg.Name,
				CreditsPerPeriod:  sub.CreditsPerPeriod,
				CurrentPeriodEnd:  sub.CurrentPeriodEnd,
				Status:            sub.Status,
				Platform:          sub.Platform,
				CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
				Package:           pkg,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

func summarize(batches []models.BalanceBatch, now time.Time) *BalanceSummary {
	summary := &BalanceSummary{LastUpdated: now}
	for _, b := range batches {
		summary.CurrentBalance += b.RemainingAmount
		summary.TotalEarned += b.InitialAmount
		summary.TotalUsed += b.InitialAmount - b.RemainingAmount
	}
	return summary
}

func batchDetail(rec BatchRecord, now time.Time) BatchDetail {
	b := rec.Batch

	detail := BatchDetail{
		BalanceID:       b.ID,
		PackageID:       b.PackageID,
		PackageName:     "System Credit",
		InitialAmount:   b.InitialAmount,
		RemainingAmount: b.RemainingAmount,
		ExpiresAt:       b.ExpiresAt,
		CreatedAt:       b.CreatedAt,
	}
	if rec.Package != nil {
		detail.PackageName = rec.Package.Name
	}
	if b.InitialAmount > 0 {
		consumed := float64(b.InitialAmount-b.RemainingAmount) / float64(b.InitialAmount) * 100
		detail.ConsumedPercent = math.Round(consumed*100) / 100
	}
	if b.ExpiresAt != nil {
		detail.TimeToExpiry = expiryBreakdown(now, *b.ExpiresAt)
	}
	return detail
}

func expiryBreakdown(now, expiresAt time.Time) *TimeToExpiry {
	remaining := expiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return &TimeToExpiry{
		Days:         int(remaining / (24 * time.Hour)),
		Hours:        int(remaining % (24 * time.Hour) / time.Hour),
		Minutes:      int(remaining % time.Hour / time.Minute),
		TotalSeconds: int64(remaining / time.Second),
	}
}
