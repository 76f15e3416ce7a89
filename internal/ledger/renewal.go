package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"resona/internal/models"
)

// RenewalEvent is a billing-platform renewal notification, already verified
// upstream. EventID is the platform's delivery id and keys deduplication.
type RenewalEvent struct {
	EventID                string
	PlatformSubscriptionID string
	PlatformTransactionID  string
	PeriodStart            time.Time
	PeriodEnd              time.Time
}

// ProcessRenewal issues the subscription's per-period credits. The event id
// is recorded inside the same atomic unit as the grant, so a re-delivered
// event fails with ErrEventAlreadyProcessed without writing anything.
func (s *Service) ProcessRenewal(ctx context.Context, event RenewalEvent) (*IssueResult, error) {
	var (
		user *models.User
		sub  *models.Subscription
	)
	err := s.store.View(ctx, func(tx Tx) error {
		found, err := tx.SubscriptionByPlatformID(ctx, event.PlatformSubscriptionID)
		if err != nil {
			return err
		}
		sub = found
		user, err = tx.UserByID(ctx, sub.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if sub.Status != "active" {
		return nil, ErrSubscriptionNotFound
	}

	var result *IssueResult
	err = s.store.Update(ctx, []uuid.UUID{user.ID}, func(tx Tx) error {
		fresh, err := tx.MarkEventProcessed(ctx, event.EventID)
		if err != nil {
			return fmt.Errorf("ledger: record billing event: %w", err)
		}
		if !fresh {
			return ErrEventAlreadyProcessed
		}

		result, err = s.issueInTx(ctx, tx, user, IssueParams{
			PackageID:             &sub.PackageID,
			Source:                models.SourceSubscriptionRenewal,
			PlatformTransactionID: event.PlatformTransactionID,
			SubscriptionID:        &sub.ID,
			Description:           fmt.Sprintf("Subscription renewal credits (%s)", sub.Platform),
			Metadata: map[string]any{
				"subscription_id":      sub.ID.String(),
				"platform":             string(sub.Platform),
				"renewal_period_start": event.PeriodStart.Format(time.RFC3339),
				"renewal_period_end":   event.PeriodEnd.Format(time.RFC3339),
			},
		})
		return err
	})
	if err != nil {
		if errors.Is(err, ErrEventAlreadyProcessed) {
			s.metrics.WebhookDuplicates.Inc()
			s.logger.Warn("billing event already processed",
				zap.String("event_id", event.EventID),
				zap.String("platform_subscription_id", event.PlatformSubscriptionID),
			)
		}
		return nil, err
	}

	s.metrics.CreditsIssued.WithLabelValues(string(models.SourceSubscriptionRenewal)).Add(float64(result.Amount))
	s.logger.Info("subscription renewal credited",
		zap.String("event_id", event.EventID),
		zap.String("user_id", user.ID.String()),
		zap.Int64("amount", result.Amount),
	)
	return result, nil
}
