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

// IssueParams describes one credit grant.
type IssueParams struct {
	// PackageID names the purchased package. When nil the grant is booked
	// against the configured system package and Amount is required.
	PackageID             *uuid.UUID
	Source                models.TransactionSource
	Amount                int64
	PlatformTransactionID string
	SubscriptionID        *uuid.UUID
	Description           string
	Metadata              map[string]any

	// EventID, when set, dedupes the grant against re-delivered billing
	// events: a second grant with the same id fails with
	// ErrEventAlreadyProcessed before writing anything.
	EventID string
}

// IssueResult reports a committed grant.
type IssueResult struct {
	TransactionID uuid.UUID  `json:"transaction_id"`
	Amount        int64      `json:"amount"`
	NewBalance    int64      `json:"new_balance"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// Issue grants credits to a user, creating one CREDIT transaction and one
// balance batch as a single atomic unit.
func (s *Service) Issue(ctx context.Context, email string, params IssueParams) (*IssueResult, error) {
	if !params.Source.Valid() {
		return nil, ErrInvalidSource
	}
	if params.PackageID == nil && params.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	user, err := s.resolveUser(ctx, email)
	if err != nil {
		return nil, err
	}

	var result *IssueResult
	err = s.store.Update(ctx, []uuid.UUID{user.ID}, func(tx Tx) error {
		if params.EventID != "" {
			fresh, err := tx.MarkEventProcessed(ctx, params.EventID)
			if err != nil {
				return fmt.Errorf("ledger: record billing event: %w", err)
			}
			if !fresh {
				return ErrEventAlreadyProcessed
			}
		}
		result, err = s.issueInTx(ctx, tx, user, params)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrEventAlreadyProcessed) {
			s.metrics.WebhookDuplicates.Inc()
		}
		return nil, err
	}

	s.metrics.CreditsIssued.WithLabelValues(string(params.Source)).Add(float64(result.Amount))
	s.logger.Info("credits issued",
		zap.String("user_id", user.ID.String()),
		zap.String("source", string(params.Source)),
		zap.Int64("amount", result.Amount),
		zap.Int64("new_balance", result.NewBalance),
	)
	return result, nil
}

// issueInTx runs the grant inside an already-locked unit so the renewal
// adapter can pair it with its idempotency write.
func (s *Service) issueInTx(ctx context.Context, tx Tx, user *models.User, params IssueParams) (*IssueResult, error) {
	now := s.now()

	packageID := s.systemPackageID
	if params.PackageID != nil {
		packageID = *params.PackageID
	}
	pkg, err := tx.PackageByID(ctx, packageID)
	if err != nil {
		return nil, err
	}

	amount := params.Amount
	var expiresAt *time.Time
	if params.PackageID != nil {
		amount = pkg.Credits
		if pkg.ExpirationDays != nil {
			t := now.Add(time.Duration(*pkg.ExpirationDays) * 24 * time.Hour)
			expiresAt = &t
		}
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	// Balance must be re-read inside the locked unit; a value carried in
	// from before the lock could be stale.
	batches, err := tx.ActiveBatches(ctx, user.ID, now)
	if err != nil {
		return nil, err
	}
	newBalance := sumRemaining(batches) + amount

	description := params.Description
	if description == "" {
		description = fmt.Sprintf("Credits added via %s", params.Source)
	}

	txn := &models.Transaction{
		ID:                    uuid.New(),
		UserID:                user.ID,
		Type:                  models.TransactionCredit,
		Source:                params.Source,
		Amount:                amount,
		BalanceAfter:          newBalance,
		Description:           description,
		PlatformTransactionID: params.PlatformTransactionID,
		SubscriptionID:        params.SubscriptionID,
		PackageID:             &pkg.ID,
		Metadata:              params.Metadata,
		CreatedAt:             now,
	}
	if err := tx.InsertTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("ledger: insert credit transaction: %w", err)
	}

	batch := &models.BalanceBatch{
		ID:              uuid.New(),
		UserID:          user.ID,
		PackageID:       &pkg.ID,
		TransactionID:   txn.ID,
		InitialAmount:   amount,
		RemainingAmount: amount,
		ExpiresAt:       expiresAt,
		IsActive:        true,
		CreatedAt:       now,
	}
	if err := tx.InsertBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("ledger: insert balance batch: %w", err)
	}

	return &IssueResult{
		TransactionID: txn.ID,
		Amount:        amount,
		NewBalance:    newBalance,
		ExpiresAt:     expiresAt,
	}, nil
}

func sumRemaining(batches []models.BalanceBatch) int64 {
	var total int64
	for _, b := range batches {
		total += b.RemainingAmount
	}
	return total
}
