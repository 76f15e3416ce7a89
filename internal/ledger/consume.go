package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"resona/internal/models"
)

// DeductParams describes one metered debit.
type DeductParams struct {
	Amount      int64
	APIEndpoint string
	Description string
	Metadata    map[string]any
}

// DeductResult reports a committed debit.
type DeductResult struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	NewBalance    int64     `json:"new_balance"`
}

// Deduct consumes credits FIFO by expiration: soonest-expiring batches are
// drawn first, never-expiring batches last. The sufficiency check and every
// mutation commit as one atomic unit; an insufficient balance leaves no trace.
func (s *Service) Deduct(ctx context.Context, email string, params DeductParams) (*DeductResult, error) {
	if params.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	user, err := s.resolveUser(ctx, email)
	if err != nil {
		return nil, err
	}

	var result *DeductResult
	err = s.store.Update(ctx, []uuid.UUID{user.ID}, func(tx Tx) error {
		now := s.now()
		plan, err := s.planDraw(ctx, tx, user.ID, params.Amount, now)
		if err != nil {
			return err
		}

		description := params.Description
		if description == "" {
			description = fmt.Sprintf("API usage: %s", params.APIEndpoint)
		}
		txn := &models.Transaction{
			ID:           uuid.New(),
			UserID:       user.ID,
			Type:         models.TransactionDebit,
			Source:       models.SourceAPIUsage,
			Amount:       params.Amount,
			BalanceAfter: plan.balanceAfter,
			Description:  description,
			APIEndpoint:  params.APIEndpoint,
			Metadata:     params.Metadata,
			CreatedAt:    now,
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return fmt.Errorf("ledger: insert debit transaction: %w", err)
		}
		if err := plan.apply(ctx, tx, txn.ID, params.APIEndpoint, params.Metadata); err != nil {
			return err
		}

		result = &DeductResult{
			TransactionID: txn.ID,
			Amount:        params.Amount,
			NewBalance:    plan.balanceAfter,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.CreditsConsumed.Add(float64(params.Amount))
	s.logger.Info("credits deducted",
		zap.String("user_id", user.ID.String()),
		zap.Int64("amount", params.Amount),
		zap.String("endpoint", params.APIEndpoint),
		zap.Int64("new_balance", result.NewBalance),
	)
	return result, nil
}

// DeductForAction resolves an action type through the cost table and debits
// its cost against the action's endpoint label.
func (s *Service) DeductForAction(ctx context.Context, email, actionType string, metadata map[string]any) (*DeductResult, error) {
	if s.costs == nil {
		return nil, ErrActionNotFound
	}
	cost, err := s.costs.CostFor(ctx, actionType)
	if err != nil {
		return nil, err
	}
	return s.Deduct(ctx, email, DeductParams{
		Amount:      cost.Cost,
		APIEndpoint: cost.Endpoint,
		Description: fmt.Sprintf("Metered action: %s", actionType),
		Metadata:    metadata,
	})
}

// drawPlan is the computed outcome of a FIFO draw: which batches change, to
// what, and the balance left afterwards. Nothing is written until apply.
type drawPlan struct {
	amount       int64
	balanceAfter int64
	batches      []models.BalanceBatch
	drawn        []int64
	now          time.Time
}

// planDraw fetches the user's drawable batches, verifies sufficiency and
// computes the per-batch draws. It mutates nothing.
func (s *Service) planDraw(ctx context.Context, tx Tx, userID uuid.UUID, amount int64, now time.Time) (*drawPlan, error) {
	batches, err := tx.ActiveBatches(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	totalAvailable := sumRemaining(batches)
	if totalAvailable < amount {
		s.metrics.InsufficientFunds.Inc()
		return nil, ErrInsufficientCredits
	}

	plan := &drawPlan{
		amount:       amount,
		balanceAfter: totalAvailable - amount,
		now:          now,
	}
	remaining := amount
	for _, batch := range batches {
		if remaining <= 0 {
			break
		}
		draw := min(remaining, batch.RemainingAmount)
		batch.RemainingAmount -= draw
		remaining -= draw
		if batch.RemainingAmount == 0 {
			consumedAt := now
			batch.ConsumedAt = &consumedAt
			batch.IsActive = false
		}
		plan.batches = append(plan.batches, batch)
		plan.drawn = append(plan.drawn, draw)
	}
	return plan, nil
}

// apply writes the planned batch updates and one consumption log per touched
// batch, attributing each draw to the given debit transaction.
func (p *drawPlan) apply(ctx context.Context, tx Tx, debitTxID uuid.UUID, endpoint string, metadata map[string]any) error {
	logs := make([]models.ConsumptionLog, 0, len(p.batches))
	for i, batch := range p.batches {
		if err := tx.UpdateBatch(ctx, &batch); err != nil {
			return fmt.Errorf("ledger: update balance batch: %w", err)
		}
		logs = append(logs, models.ConsumptionLog{
			ID:            uuid.New(),
			UserID:        batch.UserID,
			BalanceID:     batch.ID,
			TransactionID: debitTxID,
			Amount:        p.drawn[i],
			APIEndpoint:   endpoint,
			Metadata:      metadata,
			CreatedAt:     p.now,
		})
	}
	if err := tx.InsertConsumptionLogs(ctx, logs); err != nil {
		return fmt.Errorf("ledger: insert consumption logs: %w", err)
	}
	return nil
}
