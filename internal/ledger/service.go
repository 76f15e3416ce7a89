package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"resona/internal/metrics"
	"resona/internal/models"
)

// CostResolver supplies the metered cost and endpoint label for an action
// type. The ledger records what it is given; cost policy lives elsewhere.
type CostResolver interface {
	CostFor(ctx context.Context, actionType string) (*models.ActionCost, error)
}

// Service implements the credit ledger operations: balance aggregation,
// issuance, FIFO consumption, peer transfer, renewal and reporting.
type Service struct {
	store           Store
	costs           CostResolver
	logger          *zap.Logger
	metrics         *metrics.Metrics
	systemPackageID uuid.UUID

	now func() time.Time
}

// NewService builds the ledger service. systemPackageID names the pseudo
// package that sourceless grants (signup bonus, admin grants) are booked
// against.
func NewService(store Store, costs CostResolver, systemPackageID uuid.UUID, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		store:           store,
		costs:           costs,
		logger:          logger,
		metrics:         m,
		systemPackageID: systemPackageID,
		now:             time.Now,
	}
}

// WithClock replaces the service clock. Tests pin it to a fixed instant.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// resolveUser looks up a user by email outside any mutation scope. The
// returned id keys the per-user lock that mutating operations acquire.
func (s *Service) resolveUser(ctx context.Context, email string) (*models.User, error) {
	var user *models.User
	err := s.store.View(ctx, func(tx Tx) error {
		found, err := tx.UserByEmail(ctx, email)
		if err != nil {
			return err
		}
		user = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}
