// Package costs resolves metered action types to their credit cost. The cost
// table is owned by admin tooling; this service only reads it, with a short
// redis cache in front since costs change rarely and are read on every
// metered request.
package costs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"resona/internal/ledger"
	"resona/internal/models"
)

const defaultTTL = 5 * time.Minute

// Service implements ledger.CostResolver.
type Service struct {
	store  ledger.Store
	cache  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New builds the cost service. cache may be nil, which disables caching.
func New(store ledger.Store, cache *redis.Client, ttl time.Duration, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{store: store, cache: cache, ttl: ttl, logger: logger}
}

func cacheKey(actionType string) string {
	return fmt.Sprintf("costs:action:%s", actionType)
}

// CostFor returns the active cost entry for an action type.
func (s *Service) CostFor(ctx context.Context, actionType string) (*models.ActionCost, error) {
	if cached := s.fromCache(ctx, actionType); cached != nil {
		return cached, nil
	}

	var cost *models.ActionCost
	err := s.store.View(ctx, func(tx ledger.Tx) error {
		entries, err := tx.ActionCosts(ctx)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.ActionType == actionType && entry.IsActive {
				cost = &entry
				return nil
			}
		}
		return ledger.ErrActionNotFound
	})
	if err != nil {
		return nil, err
	}

	s.toCache(ctx, cost)
	return cost, nil
}

func (s *Service) fromCache(ctx context.Context, actionType string) *models.ActionCost {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, cacheKey(actionType)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("cost cache read failed", zap.String("action_type", actionType), zap.Error(err))
		}
		return nil
	}
	var cost models.ActionCost
	if err := json.Unmarshal([]byte(raw), &cost); err != nil {
		return nil
	}
	return &cost
}

func (s *Service) toCache(ctx context.Context, cost *models.ActionCost) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(cost)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(cost.ActionType), data, s.ttl).Err(); err != nil {
		s.logger.Warn("cost cache write failed", zap.String("action_type", cost.ActionType), zap.Error(err))
	}
}
