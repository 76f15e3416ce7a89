// Package memory provides an in-memory ledger store for tests and local
// development. Update units buffer their writes and apply them only on
// success, and per-user mutexes acquired in sorted id order give the same
// serialization guarantee the Postgres store gets from advisory locks.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"resona/internal/ledger"
	"resona/internal/models"
)

// Store implements ledger.Store in memory.
type Store struct {
	mu sync.RWMutex

	users         map[uuid.UUID]models.User
	usersByEmail  map[string]uuid.UUID
	packages      map[uuid.UUID]models.CreditPackage
	batches       map[uuid.UUID]models.BalanceBatch
	transactions  []models.Transaction
	logs          []models.ConsumptionLog
	subscriptions map[uuid.UUID]models.Subscription
	actionCosts   []models.ActionCost
	events        map[string]bool

	lockMu    sync.Mutex
	userLocks map[uuid.UUID]*sync.Mutex
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:         make(map[uuid.UUID]models.User),
		usersByEmail:  make(map[string]uuid.UUID),
		packages:      make(map[uuid.UUID]models.CreditPackage),
		batches:       make(map[uuid.UUID]models.BalanceBatch),
		subscriptions: make(map[uuid.UUID]models.Subscription),
		events:        make(map[string]bool),
		userLocks:     make(map[uuid.UUID]*sync.Mutex),
	}
}

// SeedUser registers a directory user.
func (s *Store) SeedUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	s.usersByEmail[user.Email] = user.ID
}

// SeedPackage registers a catalog package.
func (s *Store) SeedPackage(pkg models.CreditPackage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packages[pkg.ID] = pkg
}

// SeedSubscription registers a subscription.
func (s *Store) SeedSubscription(sub models.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.ID] = sub
}

// SeedActionCost registers a cost table row.
func (s *Store) SeedActionCost(cost models.ActionCost) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actionCosts = append(s.actionCosts, cost)
}

// Batches returns copies of every batch, for assertions.
func (s *Store) Batches() []models.BalanceBatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.BalanceBatch, 0, len(s.batches))
	for _, b := range s.batches {
		out = append(out, b)
	}
	return out
}

// Transactions returns copies of every transaction, for assertions.
func (s *Store) Transactions() []models.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Transaction, len(s.transactions))
	copy(out, s.transactions)
	return out
}

// ConsumptionLogs returns copies of every log entry, for assertions.
func (s *Store) ConsumptionLogs() []models.ConsumptionLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ConsumptionLog, len(s.logs))
	copy(out, s.logs)
	return out
}

// View runs fn against the current state. Writes made through a View unit
// are discarded.
func (s *Store) View(ctx context.Context, fn func(ledger.Tx) error) error {
	return fn(&unit{
		store:          s,
		updatedBatches: make(map[uuid.UUID]models.BalanceBatch),
		markedEvents:   make(map[string]bool),
	})
}

// Update locks the given users in sorted order, runs fn with buffered writes
// and applies the buffer only when fn succeeds.
func (s *Store) Update(ctx context.Context, userIDs []uuid.UUID, fn func(ledger.Tx) error) error {
	for _, mu := range s.acquire(userIDs) {
		defer mu.Unlock()
	}

	u := &unit{
		store:          s,
		updatedBatches: make(map[uuid.UUID]models.BalanceBatch),
		markedEvents:   make(map[string]bool),
	}
	if err := fn(u); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, b := range u.updatedBatches {
		s.batches[id] = b
	}
	for _, b := range u.insertedBatches {
		s.batches[b.ID] = b
	}
	s.transactions = append(s.transactions, u.insertedTxns...)
	s.logs = append(s.logs, u.insertedLogs...)
	for id := range u.markedEvents {
		s.events[id] = true
	}
	return nil
}

func (s *Store) acquire(userIDs []uuid.UUID) []*sync.Mutex {
	ids := append([]uuid.UUID(nil), userIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	locks := make([]*sync.Mutex, 0, len(ids))
	var prev uuid.UUID
	for i, id := range ids {
		if i > 0 && id == prev {
			continue
		}
		prev = id

		s.lockMu.Lock()
		mu, ok := s.userLocks[id]
		if !ok {
			mu = &sync.Mutex{}
			s.userLocks[id] = mu
		}
		s.lockMu.Unlock()

		mu.Lock()
		locks = append(locks, mu)
	}
	return locks
}

// unit implements ledger.Tx. Writes accumulate in the buffers; reads overlay
// them on the committed state so a unit sees its own batch updates.
type unit struct {
	store *Store

	updatedBatches  map[uuid.UUID]models.BalanceBatch
	insertedBatches []models.BalanceBatch
	insertedTxns    []models.Transaction
	insertedLogs    []models.ConsumptionLog
	markedEvents    map[string]bool
}

func (u *unit) UserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	user, ok := u.store.users[id]
	if !ok {
		return nil, ledger.ErrUserNotFound
	}
	return &user, nil
}

func (u *unit) UserByEmail(_ context.Context, email string) (*models.User, error) {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	id, ok := u.store.usersByEmail[email]
	if !ok {
		return nil, ledger.ErrUserNotFound
	}
	user := u.store.users[id]
	return &user, nil
}

func (u *unit) PackageByID(_ context.Context, id uuid.UUID) (*models.CreditPackage, error) {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	pkg, ok := u.store.packages[id]
	if !ok {
		return nil, ledger.ErrPackageNotFound
	}
	return &pkg, nil
}

func (u *unit) PackageByPlatformProduct(_ context.Context, platform models.SubscriptionPlatform, productID string) (*models.CreditPackage, error) {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	for _, pkg := range u.store.packages {
		if pkg.Platform == platform && pkg.ProductID == productID {
			return &pkg, nil
		}
	}
	return nil, ledger.ErrPackageNotFound
}

func (u *unit) ActiveBatches(_ context.Context, userID uuid.UUID, now time.Time) ([]models.BalanceBatch, error) {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	return u.activeBatchesLocked(userID, now), nil
}

func (u *unit) ActiveBatchRecords(_ context.Context, userID uuid.UUID, now time.Time) ([]ledger.BatchRecord, error) {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()

	batches := u.activeBatchesLocked(userID, now)
	records := make([]ledger.BatchRecord, 0, len(batches))
	for _, b := range batches {
		rec := ledger.BatchRecord{Batch: b}
		if b.PackageID != nil {
			if pkg, ok := u.store.packages[*b.PackageID]; ok {
				rec.Package = &pkg
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// activeBatchesLocked applies the unit's pending batch updates over the
// committed state and orders by expiry ascending, nulls last.
func (u *unit) activeBatchesLocked(userID uuid.UUID, now time.Time) []models.BalanceBatch {
	var batches []models.BalanceBatch
	for id, b := range u.store.batches {
		if updated, ok := u.updatedBatches[id]; ok {
			b = updated
		}
		if b.UserID == userID && b.Available(now) {
			batches = append(batches, b)
		}
	}
	for _, b := range u.insertedBatches {
		if b.UserID == userID && b.Available(now) {
			batches = append(batches, b)
		}
	}

	sort.Slice(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt == nil:
			return a.CreatedAt.Before(b.CreatedAt)
		case a.ExpiresAt == nil:
			return false
		case b.ExpiresAt == nil:
			return true
		case a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.CreatedAt.Before(b.CreatedAt)
		default:
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
	})
	return batches
}

func (u *unit) InsertBatch(_ context.Context, batch *models.BalanceBatch) error {
	u.insertedBatches = append(u.insertedBatches, *batch)
	return nil
}

func (u *unit) UpdateBatch(_ context.Context, batch *models.BalanceBatch) error {
	u.updatedBatches[batch.ID] = *batch
	return nil
}

func (u *unit) InsertTransaction(_ context.Context, txn *models.Transaction) error {
	u.insertedTxns = append(u.insertedTxns, *txn)
	return nil
}

func (u *unit) InsertConsumptionLogs(_ context.Context, logs []models.ConsumptionLog) error {
	u.insertedLogs = append(u.insertedLogs, logs...)
	return nil
}

func (u *unit) SubscriptionByPlatformID(_ context.Context, platformSubscriptionID string) (*models.Subscription, error) {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	for _, sub := range u.store.subscriptions {
		if sub.PlatformSubscriptionID == platformSubscriptionID {
			return &sub, nil
		}
	}
	return nil, ledger.ErrSubscriptionNotFound
}

func (u *unit) ActiveSubscription(_ context.Context, userID uuid.UUID, now time.Time) (*models.Subscription, error) {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	for _, sub := range u.store.subscriptions {
		if sub.UserID == userID && sub.Status == "active" && sub.CurrentPeriodEnd.After(now) {
			return &sub, nil
		}
	}
	return nil, nil
}

func (u *unit) TransactionPage(_ context.Context, userID uuid.UUID, filter ledger.HistoryFilter, limit, offset int) ([]ledger.TransactionRecord, int, error) {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()

	var matched []models.Transaction
	for _, txn := range u.store.transactions {
		if txn.UserID == userID && filter.Matches(txn) {
			matched = append(matched, txn)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	records := make([]ledger.TransactionRecord, 0, end-offset)
	for _, txn := range matched[offset:end] {
		rec := ledger.TransactionRecord{Transaction: txn}
		if txn.PackageID != nil {
			if pkg, ok := u.store.packages[*txn.PackageID]; ok {
				rec.Package = &pkg
			}
		}
		records = append(records, rec)
	}
	return records, total, nil
}

func (u *unit) TransactionsSince(_ context.Context, userID uuid.UUID, since time.Time) ([]models.Transaction, error) {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()

	var matched []models.Transaction
	for _, txn := range u.store.transactions {
		if txn.UserID == userID && !txn.CreatedAt.Before(since) {
			matched = append(matched, txn)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched, nil
}

func (u *unit) ActionCosts(_ context.Context) ([]models.ActionCost, error) {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	out := make([]models.ActionCost, len(u.store.actionCosts))
	copy(out, u.store.actionCosts)
	return out, nil
}

func (u *unit) MarkEventProcessed(_ context.Context, eventID string) (bool, error) {
	u.store.mu.RLock()
	seen := u.store.events[eventID]
	u.store.mu.RUnlock()
	if seen || u.markedEvents[eventID] {
		return false, nil
	}
	u.markedEvents[eventID] = true
	return true, nil
}
