package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType is the accounting side of a ledger transaction.
type TransactionType string

const (
	TransactionCredit TransactionType = "credit"
	TransactionDebit  TransactionType = "debit"
)

// TransactionTypes lists every valid type, in reporting order.
func TransactionTypes() []TransactionType {
	return []TransactionType{TransactionCredit, TransactionDebit}
}

// Valid reports whether t is a known type.
func (t TransactionType) Valid() bool {
	return t == TransactionCredit || t == TransactionDebit
}

// TransactionSource is the business reason for a ledger transaction.
type TransactionSource string

const (
	SourceSignupBonus         TransactionSource = "signup_bonus"
	SourcePurchase            TransactionSource = "purchase"
	SourceSubscriptionRenewal TransactionSource = "subscription_renewal"
	SourceAPIUsage            TransactionSource = "api_usage"
	SourcePeerTransfer        TransactionSource = "peer_transfer"
	SourceAdminGrant          TransactionSource = "admin_grant"
	SourceSystem              TransactionSource = "system"
)

// TransactionSources lists every valid source, in reporting order.
func TransactionSources() []TransactionSource {
	return []TransactionSource{
		SourceSignupBonus,
		SourcePurchase,
		SourceSubscriptionRenewal,
		SourceAPIUsage,
		SourcePeerTransfer,
		SourceAdminGrant,
		SourceSystem,
	}
}

// Valid reports whether s is a known source.
func (s TransactionSource) Valid() bool {
	switch s {
	case SourceSignupBonus, SourcePurchase, SourceSubscriptionRenewal,
		SourceAPIUsage, SourcePeerTransfer, SourceAdminGrant, SourceSystem:
		return true
	}
	return false
}

// SubscriptionPlatform identifies the billing provider a subscription lives on.
type SubscriptionPlatform string

const (
	PlatformStripe SubscriptionPlatform = "stripe"
	PlatformApple  SubscriptionPlatform = "apple"
	PlatformGoogle SubscriptionPlatform = "google"
)

// CreditPackage is a catalog entry owned by the package catalog service.
// The ledger reads it, never writes it.
type CreditPackage struct {
	ID             uuid.UUID            `db:"id" json:"id"`
	Name           string               `db:"name" json:"name"`
	Credits        int64                `db:"credits" json:"credits"`
	Price          decimal.Decimal      `db:"price" json:"price"`
	IsSubscription bool                 `db:"is_subscription" json:"is_subscription"`
	ExpirationDays *int                 `db:"expiration_days" json:"expiration_days,omitempty"`
	Platform       SubscriptionPlatform `db:"platform" json:"platform,omitempty"`
	ProductID      string               `db:"product_id" json:"product_id,omitempty"`
	PriceID        string               `db:"price_id" json:"price_id,omitempty"`
	CreatedAt      time.Time            `db:"created_at" json:"created_at"`
}

// BalanceBatch is one grant of credits with its own remaining amount and
// expiration. Created only by issuance, drawn down only by consumption,
// soft-retired via IsActive, never deleted.
type BalanceBatch struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	UserID          uuid.UUID  `db:"user_id" json:"user_id"`
	PackageID       *uuid.UUID `db:"package_id" json:"package_id,omitempty"`
	TransactionID   uuid.UUID  `db:"transaction_id" json:"transaction_id"`
	InitialAmount   int64      `db:"initial_amount" json:"initial_amount"`
	RemainingAmount int64      `db:"remaining_amount" json:"remaining_amount"`
	ExpiresAt       *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	ConsumedAt      *time.Time `db:"consumed_at" json:"consumed_at,omitempty"`
	IsActive        bool       `db:"is_active" json:"is_active"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// Available reports whether the batch can still be drawn from at the given time.
func (b BalanceBatch) Available(now time.Time) bool {
	if !b.IsActive || b.RemainingAmount <= 0 {
		return false
	}
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}

// Transaction is one immutable credit or debit event. Corrections are new
// transactions, never edits.
type Transaction struct {
	ID                    uuid.UUID         `db:"id" json:"id"`
	UserID                uuid.UUID         `db:"user_id" json:"user_id"`
	Type                  TransactionType   `db:"transaction_type" json:"transaction_type"`
	Source                TransactionSource `db:"transaction_source" json:"transaction_source"`
	Amount                int64             `db:"amount" json:"amount"`
	BalanceAfter          int64             `db:"balance_after" json:"balance_after"`
	Description           string            `db:"description" json:"description"`
	APIEndpoint           string            `db:"api_endpoint" json:"api_endpoint,omitempty"`
	PlatformTransactionID string            `db:"platform_transaction_id" json:"platform_transaction_id,omitempty"`
	RelatedTransactionID  *uuid.UUID        `db:"related_transaction_id" json:"related_transaction_id,omitempty"`
	SubscriptionID        *uuid.UUID        `db:"subscription_id" json:"subscription_id,omitempty"`
	PackageID             *uuid.UUID        `db:"package_id" json:"package_id,omitempty"`
	Metadata              map[string]any    `db:"metadata" json:"metadata,omitempty"`
	CreatedAt             time.Time         `db:"created_at" json:"created_at"`
}

// ConsumptionLog attributes a slice of one debit transaction to the batch it
// drew from. All logs for one debit sum to that debit's amount.
type ConsumptionLog struct {
	ID            uuid.UUID      `db:"id" json:"id"`
	UserID        uuid.UUID      `db:"user_id" json:"user_id"`
	BalanceID     uuid.UUID      `db:"balance_id" json:"balance_id"`
	TransactionID uuid.UUID      `db:"transaction_id" json:"transaction_id"`
	Amount        int64          `db:"amount" json:"amount"`
	APIEndpoint   string         `db:"api_endpoint" json:"api_endpoint,omitempty"`
	Metadata      map[string]any `db:"metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// Subscription links a platform subscription to a package and billing period.
type Subscription struct {
	ID                     uuid.UUID            `db:"id" json:"id"`
	UserID                 uuid.UUID            `db:"user_id" json:"user_id"`
	PackageID              uuid.UUID            `db:"package_id" json:"package_id"`
	Platform               SubscriptionPlatform `db:"platform" json:"platform"`
	PlatformSubscriptionID string               `db:"platform_subscription_id" json:"platform_subscription_id"`
	Status                 string               `db:"status" json:"status"`
	CurrentPeriodStart     time.Time            `db:"current_period_start" json:"current_period_start"`
	CurrentPeriodEnd       time.Time            `db:"current_period_end" json:"current_period_end"`
	CancelAtPeriodEnd      bool                 `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	CreditsPerPeriod       int64                `db:"credits_per_period" json:"credits_per_period"`
	CreatedAt              time.Time            `db:"created_at" json:"created_at"`
}

// ActionCost maps an action type to its metered cost and endpoint label.
// Owned by the cost catalog; the ledger only records what it is given.
type ActionCost struct {
	ActionType string `db:"action_type" json:"action_type"`
	Cost       int64  `db:"cost" json:"cost"`
	Endpoint   string `db:"endpoint" json:"endpoint"`
	IsActive   bool   `db:"is_active" json:"is_active"`
}

// User is the slice of the user directory this service reads.
type User struct {
	ID    uuid.UUID `db:"id" json:"id"`
	Email string    `db:"email" json:"email"`
	Name  string    `db:"name" json:"name"`
}
