package ledger

import "errors"

var (
	// ErrUserNotFound is returned when the user directory has no such user.
	ErrUserNotFound = errors.New("ledger: user not found")
	// ErrPackageNotFound is returned when the package catalog has no such package.
	ErrPackageNotFound = errors.New("ledger: credit package not found")
	// ErrSubscriptionNotFound is returned when no matching subscription exists.
	ErrSubscriptionNotFound = errors.New("ledger: subscription not found")
	// ErrActionNotFound is returned when the cost table has no entry for an action.
	ErrActionNotFound = errors.New("ledger: action cost not found")
	// ErrInvalidAmount rejects non-positive amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
	// ErrInvalidSource rejects unknown transaction sources.
	ErrInvalidSource = errors.New("ledger: unknown transaction source")
	// ErrInsufficientCredits rejects debits exceeding the available balance.
	ErrInsufficientCredits = errors.New("ledger: insufficient credits")
	// ErrSelfTransfer rejects transfers where sender and receiver match.
	ErrSelfTransfer = errors.New("ledger: cannot transfer credits to yourself")
	// ErrEventAlreadyProcessed marks a re-delivered billing event.
	ErrEventAlreadyProcessed = errors.New("ledger: billing event already processed")
)
