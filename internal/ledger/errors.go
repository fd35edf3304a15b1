package ledger

import "errors"

var (
	// ErrInvalidBeneficiarySet is returned when a hat has no recipients, a
	// recipient/weight length mismatch, a zero weight, a nil recipient or
	// more than MaxHatRecipients entries.
	ErrInvalidBeneficiarySet = errors.New("ledger: invalid beneficiary set")

	// ErrUnknownHat is returned for a hat id that was never issued.
	ErrUnknownHat = errors.New("ledger: unknown hat")

	// ErrSelfReferencingHat is returned when an account selects a hat that
	// lists the account itself as a recipient.
	ErrSelfReferencingHat = errors.New("ledger: hat lists its own owner")

	ErrInsufficientBalance   = errors.New("ledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")
	ErrSameAccountTransfer   = errors.New("ledger: source and destination are the same account")
	ErrInvalidAmount         = errors.New("ledger: amount must be positive")

	// ErrReentrantCall is returned when a mutating operation is invoked while
	// another one is still in flight on the same ledger.
	ErrReentrantCall = errors.New("ledger: reentrant call")

	// ErrNoTransaction is returned by Commit/Rollback without a matching Begin.
	ErrNoTransaction = errors.New("ledger: no open transaction")
)
