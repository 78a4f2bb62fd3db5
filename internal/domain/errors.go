package domain

import "errors"

// Error taxonomy shared by every component. Callers match with errors.Is;
// components wrap these with fmt.Errorf("%w: ...") to add detail.
var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidInput           = errors.New("invalid input")
	ErrNotFound               = errors.New("not found")
	ErrAlreadyRegistered      = errors.New("artist already has a collections registry")
	ErrAlreadyExists          = errors.New("already exists")
	ErrPaymentMismatch        = errors.New("incorrect payment amount")
	ErrBatchTooLarge          = errors.New("batch size exceeds maximum")
	ErrTreasuryPaymentFailed  = errors.New("treasury payment failed")
	ErrArtistPaymentFailed    = errors.New("artist payment failed")
	ErrInvalidAddress         = errors.New("invalid address")
	ErrInvalidAmount          = errors.New("amount must be greater than zero")
	ErrExceedsMaxWithdrawal   = errors.New("exceeds maximum withdrawal amount")
	ErrExceedsWeeklyLimit     = errors.New("exceeds weekly withdrawal limit")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrProposalAlreadyPending = errors.New("previous withdrawal still pending")
	ErrNoPendingProposal      = errors.New("no pending withdrawal")
	ErrAlreadyApproved        = errors.New("approval slot already filled by caller")
)
