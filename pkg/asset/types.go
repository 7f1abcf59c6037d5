package asset

import (
	"context"
	"fmt"
	"strings"
)

// OwnerID identifies an account owner.
type OwnerID struct {
	value string
}

// TokenKind names a fungible in-game token.
type TokenKind string

const (
	// TokenJack is the chip token staked at the tables.
	TokenJack TokenKind = "jack"
)

// TransferKind classifies a transfer-log entry.
type TransferKind string

const (
	TransferCheckin TransferKind = "checkin"
	TransferTask    TransferKind = "task"
	TransferWin     TransferKind = "win"
	TransferBet     TransferKind = "bet"
)

// NewOwnerID validates and normalizes an owner id.
func NewOwnerID(raw string) (OwnerID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return OwnerID{}, fmt.Errorf("%w: empty value", ErrInvalidOwnerID)
	}
	return OwnerID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id OwnerID) String() string {
	return id.value
}

// ParseTokenKind validates a token kind.
func ParseTokenKind(raw string) (TokenKind, error) {
	switch TokenKind(raw) {
	case TokenJack:
		return TokenKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTokenKind, raw)
}

// String returns the token kind value.
func (kind TokenKind) String() string {
	return string(kind)
}

// ParseTransferKind validates a transfer kind.
func ParseTransferKind(raw string) (TransferKind, error) {
	switch TransferKind(raw) {
	case TransferCheckin, TransferTask, TransferWin, TransferBet:
		return TransferKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransferKind, raw)
}

// String returns the transfer kind value.
func (kind TransferKind) String() string {
	return string(kind)
}

// Amount is a strictly positive token amount moved by a transfer.
type Amount int64

// NewAmount validates an amount and ensures it is strictly positive.
func NewAmount(raw int64) (Amount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Amount(raw), nil
}

// Int64 returns the raw amount.
func (amount Amount) Int64() int64 {
	return int64(amount)
}

// Account is a versioned per-owner balance for one token kind.
// Version increments by exactly one on every successful mutation.
type Account struct {
	Owner   OwnerID
	Token   TokenKind
	Amount  int64
	Version int64
}

// TransferRecord is one immutable line in the transfer log. Only IsHandled
// is ever flipped after creation, by the mirror syncer.
type TransferRecord struct {
	TransferID       string
	FromOwnerID      string
	ToOwnerID        string
	Token            TokenKind
	Amount           int64
	FromBeforeAmount int64
	FromAfterAmount  int64
	ToBeforeAmount   int64
	ToAfterAmount    int64
	Kind             TransferKind
	Remark           string
	CreatedUnixUTC   int64
	IsHandled        bool
}

// TransferInput carries a validated transfer request.
type TransferInput struct {
	from                OwnerID
	to                  OwnerID
	token               TokenKind
	amount              Amount
	expectedFromVersion int64
	expectedToVersion   int64
	kind                TransferKind
	remark              string
}

// NewTransferInput validates a transfer request.
func NewTransferInput(from OwnerID, to OwnerID, token TokenKind, amount Amount, expectedFromVersion int64, expectedToVersion int64, kind TransferKind, remark string) (TransferInput, error) {
	if from.value == "" || to.value == "" {
		return TransferInput{}, fmt.Errorf("%w: transfer requires both owners", ErrInvalidOwnerID)
	}
	if from == to {
		return TransferInput{}, fmt.Errorf("%w: transfer to self", ErrInvalidOwnerID)
	}
	if amount <= 0 {
		return TransferInput{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if expectedFromVersion < 0 || expectedToVersion < 0 {
		return TransferInput{}, fmt.Errorf("%w: negative expected version", ErrInvalidVersion)
	}
	if _, err := ParseTransferKind(kind.String()); err != nil {
		return TransferInput{}, err
	}
	return TransferInput{
		from:                from,
		to:                  to,
		token:               token,
		amount:              amount,
		expectedFromVersion: expectedFromVersion,
		expectedToVersion:   expectedToVersion,
		kind:                kind,
		remark:              strings.TrimSpace(remark),
	}, nil
}

// From returns the source owner.
func (input TransferInput) From() OwnerID { return input.from }

// To returns the destination owner.
func (input TransferInput) To() OwnerID { return input.to }

// Token returns the token kind being moved.
func (input TransferInput) Token() TokenKind { return input.token }

// Amount returns the transfer amount.
func (input TransferInput) Amount() Amount { return input.amount }

// ExpectedFromVersion returns the caller-observed source version.
func (input TransferInput) ExpectedFromVersion() int64 { return input.expectedFromVersion }

// ExpectedToVersion returns the caller-observed destination version.
func (input TransferInput) ExpectedToVersion() int64 { return input.expectedToVersion }

// Kind returns the transfer kind.
func (input TransferInput) Kind() TransferKind { return input.kind }

// Remark returns the free-form remark.
func (input TransferInput) Remark() string { return input.remark }

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetAccount(ctx context.Context, owner OwnerID, token TokenKind) (Account, error)
	CreateAccount(ctx context.Context, account Account) error
	// UpdateAccountAmount sets the balance and bumps the version by one,
	// guarded on the expected version. Zero matched rows reports
	// ErrVersionConflict.
	UpdateAccountAmount(ctx context.Context, owner OwnerID, token TokenKind, newAmount int64, expectedVersion int64) error
	InsertTransfer(ctx context.Context, record TransferRecord) error
	DeleteHandledTransfers(ctx context.Context) (int64, error)
	ListUnhandledTransfers(ctx context.Context, limit int) ([]TransferRecord, error)
	MarkTransferHandled(ctx context.Context, transferID string) error
}
