package asset

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const (
	operationTransfer      = "transfer"
	operationCreateAccount = "create_account"
	operationStatusOK      = "ok"
	operationStatusError   = "error"
)

// Service contains the ledger domain logic over a Store. Transfers are
// all-or-nothing: either both balances move, both versions advance by one,
// and one log record is written, or nothing is mutated.
type Service struct {
	store  Store
	nowFn  func() int64
	idFn   func() string
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, idFn: uuid.NewString}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Account returns the current snapshot for an owner's token balance.
// Callers that intend to transfer must pass the snapshot versions back in
// and be prepared to re-read on ErrVersionConflict.
func (service *Service) Account(ctx context.Context, owner OwnerID, token TokenKind) (Account, error) {
	return service.store.GetAccount(ctx, owner, token)
}

// CreateAccount seeds a new account at version zero.
func (service *Service) CreateAccount(ctx context.Context, owner OwnerID, token TokenKind, initialAmount int64) error {
	account := Account{Owner: owner, Token: token, Amount: initialAmount, Version: 0}
	operationError := service.store.CreateAccount(ctx, account)
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateAccount,
		To:        owner,
		Token:     token,
		Amount:    initialAmount,
		Error:     operationError,
	})
	return operationError
}

// Transfer moves input.Amount from the source to the destination account
// under optimistic concurrency control. If either account's live version
// differs from the caller-supplied expected version the whole operation
// fails with ErrVersionConflict and no mutation occurs. The ledger layer
// does not floor-check the source balance; eligibility lives with callers.
func (service *Service) Transfer(ctx context.Context, input TransferInput) (TransferRecord, error) {
	var record TransferRecord
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		fromAccount, err := transactionStore.GetAccount(ctx, input.From(), input.Token())
		if err != nil {
			return err
		}
		toAccount, err := transactionStore.GetAccount(ctx, input.To(), input.Token())
		if err != nil {
			return err
		}
		if fromAccount.Version != input.ExpectedFromVersion() || toAccount.Version != input.ExpectedToVersion() {
			return ErrVersionConflict
		}
		amount := input.Amount().Int64()
		if err := transactionStore.UpdateAccountAmount(ctx, input.From(), input.Token(), fromAccount.Amount-amount, input.ExpectedFromVersion()); err != nil {
			return err
		}
		if err := transactionStore.UpdateAccountAmount(ctx, input.To(), input.Token(), toAccount.Amount+amount, input.ExpectedToVersion()); err != nil {
			return err
		}
		record = TransferRecord{
			TransferID:       service.idFn(),
			FromOwnerID:      input.From().String(),
			ToOwnerID:        input.To().String(),
			Token:            input.Token(),
			Amount:           amount,
			FromBeforeAmount: fromAccount.Amount,
			FromAfterAmount:  fromAccount.Amount - amount,
			ToBeforeAmount:   toAccount.Amount,
			ToAfterAmount:    toAccount.Amount + amount,
			Kind:             input.Kind(),
			Remark:           input.Remark(),
			CreatedUnixUTC:   service.nowFn(),
			IsHandled:        false,
		}
		return transactionStore.InsertTransfer(ctx, record)
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationTransfer,
		TransferID: record.TransferID,
		From:       input.From(),
		To:         input.To(),
		Token:      input.Token(),
		Amount:     input.Amount().Int64(),
		Kind:       input.Kind(),
		Error:      operationError,
	})
	if operationError != nil {
		return TransferRecord{}, operationError
	}
	return record, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
