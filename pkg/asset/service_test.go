package asset

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type stubStore struct {
	accounts  map[string]Account
	transfers []TransferRecord
	// getCount lets tests force a conflict on a later read.
	getCount     int
	conflictOnce bool
}

func newStubStore() *stubStore {
	return &stubStore{accounts: map[string]Account{}}
}

func accountKey(owner OwnerID, token TokenKind) string {
	return owner.String() + "/" + token.String()
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	// Snapshot so a failed transaction leaves the store untouched.
	backupAccounts := make(map[string]Account, len(store.accounts))
	for key, account := range store.accounts {
		backupAccounts[key] = account
	}
	backupTransfers := append([]TransferRecord(nil), store.transfers...)
	if err := fn(ctx, store); err != nil {
		store.accounts = backupAccounts
		store.transfers = backupTransfers
		return err
	}
	return nil
}

func (store *stubStore) GetAccount(ctx context.Context, owner OwnerID, token TokenKind) (Account, error) {
	store.getCount++
	account, ok := store.accounts[accountKey(owner, token)]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	if store.conflictOnce {
		store.conflictOnce = false
		stale := account
		stale.Version++
		return stale, nil
	}
	return account, nil
}

func (store *stubStore) CreateAccount(ctx context.Context, account Account) error {
	key := accountKey(account.Owner, account.Token)
	if _, ok := store.accounts[key]; ok {
		return ErrAccountExists
	}
	store.accounts[key] = account
	return nil
}

func (store *stubStore) UpdateAccountAmount(ctx context.Context, owner OwnerID, token TokenKind, newAmount int64, expectedVersion int64) error {
	key := accountKey(owner, token)
	account, ok := store.accounts[key]
	if !ok {
		return ErrAccountNotFound
	}
	if account.Version != expectedVersion {
		return ErrVersionConflict
	}
	account.Amount = newAmount
	account.Version++
	store.accounts[key] = account
	return nil
}

func (store *stubStore) InsertTransfer(ctx context.Context, record TransferRecord) error {
	store.transfers = append(store.transfers, record)
	return nil
}

func (store *stubStore) DeleteHandledTransfers(ctx context.Context) (int64, error) {
	kept := store.transfers[:0]
	var deleted int64
	for _, record := range store.transfers {
		if record.IsHandled {
			deleted++
			continue
		}
		kept = append(kept, record)
	}
	store.transfers = kept
	return deleted, nil
}

func (store *stubStore) ListUnhandledTransfers(ctx context.Context, limit int) ([]TransferRecord, error) {
	var unhandled []TransferRecord
	for _, record := range store.transfers {
		if record.IsHandled {
			continue
		}
		unhandled = append(unhandled, record)
		if len(unhandled) == limit {
			break
		}
	}
	return unhandled, nil
}

func (store *stubStore) MarkTransferHandled(ctx context.Context, transferID string) error {
	for index := range store.transfers {
		if store.transfers[index].TransferID == transferID {
			store.transfers[index].IsHandled = true
			return nil
		}
	}
	return fmt.Errorf("unknown transfer %s", transferID)
}

func mustOwnerID(test *testing.T, raw string) OwnerID {
	test.Helper()
	owner, err := NewOwnerID(raw)
	if err != nil {
		test.Fatalf("owner id %q: %v", raw, err)
	}
	return owner
}

func mustAmount(test *testing.T, raw int64) Amount {
	test.Helper()
	amount, err := NewAmount(raw)
	if err != nil {
		test.Fatalf("amount %d: %v", raw, err)
	}
	return amount
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return 1700000000 }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func seedAccounts(test *testing.T, store *stubStore, balances map[string]int64) {
	test.Helper()
	for raw, balance := range balances {
		owner := mustOwnerID(test, raw)
		if err := store.CreateAccount(context.Background(), Account{Owner: owner, Token: TokenJack, Amount: balance}); err != nil {
			test.Fatalf("seed %s: %v", raw, err)
		}
	}
}

func mustTransferInput(test *testing.T, store *stubStore, from string, to string, amount int64) TransferInput {
	test.Helper()
	fromOwner := mustOwnerID(test, from)
	toOwner := mustOwnerID(test, to)
	fromAccount := store.accounts[accountKey(fromOwner, TokenJack)]
	toAccount := store.accounts[accountKey(toOwner, TokenJack)]
	input, err := NewTransferInput(fromOwner, toOwner, TokenJack, mustAmount(test, amount), fromAccount.Version, toAccount.Version, TransferBet, "bet")
	if err != nil {
		test.Fatalf("transfer input: %v", err)
	}
	return input
}

func TestTransferMovesBalancesAndWritesRecord(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	seedAccounts(test, store, map[string]int64{"player-1": 500, "system:bet": 100000})
	service := mustNewService(test, store)

	record, err := service.Transfer(context.Background(), mustTransferInput(test, store, "player-1", "system:bet", 200))
	if err != nil {
		test.Fatalf("transfer: %v", err)
	}

	if record.FromBeforeAmount != 500 || record.FromAfterAmount != 300 {
		test.Fatalf("unexpected source snapshot: before=%d after=%d", record.FromBeforeAmount, record.FromAfterAmount)
	}
	if record.ToBeforeAmount != 100000 || record.ToAfterAmount != 100200 {
		test.Fatalf("unexpected destination snapshot: before=%d after=%d", record.ToBeforeAmount, record.ToAfterAmount)
	}
	if record.IsHandled {
		test.Fatalf("new record must start unhandled")
	}
	if record.TransferID == "" {
		test.Fatalf("expected generated transfer id")
	}

	from := store.accounts[accountKey(mustOwnerID(test, "player-1"), TokenJack)]
	to := store.accounts[accountKey(mustOwnerID(test, "system:bet"), TokenJack)]
	if from.Amount != 300 || from.Version != 1 {
		test.Fatalf("source not mutated correctly: %+v", from)
	}
	if to.Amount != 100200 || to.Version != 1 {
		test.Fatalf("destination not mutated correctly: %+v", to)
	}
}

func TestTransferConservesTotalAmount(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	seedAccounts(test, store, map[string]int64{"player-2": 750, "system:bet": 0})
	service := mustNewService(test, store)

	record, err := service.Transfer(context.Background(), mustTransferInput(test, store, "player-2", "system:bet", 749))
	if err != nil {
		test.Fatalf("transfer: %v", err)
	}
	if record.FromBeforeAmount+record.ToBeforeAmount != record.FromAfterAmount+record.ToAfterAmount {
		test.Fatalf("conservation violated: %+v", record)
	}
}

func TestTransferVersionConflictLeavesStateUntouched(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	seedAccounts(test, store, map[string]int64{"player-3": 400, "system:bet": 1000})
	service := mustNewService(test, store)

	fromOwner := mustOwnerID(test, "player-3")
	toOwner := mustOwnerID(test, "system:bet")
	input, err := NewTransferInput(fromOwner, toOwner, TokenJack, mustAmount(test, 100), 7, 0, TransferBet, "stale")
	if err != nil {
		test.Fatalf("transfer input: %v", err)
	}

	_, transferErr := service.Transfer(context.Background(), input)
	if !errors.Is(transferErr, ErrVersionConflict) {
		test.Fatalf("expected ErrVersionConflict, got %v", transferErr)
	}
	from := store.accounts[accountKey(fromOwner, TokenJack)]
	to := store.accounts[accountKey(toOwner, TokenJack)]
	if from.Amount != 400 || from.Version != 0 {
		test.Fatalf("source mutated on conflict: %+v", from)
	}
	if to.Amount != 1000 || to.Version != 0 {
		test.Fatalf("destination mutated on conflict: %+v", to)
	}
	if len(store.transfers) != 0 {
		test.Fatalf("no record expected on conflict, got %d", len(store.transfers))
	}
}

func TestTransferUnknownAccount(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	seedAccounts(test, store, map[string]int64{"player-4": 100})
	service := mustNewService(test, store)

	input, err := NewTransferInput(mustOwnerID(test, "player-4"), mustOwnerID(test, "ghost"), TokenJack, mustAmount(test, 10), 0, 0, TransferBet, "")
	if err != nil {
		test.Fatalf("transfer input: %v", err)
	}
	_, transferErr := service.Transfer(context.Background(), input)
	if !errors.Is(transferErr, ErrAccountNotFound) {
		test.Fatalf("expected ErrAccountNotFound, got %v", transferErr)
	}
}

func TestTransferAllowsNegativeSourceBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	seedAccounts(test, store, map[string]int64{"player-5": 50, "system:bet": 0})
	service := mustNewService(test, store)

	record, err := service.Transfer(context.Background(), mustTransferInput(test, store, "player-5", "system:bet", 80))
	if err != nil {
		test.Fatalf("transfer: %v", err)
	}
	if record.FromAfterAmount != -30 {
		test.Fatalf("ledger layer must not floor-check, got after=%d", record.FromAfterAmount)
	}
}

func TestTransferFreshRetriesOnConflict(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	seedAccounts(test, store, map[string]int64{"player-6": 300, "system:bet": 0})
	// First read hands back a stale version, forcing exactly one conflict.
	store.conflictOnce = true
	service := mustNewService(test, store)

	record, err := service.TransferFresh(context.Background(), mustOwnerID(test, "player-6"), mustOwnerID(test, "system:bet"), TokenJack, mustAmount(test, 100), TransferBet, "bet", 3)
	if err != nil {
		test.Fatalf("transfer fresh: %v", err)
	}
	if record.FromAfterAmount != 200 {
		test.Fatalf("expected retried transfer to land, got %+v", record)
	}
}

func TestTransferFreshGivesUpAfterMaxAttempts(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	seedAccounts(test, store, map[string]int64{"player-7": 300, "system:bet": 0})
	mustNewService(test, store)

	// Every read returns a stale version.
	original := store.accounts[accountKey(mustOwnerID(test, "player-7"), TokenJack)]
	original.Version = 5
	store.accounts[accountKey(mustOwnerID(test, "player-7"), TokenJack)] = original
	store.conflictOnce = false
	conflictStore := &alwaysConflictStore{inner: store}
	conflictService := mustNewService(test, conflictStore)

	_, err := conflictService.TransferFresh(context.Background(), mustOwnerID(test, "player-7"), mustOwnerID(test, "system:bet"), TokenJack, mustAmount(test, 10), TransferBet, "", 2)
	if !errors.Is(err, ErrVersionConflict) {
		test.Fatalf("expected ErrVersionConflict after retries, got %v", err)
	}
	if conflictStore.transferAttempts != 2 {
		test.Fatalf("expected 2 attempts, got %d", conflictStore.transferAttempts)
	}
}

// alwaysConflictStore wraps a store so every UpdateAccountAmount conflicts.
type alwaysConflictStore struct {
	inner            *stubStore
	transferAttempts int
}

func (store *alwaysConflictStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.transferAttempts++
	return fn(ctx, store)
}

func (store *alwaysConflictStore) GetAccount(ctx context.Context, owner OwnerID, token TokenKind) (Account, error) {
	return store.inner.GetAccount(ctx, owner, token)
}

func (store *alwaysConflictStore) CreateAccount(ctx context.Context, account Account) error {
	return store.inner.CreateAccount(ctx, account)
}

func (store *alwaysConflictStore) UpdateAccountAmount(ctx context.Context, owner OwnerID, token TokenKind, newAmount int64, expectedVersion int64) error {
	return ErrVersionConflict
}

func (store *alwaysConflictStore) InsertTransfer(ctx context.Context, record TransferRecord) error {
	return store.inner.InsertTransfer(ctx, record)
}

func (store *alwaysConflictStore) DeleteHandledTransfers(ctx context.Context) (int64, error) {
	return store.inner.DeleteHandledTransfers(ctx)
}

func (store *alwaysConflictStore) ListUnhandledTransfers(ctx context.Context, limit int) ([]TransferRecord, error) {
	return store.inner.ListUnhandledTransfers(ctx, limit)
}

func (store *alwaysConflictStore) MarkTransferHandled(ctx context.Context, transferID string) error {
	return store.inner.MarkTransferHandled(ctx, transferID)
}
