package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/jackhouse/pkg/asset"
)

type stubSource struct {
	mutex     sync.Mutex
	transfers map[string]asset.TransferRecord
	order     []string
}

func newStubSource(records ...asset.TransferRecord) *stubSource {
	source := &stubSource{transfers: map[string]asset.TransferRecord{}}
	for _, record := range records {
		source.transfers[record.TransferID] = record
		source.order = append(source.order, record.TransferID)
	}
	return source
}

func (source *stubSource) WithTx(ctx context.Context, fn func(ctx context.Context, txStore asset.Store) error) error {
	return fn(ctx, source)
}

func (source *stubSource) GetAccount(ctx context.Context, owner asset.OwnerID, token asset.TokenKind) (asset.Account, error) {
	return asset.Account{}, asset.ErrAccountNotFound
}

func (source *stubSource) CreateAccount(ctx context.Context, account asset.Account) error {
	return nil
}

func (source *stubSource) UpdateAccountAmount(ctx context.Context, owner asset.OwnerID, token asset.TokenKind, newAmount int64, expectedVersion int64) error {
	return nil
}

func (source *stubSource) InsertTransfer(ctx context.Context, record asset.TransferRecord) error {
	return nil
}

func (source *stubSource) DeleteHandledTransfers(ctx context.Context) (int64, error) {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	deleted := int64(0)
	remaining := source.order[:0]
	for _, transferID := range source.order {
		if source.transfers[transferID].IsHandled {
			delete(source.transfers, transferID)
			deleted++
			continue
		}
		remaining = append(remaining, transferID)
	}
	source.order = remaining
	return deleted, nil
}

func (source *stubSource) ListUnhandledTransfers(ctx context.Context, limit int) ([]asset.TransferRecord, error) {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	var batch []asset.TransferRecord
	for _, transferID := range source.order {
		record := source.transfers[transferID]
		if record.IsHandled {
			continue
		}
		batch = append(batch, record)
		if len(batch) == limit {
			break
		}
	}
	return batch, nil
}

func (source *stubSource) MarkTransferHandled(ctx context.Context, transferID string) error {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	record, ok := source.transfers[transferID]
	if !ok {
		return errors.New("unknown transfer")
	}
	record.IsHandled = true
	source.transfers[transferID] = record
	return nil
}

func (source *stubSource) unhandledCount() int {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	count := 0
	for _, record := range source.transfers {
		if !record.IsHandled {
			count++
		}
	}
	return count
}

type stubTarget struct {
	mutex    sync.Mutex
	upserts  map[string]int
	failures map[string]error
}

func newStubTarget() *stubTarget {
	return &stubTarget{upserts: map[string]int{}, failures: map[string]error{}}
}

func (target *stubTarget) UpsertTransfer(ctx context.Context, record asset.TransferRecord) error {
	target.mutex.Lock()
	defer target.mutex.Unlock()
	if err := target.failures[record.TransferID]; err != nil {
		return err
	}
	target.upserts[record.TransferID]++
	return nil
}

func (target *stubTarget) upsertCount(transferID string) int {
	target.mutex.Lock()
	defer target.mutex.Unlock()
	return target.upserts[transferID]
}

func record(transferID string) asset.TransferRecord {
	return asset.TransferRecord{
		TransferID:  transferID,
		FromOwnerID: "alice",
		ToOwnerID:   "system:bet",
		Token:       asset.TokenJack,
		Amount:      20,
		Kind:        asset.TransferBet,
	}
}

func TestSyncOnceMirrorsAndMarksHandled(test *testing.T) {
	test.Parallel()
	source := newStubSource(record("t-1"), record("t-2"))
	target := newStubTarget()
	syncer := NewSyncer(source, target, zap.NewNop())

	if err := syncer.SyncOnce(context.Background()); err != nil {
		test.Fatalf("sync: %v", err)
	}
	if target.upsertCount("t-1") != 1 || target.upsertCount("t-2") != 1 {
		test.Fatalf("expected both records mirrored once")
	}
	if source.unhandledCount() != 0 {
		test.Fatalf("expected all records marked handled")
	}
}

func TestSyncOnceLeavesFailedRecordForRetry(test *testing.T) {
	test.Parallel()
	source := newStubSource(record("t-1"), record("t-2"))
	target := newStubTarget()
	target.failures["t-1"] = errors.New("mirror down")
	syncer := NewSyncer(source, target, zap.NewNop())

	if err := syncer.SyncOnce(context.Background()); err != nil {
		test.Fatalf("sync: %v", err)
	}
	if source.unhandledCount() != 1 {
		test.Fatalf("failed record must stay unhandled, got %d", source.unhandledCount())
	}

	// The next cycle purges the handled row and retries the failure.
	delete(target.failures, "t-1")
	if err := syncer.SyncOnce(context.Background()); err != nil {
		test.Fatalf("second sync: %v", err)
	}
	if target.upsertCount("t-1") != 1 {
		test.Fatalf("expected retried record mirrored, got %d", target.upsertCount("t-1"))
	}
	if source.unhandledCount() != 0 {
		test.Fatalf("expected log drained")
	}
}

func TestSyncOnceHonorsBatchSize(test *testing.T) {
	test.Parallel()
	source := newStubSource(record("t-1"), record("t-2"), record("t-3"))
	target := newStubTarget()
	syncer := NewSyncer(source, target, zap.NewNop(), WithBatchSize(2))

	if err := syncer.SyncOnce(context.Background()); err != nil {
		test.Fatalf("sync: %v", err)
	}
	if source.unhandledCount() != 1 {
		test.Fatalf("expected one record beyond the batch, got %d", source.unhandledCount())
	}
}
