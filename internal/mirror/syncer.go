// Package mirror drains the primary transfer log into the analytical
// mirror. Each cycle first garbage-collects rows already mirrored, then
// copies a small batch of unhandled rows concurrently; a row is marked
// handled only after its mirror write succeeds, so a crashed cycle replays
// the row and the idempotent upsert absorbs the duplicate.
package mirror

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/jackhouse/internal/sched"
	"github.com/MarkoPoloResearchLab/jackhouse/pkg/asset"
)

const defaultBatchSize = 10

// Target is the mirror side of the sync: the analytical store the transfer
// log is copied into.
type Target interface {
	UpsertTransfer(ctx context.Context, record asset.TransferRecord) error
}

// Syncer copies transfer records from the ledger store to the target.
type Syncer struct {
	source    asset.Store
	target    Target
	logger    *zap.Logger
	batchSize int
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithBatchSize overrides the per-cycle batch size.
func WithBatchSize(size int) SyncerOption {
	return func(syncer *Syncer) {
		if size > 0 {
			syncer.batchSize = size
		}
	}
}

// NewSyncer wires a Syncer.
func NewSyncer(source asset.Store, target Target, logger *zap.Logger, options ...SyncerOption) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	syncer := &Syncer{
		source:    source,
		target:    target,
		logger:    logger,
		batchSize: defaultBatchSize,
	}
	for _, option := range options {
		if option != nil {
			option(syncer)
		}
	}
	return syncer
}

// Start schedules SyncOnce on the given interval.
func (syncer *Syncer) Start(ctx context.Context, scheduler *sched.Scheduler, interval time.Duration) *sched.Handle {
	return scheduler.Every(ctx, "mirror-sync", interval, func(ctx context.Context) {
		if err := syncer.SyncOnce(ctx); err != nil {
			syncer.logger.Warn("mirror sync cycle failed", zap.Error(err))
		}
	})
}

// SyncOnce runs one sync cycle. Per-record failures are logged and left
// unhandled for the next cycle; they do not abort the batch.
func (syncer *Syncer) SyncOnce(ctx context.Context) error {
	purged, err := syncer.source.DeleteHandledTransfers(ctx)
	if err != nil {
		return err
	}
	if purged > 0 {
		syncer.logger.Debug("purged mirrored transfers", zap.Int64("count", purged))
	}

	batch, err := syncer.source.ListUnhandledTransfers(ctx, syncer.batchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, record := range batch {
		wg.Add(1)
		go func(record asset.TransferRecord) {
			defer wg.Done()
			if err := syncer.target.UpsertTransfer(ctx, record); err != nil {
				syncer.logger.Warn("mirror upsert failed",
					zap.String("transfer_id", record.TransferID),
					zap.Error(err))
				return
			}
			if err := syncer.source.MarkTransferHandled(ctx, record.TransferID); err != nil {
				syncer.logger.Warn("mark handled failed",
					zap.String("transfer_id", record.TransferID),
					zap.Error(err))
			}
		}(record)
	}
	wg.Wait()
	return nil
}
