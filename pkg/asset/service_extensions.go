package asset

import (
	"context"
	"errors"
	"fmt"
)

// TransferFresh re-reads both accounts and retries the version-checked
// transfer up to maxAttempts times on ErrVersionConflict. This is the
// retry loop the optimistic protocol demands of callers; a blind retry
// with stale versions would never make progress.
func (service *Service) TransferFresh(ctx context.Context, from OwnerID, to OwnerID, token TokenKind, amount Amount, kind TransferKind, remark string, maxAttempts int) (TransferRecord, error) {
	if maxAttempts <= 0 {
		return TransferRecord{}, fmt.Errorf("%w: max attempts must be positive", ErrInvalidServiceConfig)
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		fromAccount, err := service.store.GetAccount(ctx, from, token)
		if err != nil {
			return TransferRecord{}, err
		}
		toAccount, err := service.store.GetAccount(ctx, to, token)
		if err != nil {
			return TransferRecord{}, err
		}
		input, err := NewTransferInput(from, to, token, amount, fromAccount.Version, toAccount.Version, kind, remark)
		if err != nil {
			return TransferRecord{}, err
		}
		record, err := service.Transfer(ctx, input)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return TransferRecord{}, err
		}
		lastErr = err
	}
	return TransferRecord{}, lastErr
}
