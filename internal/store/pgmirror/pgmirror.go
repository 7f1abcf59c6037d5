// Package pgmirror writes the transfer log into the analytical mirror
// database over a pgx connection pool. Replays are expected: the syncer
// retries failed batches, so every write is an idempotent upsert keyed by
// transfer id.
package pgmirror

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarkoPoloResearchLab/jackhouse/pkg/asset"
)

const (
	errorOperationMirror = "mirror"
	errorSubjectTransfer = "transfer"
	errorCodeUpsert      = "upsert"
	errorCodeList        = "list"
	errorCodeSchema      = "schema"

	sqlCreateTransfersTable = `
		create table if not exists mirrored_transfers(
			transfer_id uuid primary key,
			from_owner_id text not null,
			to_owner_id text not null,
			token text not null,
			amount bigint not null,
			from_before_amount bigint not null,
			from_after_amount bigint not null,
			to_before_amount bigint not null,
			to_after_amount bigint not null,
			kind text not null,
			remark text not null default '',
			created_at timestamptz not null,
			mirrored_at timestamptz not null default now()
		)
	`

	sqlUpsertTransfer = `
		insert into mirrored_transfers(
			transfer_id, from_owner_id, to_owner_id, token, amount,
			from_before_amount, from_after_amount, to_before_amount, to_after_amount,
			kind, remark, created_at
		)
		values($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, to_timestamp($12))
		on conflict (transfer_id) do update set
			from_owner_id = excluded.from_owner_id,
			to_owner_id = excluded.to_owner_id,
			token = excluded.token,
			amount = excluded.amount,
			from_before_amount = excluded.from_before_amount,
			from_after_amount = excluded.from_after_amount,
			to_before_amount = excluded.to_before_amount,
			to_after_amount = excluded.to_after_amount,
			kind = excluded.kind,
			remark = excluded.remark,
			created_at = excluded.created_at,
			mirrored_at = now()
	`

	sqlListTransfersByOwner = `
		select
			transfer_id::text,
			from_owner_id,
			to_owner_id,
			token,
			amount,
			from_before_amount,
			from_after_amount,
			to_before_amount,
			to_after_amount,
			kind,
			remark,
			extract(epoch from created_at)::bigint
		from mirrored_transfers
		where from_owner_id = $1 or to_owner_id = $1
		order by created_at desc
		limit $2
	`
)

// Store mirrors transfer records into postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the mirror table when it does not exist yet.
func (store *Store) EnsureSchema(ctx context.Context) error {
	if _, err := store.pool.Exec(ctx, sqlCreateTransfersTable); err != nil {
		return wrapMirrorError(errorCodeSchema, err)
	}
	return nil
}

// UpsertTransfer writes one transfer record, replacing any earlier copy
// with the same transfer id.
func (store *Store) UpsertTransfer(ctx context.Context, record asset.TransferRecord) error {
	_, err := store.pool.Exec(ctx, sqlUpsertTransfer,
		record.TransferID,
		record.FromOwnerID,
		record.ToOwnerID,
		record.Token.String(),
		record.Amount,
		record.FromBeforeAmount,
		record.FromAfterAmount,
		record.ToBeforeAmount,
		record.ToAfterAmount,
		record.Kind.String(),
		record.Remark,
		record.CreatedUnixUTC,
	)
	if err != nil {
		return wrapMirrorError(errorCodeUpsert, err)
	}
	return nil
}

// ListByOwner returns the newest mirrored transfers touching owner, for the
// audit endpoint.
func (store *Store) ListByOwner(ctx context.Context, ownerID string, limit int) ([]asset.TransferRecord, error) {
	rows, err := store.pool.Query(ctx, sqlListTransfersByOwner, ownerID, limit)
	if err != nil {
		return nil, wrapMirrorError(errorCodeList, err)
	}
	defer rows.Close()

	records := make([]asset.TransferRecord, 0, limit)
	for rows.Next() {
		var (
			record     asset.TransferRecord
			tokenValue string
			kindValue  string
		)
		if err := rows.Scan(
			&record.TransferID,
			&record.FromOwnerID,
			&record.ToOwnerID,
			&tokenValue,
			&record.Amount,
			&record.FromBeforeAmount,
			&record.FromAfterAmount,
			&record.ToBeforeAmount,
			&record.ToAfterAmount,
			&kindValue,
			&record.Remark,
			&record.CreatedUnixUTC,
		); err != nil {
			return nil, wrapMirrorError(errorCodeList, err)
		}
		token, err := asset.ParseTokenKind(tokenValue)
		if err != nil {
			return nil, wrapMirrorError(errorCodeList, err)
		}
		kind, err := asset.ParseTransferKind(kindValue)
		if err != nil {
			return nil, wrapMirrorError(errorCodeList, err)
		}
		record.Token = token
		record.Kind = kind
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapMirrorError(errorCodeList, err)
	}
	return records, nil
}

func wrapMirrorError(code string, err error) error {
	return asset.WrapError(errorOperationMirror, errorSubjectTransfer, code, err)
}
