// Package gormstore persists the asset ledger and the room registry with
// GORM, behind either the sqlite or the postgres driver. Version-guarded
// updates carry the optimistic concurrency protocol down to SQL: the guard
// lives in the WHERE clause and zero matched rows is the conflict signal.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/jackhouse/internal/rooms"
	"github.com/MarkoPoloResearchLab/jackhouse/pkg/asset"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectAccount   = "account"
	errorSubjectTransfer  = "transfer"
	errorSubjectRoom      = "room"
	errorCodeCreate       = "create"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeUpdate       = "update"
	errorCodeDelete       = "delete"
	errorCodeConflict     = "version_conflict"
)

// Store implements asset.Store and rooms.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates the schema. The daemon runs it for sqlite; postgres
// deployments migrate externally.
func (store *Store) AutoMigrate() error {
	return store.db.AutoMigrate(&Account{}, &Transfer{}, &Room{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore asset.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetAccount(ctx context.Context, owner asset.OwnerID, token asset.TokenKind) (asset.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Where("owner_id = ? AND token = ?", owner.String(), token.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return asset.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, asset.ErrAccountNotFound)
		}
		return asset.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(model)
}

func (store *Store) CreateAccount(ctx context.Context, account asset.Account) error {
	model := Account{
		OwnerID: account.Owner.String(),
		Token:   account.Token.String(),
		Amount:  account.Amount,
		Version: account.Version,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectAccount, errorCodeDuplicate, asset.ErrAccountExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

// UpdateAccountAmount is the guarded write of the optimistic protocol: the
// version check rides in the WHERE clause and the version bumps in the same
// statement, so a concurrent writer can never slip between check and write.
func (store *Store) UpdateAccountAmount(ctx context.Context, owner asset.OwnerID, token asset.TokenKind, newAmount int64, expectedVersion int64) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("owner_id = ? AND token = ? AND version = ?", owner.String(), token.String(), expectedVersion).
		Updates(map[string]interface{}{
			"amount":  newAmount,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeConflict, asset.ErrVersionConflict)
	}
	return nil
}

func (store *Store) InsertTransfer(ctx context.Context, record asset.TransferRecord) error {
	model := Transfer{
		TransferID:       record.TransferID,
		FromOwnerID:      record.FromOwnerID,
		ToOwnerID:        record.ToOwnerID,
		Token:            record.Token.String(),
		Amount:           record.Amount,
		FromBeforeAmount: record.FromBeforeAmount,
		FromAfterAmount:  record.FromAfterAmount,
		ToBeforeAmount:   record.ToBeforeAmount,
		ToAfterAmount:    record.ToAfterAmount,
		Kind:             record.Kind.String(),
		Remark:           record.Remark,
		IsHandled:        record.IsHandled,
		CreatedAt:        time.Unix(record.CreatedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectTransfer, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) DeleteHandledTransfers(ctx context.Context) (int64, error) {
	result := store.db.WithContext(ctx).Where("is_handled = ?", true).Delete(&Transfer{})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectTransfer, errorCodeDelete, result.Error)
	}
	return result.RowsAffected, nil
}

func (store *Store) ListUnhandledTransfers(ctx context.Context, limit int) ([]asset.TransferRecord, error) {
	var models []Transfer
	err := store.db.WithContext(ctx).
		Where("is_handled = ?", false).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransfer, errorCodeList, err)
	}
	records := make([]asset.TransferRecord, 0, len(models))
	for _, model := range models {
		record, err := mapTransfer(model)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransfer, errorCodeInvalid, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func (store *Store) MarkTransferHandled(ctx context.Context, transferID string) error {
	result := store.db.WithContext(ctx).
		Model(&Transfer{}).
		Where("transfer_id = ?", transferID).
		Update("is_handled", true)
	if result.Error != nil {
		return wrapStoreError(errorSubjectTransfer, errorCodeUpdate, result.Error)
	}
	return nil
}

// FindOldestWaiting returns the longest-waiting room at level with a free
// seat. The seat filter runs in Go: player lists are a JSON column and the
// candidate set per level is small.
func (store *Store) FindOldestWaiting(ctx context.Context, level int, maxPlayers int) (rooms.Room, bool, error) {
	var models []Room
	err := store.db.WithContext(ctx).
		Where("level = ? AND status = ?", level, string(rooms.StatusWaiting)).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return rooms.Room{}, false, wrapStoreError(errorSubjectRoom, errorCodeList, err)
	}
	for _, model := range models {
		room, err := mapRoom(model)
		if err != nil {
			return rooms.Room{}, false, wrapStoreError(errorSubjectRoom, errorCodeInvalid, err)
		}
		if len(room.Players) < maxPlayers {
			return room, true, nil
		}
	}
	return rooms.Room{}, false, nil
}

func (store *Store) FindByPlayer(ctx context.Context, playerID string, status rooms.Status) (rooms.Room, bool, error) {
	var models []Room
	err := store.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return rooms.Room{}, false, wrapStoreError(errorSubjectRoom, errorCodeList, err)
	}
	for _, model := range models {
		room, err := mapRoom(model)
		if err != nil {
			return rooms.Room{}, false, wrapStoreError(errorSubjectRoom, errorCodeInvalid, err)
		}
		if room.HasPlayer(playerID) {
			return room, true, nil
		}
	}
	return rooms.Room{}, false, nil
}

func (store *Store) GetRoom(ctx context.Context, roomID string) (rooms.Room, bool, error) {
	var model Room
	err := store.db.WithContext(ctx).Where("room_id = ?", roomID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rooms.Room{}, false, nil
		}
		return rooms.Room{}, false, wrapStoreError(errorSubjectRoom, errorCodeGet, err)
	}
	room, err := mapRoom(model)
	if err != nil {
		return rooms.Room{}, false, wrapStoreError(errorSubjectRoom, errorCodeInvalid, err)
	}
	return room, true, nil
}

func (store *Store) CreateRoom(ctx context.Context, room rooms.Room) error {
	players, err := playersJSON(room.Players)
	if err != nil {
		return wrapStoreError(errorSubjectRoom, errorCodeInvalid, err)
	}
	model := Room{
		RoomID:    room.ID,
		Level:     room.Level,
		Status:    string(room.Status),
		Players:   players,
		CreatedAt: time.Unix(room.CreatedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectRoom, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) UpdatePlayers(ctx context.Context, roomID string, players []string) error {
	encoded, err := playersJSON(players)
	if err != nil {
		return wrapStoreError(errorSubjectRoom, errorCodeInvalid, err)
	}
	result := store.db.WithContext(ctx).
		Model(&Room{}).
		Where("room_id = ?", roomID).
		Update("players", encoded)
	if result.Error != nil {
		return wrapStoreError(errorSubjectRoom, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectRoom, errorCodeUpdate, rooms.ErrRoomNotFound)
	}
	return nil
}

// UpdateStatus guards the transition on the current status, so two racing
// flips resolve to exactly one winner.
func (store *Store) UpdateStatus(ctx context.Context, roomID string, from rooms.Status, to rooms.Status) error {
	result := store.db.WithContext(ctx).
		Model(&Room{}).
		Where("room_id = ? AND status = ?", roomID, string(from)).
		Update("status", string(to))
	if result.Error != nil {
		return wrapStoreError(errorSubjectRoom, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectRoom, errorCodeUpdate, rooms.ErrRoomNotFound)
	}
	return nil
}

func (store *Store) DeleteRoom(ctx context.Context, roomID string) error {
	result := store.db.WithContext(ctx).Where("room_id = ?", roomID).Delete(&Room{})
	if result.Error != nil {
		return wrapStoreError(errorSubjectRoom, errorCodeDelete, result.Error)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return asset.WrapError(errorOperationStore, subject, code, err)
}

func mapAccount(model Account) (asset.Account, error) {
	owner, err := asset.NewOwnerID(model.OwnerID)
	if err != nil {
		return asset.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	token, err := asset.ParseTokenKind(model.Token)
	if err != nil {
		return asset.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return asset.Account{
		Owner:   owner,
		Token:   token,
		Amount:  model.Amount,
		Version: model.Version,
	}, nil
}

func mapTransfer(model Transfer) (asset.TransferRecord, error) {
	token, err := asset.ParseTokenKind(model.Token)
	if err != nil {
		return asset.TransferRecord{}, err
	}
	kind, err := asset.ParseTransferKind(model.Kind)
	if err != nil {
		return asset.TransferRecord{}, err
	}
	return asset.TransferRecord{
		TransferID:       model.TransferID,
		FromOwnerID:      model.FromOwnerID,
		ToOwnerID:        model.ToOwnerID,
		Token:            token,
		Amount:           model.Amount,
		FromBeforeAmount: model.FromBeforeAmount,
		FromAfterAmount:  model.FromAfterAmount,
		ToBeforeAmount:   model.ToBeforeAmount,
		ToAfterAmount:    model.ToAfterAmount,
		Kind:             kind,
		Remark:           model.Remark,
		CreatedUnixUTC:   model.CreatedAt.Unix(),
		IsHandled:        model.IsHandled,
	}, nil
}

func mapRoom(model Room) (rooms.Room, error) {
	var players []string
	if len(model.Players) > 0 {
		if err := json.Unmarshal(model.Players, &players); err != nil {
			return rooms.Room{}, err
		}
	}
	return rooms.Room{
		ID:             model.RoomID,
		Level:          model.Level,
		Status:         rooms.Status(model.Status),
		Players:        players,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func playersJSON(players []string) (datatypes.JSON, error) {
	if players == nil {
		players = []string{}
	}
	encoded, err := json.Marshal(players)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(encoded), nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
