package gormstore

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MarkoPoloResearchLab/jackhouse/internal/rooms"
	"github.com/MarkoPoloResearchLab/jackhouse/pkg/asset"
)

func newTestStore(test *testing.T) *Store {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(test.TempDir()+"/jackhouse.db"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	store := New(db)
	if err := store.AutoMigrate(); err != nil {
		test.Fatalf("migrate failed: %v", err)
	}
	return store
}

func mustOwner(test *testing.T, raw string) asset.OwnerID {
	test.Helper()
	owner, err := asset.NewOwnerID(raw)
	if err != nil {
		test.Fatalf("owner %q: %v", raw, err)
	}
	return owner
}

func TestAccountRoundTripAndDuplicate(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	owner := mustOwner(test, "alice")

	account := asset.Account{Owner: owner, Token: asset.TokenJack, Amount: 100, Version: 0}
	if err := store.CreateAccount(context.Background(), account); err != nil {
		test.Fatalf("create: %v", err)
	}
	loaded, err := store.GetAccount(context.Background(), owner, asset.TokenJack)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if loaded.Amount != 100 || loaded.Version != 0 {
		test.Fatalf("unexpected account %+v", loaded)
	}
	if err := store.CreateAccount(context.Background(), account); !errors.Is(err, asset.ErrAccountExists) {
		test.Fatalf("expected ErrAccountExists, got %v", err)
	}
	if _, err := store.GetAccount(context.Background(), mustOwner(test, "nobody"), asset.TokenJack); !errors.Is(err, asset.ErrAccountNotFound) {
		test.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestGuardedUpdateBumpsVersionOnceAndConflictsOnStaleGuard(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	owner := mustOwner(test, "alice")
	if err := store.CreateAccount(context.Background(), asset.Account{Owner: owner, Token: asset.TokenJack, Amount: 100, Version: 0}); err != nil {
		test.Fatalf("create: %v", err)
	}

	if err := store.UpdateAccountAmount(context.Background(), owner, asset.TokenJack, 80, 0); err != nil {
		test.Fatalf("guarded update: %v", err)
	}
	loaded, err := store.GetAccount(context.Background(), owner, asset.TokenJack)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if loaded.Amount != 80 || loaded.Version != 1 {
		test.Fatalf("expected amount 80 version 1, got %+v", loaded)
	}
	// The stale guard must match zero rows and leave the account untouched.
	if err := store.UpdateAccountAmount(context.Background(), owner, asset.TokenJack, 999, 0); !errors.Is(err, asset.ErrVersionConflict) {
		test.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	loaded, _ = store.GetAccount(context.Background(), owner, asset.TokenJack)
	if loaded.Amount != 80 || loaded.Version != 1 {
		test.Fatalf("stale guard must not mutate, got %+v", loaded)
	}
}

func TestTransferLogLifecycle(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)

	first := asset.TransferRecord{
		TransferID:  "11111111-1111-1111-1111-111111111111",
		FromOwnerID: "alice",
		ToOwnerID:   "system:bet",
		Token:       asset.TokenJack,
		Amount:      20,
		Kind:        asset.TransferBet,
		// Oldest first for the syncer.
		CreatedUnixUTC: 1000,
	}
	second := first
	second.TransferID = "22222222-2222-2222-2222-222222222222"
	second.Kind = asset.TransferWin
	second.CreatedUnixUTC = 2000
	if err := store.InsertTransfer(context.Background(), second); err != nil {
		test.Fatalf("insert: %v", err)
	}
	if err := store.InsertTransfer(context.Background(), first); err != nil {
		test.Fatalf("insert: %v", err)
	}

	unhandled, err := store.ListUnhandledTransfers(context.Background(), 10)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(unhandled) != 2 || unhandled[0].TransferID != first.TransferID {
		test.Fatalf("expected oldest-first unhandled pair, got %+v", unhandled)
	}

	if err := store.MarkTransferHandled(context.Background(), first.TransferID); err != nil {
		test.Fatalf("mark handled: %v", err)
	}
	unhandled, err = store.ListUnhandledTransfers(context.Background(), 10)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(unhandled) != 1 || unhandled[0].TransferID != second.TransferID {
		test.Fatalf("expected only the second transfer unhandled, got %+v", unhandled)
	}

	deleted, err := store.DeleteHandledTransfers(context.Background())
	if err != nil {
		test.Fatalf("delete handled: %v", err)
	}
	if deleted != 1 {
		test.Fatalf("expected one handled row deleted, got %d", deleted)
	}
}

func TestRoomRegistry(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)

	older := rooms.Room{ID: "33333333-3333-3333-3333-333333333333", Level: 1, Status: rooms.StatusWaiting, Players: []string{"alice"}, CreatedUnixUTC: 1000}
	newer := rooms.Room{ID: "44444444-4444-4444-4444-444444444444", Level: 1, Status: rooms.StatusWaiting, Players: []string{"bob"}, CreatedUnixUTC: 2000}
	full := rooms.Room{ID: "55555555-5555-5555-5555-555555555555", Level: 1, Status: rooms.StatusWaiting, Players: []string{"p1", "p2", "p3", "p4"}, CreatedUnixUTC: 500}
	for _, room := range []rooms.Room{older, newer, full} {
		if err := store.CreateRoom(context.Background(), room); err != nil {
			test.Fatalf("create room: %v", err)
		}
	}

	// The full room is oldest but has no free seat.
	found, ok, err := store.FindOldestWaiting(context.Background(), 1, 4)
	if err != nil || !ok {
		test.Fatalf("find oldest: ok=%v err=%v", ok, err)
	}
	if found.ID != older.ID {
		test.Fatalf("expected oldest seatable room %s, got %s", older.ID, found.ID)
	}

	byPlayer, ok, err := store.FindByPlayer(context.Background(), "bob", rooms.StatusWaiting)
	if err != nil || !ok || byPlayer.ID != newer.ID {
		test.Fatalf("find by player: %+v ok=%v err=%v", byPlayer, ok, err)
	}

	if err := store.UpdatePlayers(context.Background(), older.ID, []string{"alice", "carol"}); err != nil {
		test.Fatalf("update players: %v", err)
	}
	refreshed, ok, err := store.GetRoom(context.Background(), older.ID)
	if err != nil || !ok || len(refreshed.Players) != 2 {
		test.Fatalf("get room: %+v ok=%v err=%v", refreshed, ok, err)
	}

	if err := store.UpdateStatus(context.Background(), older.ID, rooms.StatusWaiting, rooms.StatusPlaying); err != nil {
		test.Fatalf("status flip: %v", err)
	}
	if err := store.UpdateStatus(context.Background(), older.ID, rooms.StatusWaiting, rooms.StatusPlaying); !errors.Is(err, rooms.ErrRoomNotFound) {
		test.Fatalf("second flip must fail the guard, got %v", err)
	}

	if err := store.DeleteRoom(context.Background(), newer.ID); err != nil {
		test.Fatalf("delete room: %v", err)
	}
	if _, ok, _ := store.GetRoom(context.Background(), newer.ID); ok {
		test.Fatalf("deleted room must be gone")
	}
}
