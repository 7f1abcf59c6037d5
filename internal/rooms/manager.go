package rooms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/jackhouse/internal/casino"
	"github.com/MarkoPoloResearchLab/jackhouse/internal/events"
	"github.com/MarkoPoloResearchLab/jackhouse/internal/identity"
	"github.com/MarkoPoloResearchLab/jackhouse/internal/sched"
	"github.com/MarkoPoloResearchLab/jackhouse/pkg/dlock"
)

const (
	defaultCountdownTicks = 10
	defaultTickInterval   = time.Second
	defaultLockTTL        = 5 * time.Second
	defaultMaxPlayers     = 4
	evictionRetryDelay    = time.Second
)

// PlayerLockKey is the lock key serializing everything that moves one
// player's money or room membership.
func PlayerLockKey(playerID string) string {
	return "player:" + playerID
}

// RoomLockKey serializes room-level transitions such as matchmaking.
func RoomLockKey(roomID string) string {
	return "room:" + roomID
}

func levelLockKey(level int) string {
	return fmt.Sprintf("level:%d", level)
}

// Manager matches players into rooms and runs the bet countdown.
type Manager struct {
	store       Store
	locks       *dlock.Coordinator
	scheduler   *sched.Scheduler
	catalog     *casino.Catalog
	identity    identity.Provider
	broadcaster events.Broadcaster
	logger      *zap.Logger

	countdownTicks int
	tickInterval   time.Duration
	lockTTL        time.Duration
	maxPlayers     int
	idFn           func() string
	nowFn          func() int64

	mu         sync.Mutex
	countdowns map[string]*sched.Handle
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCountdown overrides tick count and interval, for tests.
func WithCountdown(ticks int, interval time.Duration) ManagerOption {
	return func(manager *Manager) {
		manager.countdownTicks = ticks
		manager.tickInterval = interval
	}
}

// WithLockTTL overrides the lock TTL used around membership mutations.
func WithLockTTL(ttl time.Duration) ManagerOption {
	return func(manager *Manager) {
		manager.lockTTL = ttl
	}
}

// WithRoomIDGenerator overrides room id generation, for tests.
func WithRoomIDGenerator(idFn func() string) ManagerOption {
	return func(manager *Manager) {
		if idFn != nil {
			manager.idFn = idFn
		}
	}
}

// NewManager wires a Manager.
func NewManager(store Store, locks *dlock.Coordinator, scheduler *sched.Scheduler, catalog *casino.Catalog, provider identity.Provider, broadcaster events.Broadcaster, logger *zap.Logger, options ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	manager := &Manager{
		store:          store,
		locks:          locks,
		scheduler:      scheduler,
		catalog:        catalog,
		identity:       provider,
		broadcaster:    broadcaster,
		logger:         logger,
		countdownTicks: defaultCountdownTicks,
		tickInterval:   defaultTickInterval,
		lockTTL:        defaultLockTTL,
		maxPlayers:     defaultMaxPlayers,
		idFn:           uuid.NewString,
		nowFn:          func() int64 { return time.Now().UTC().Unix() },
		countdowns:     map[string]*sched.Handle{},
	}
	for _, option := range options {
		if option != nil {
			option(manager)
		}
	}
	return manager
}

// Join places the player into the oldest waiting room at level with a free
// seat, or creates one, then starts the bet countdown. Balance below the
// tier minimum rejects with ErrNotEligible before any state mutates.
func (manager *Manager) Join(ctx context.Context, playerID string, level int) error {
	bundle, err := manager.identity.Resolve(ctx, playerID)
	if err != nil {
		return err
	}
	tier, err := manager.catalog.Tier(ctx, level)
	if err != nil {
		return err
	}
	if bundle.Asset.Amount < tier.MinBet {
		return fmt.Errorf("%w: balance %d below minimum bet %d", ErrNotEligible, bundle.Asset.Amount, tier.MinBet)
	}

	var joinedRoomID string
	err = manager.locks.Execute(ctx, []string{levelLockKey(level)}, manager.lockTTL, func(ctx context.Context) error {
		room, found, err := manager.store.FindOldestWaiting(ctx, level, manager.maxPlayers)
		if err != nil {
			return err
		}
		if found {
			if err := manager.store.UpdatePlayers(ctx, room.ID, append(room.Players, playerID)); err != nil {
				return err
			}
			joinedRoomID = room.ID
			return nil
		}
		fresh := Room{
			ID:             manager.idFn(),
			Level:          level,
			Status:         StatusWaiting,
			Players:        []string{playerID},
			CreatedUnixUTC: manager.nowFn(),
		}
		if err := manager.store.CreateRoom(ctx, fresh); err != nil {
			return err
		}
		joinedRoomID = fresh.ID
		return nil
	})
	if err != nil {
		return err
	}

	manager.broadcaster.ToPlayer(playerID, events.Event{
		Name:    events.EventJoin,
		Payload: events.Status{Status: events.StatusSuccess, Message: "Joined room"},
	})
	manager.StartCountdown(joinedRoomID, playerID)
	return nil
}

func countdownKey(roomID string, playerID string) string {
	return roomID + "/" + playerID
}

// StartCountdown starts (or restarts) the bet countdown for one player.
// Expiry with no bet evicts the player; a bet cancels the countdown.
func (manager *Manager) StartCountdown(roomID string, playerID string) {
	key := countdownKey(roomID, playerID)
	manager.mu.Lock()
	if existing, ok := manager.countdowns[key]; ok {
		existing.Stop()
	}
	handle := manager.scheduler.Countdown(context.Background(), key, manager.countdownTicks, manager.tickInterval,
		func(timeLeft int) {
			manager.broadcaster.ToPlayer(playerID, events.Event{
				Name:    events.EventBetCountdown,
				Payload: events.Countdown{TimeLeft: timeLeft},
			})
		},
		func() {
			manager.expire(roomID, playerID)
		},
	)
	manager.countdowns[key] = handle
	manager.mu.Unlock()
}

// CancelCountdown stops the player's countdown. Returns whether a live
// countdown was cancelled; the bet path and the expiry path both consume
// the entry, so exactly one of them wins the race.
func (manager *Manager) CancelCountdown(roomID string, playerID string) bool {
	return manager.takeCountdown(countdownKey(roomID, playerID))
}

func (manager *Manager) takeCountdown(key string) bool {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	handle, ok := manager.countdowns[key]
	if !ok {
		return false
	}
	handle.Stop()
	delete(manager.countdowns, key)
	return true
}

// expire runs the eviction side of the countdown/bet race. Eviction has no
// user to reject, so it retries acquisition until it holds the player lock.
func (manager *Manager) expire(roomID string, playerID string) {
	ctx := context.Background()
	err := manager.locks.ExecuteUntilSuccess(ctx, []string{PlayerLockKey(playerID)}, manager.lockTTL, func(ctx context.Context) error {
		// A bet that won the race consumed the countdown entry already.
		if !manager.takeCountdown(countdownKey(roomID, playerID)) {
			return nil
		}
		room, found, err := manager.store.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if !found || room.Status != StatusWaiting || !room.HasPlayer(playerID) {
			return nil
		}
		remaining := room.WithoutPlayer(playerID)
		if len(remaining) == 0 {
			if err := manager.store.DeleteRoom(ctx, roomID); err != nil {
				return err
			}
		} else if err := manager.store.UpdatePlayers(ctx, roomID, remaining); err != nil {
			return err
		}
		manager.broadcaster.ToPlayer(playerID, events.Event{
			Name:    events.EventKick,
			Payload: events.Status{Status: events.StatusSuccess, Message: "You have been kicked"},
		})
		return nil
	}, evictionRetryDelay)
	if err != nil {
		manager.logger.Error("eviction failed", zap.String("room_id", roomID), zap.String("player_id", playerID), zap.Error(err))
	}
}

// ResetRoom returns a settled room to waiting and restarts countdowns for
// its remaining players.
func (manager *Manager) ResetRoom(ctx context.Context, roomID string) error {
	if err := manager.store.UpdateStatus(ctx, roomID, StatusPlaying, StatusWaiting); err != nil {
		return err
	}
	room, found, err := manager.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !found {
		return ErrRoomNotFound
	}
	for _, member := range room.Players {
		manager.StartCountdown(roomID, member)
	}
	return nil
}

// Close stops every live countdown.
func (manager *Manager) Close() {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	for key, handle := range manager.countdowns {
		handle.Stop()
		delete(manager.countdowns, key)
	}
}
