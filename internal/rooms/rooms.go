// Package rooms owns matchmaking into tiered rooms, the bet countdown, and
// eviction of players who never bet. Every mutation that can race with a
// bet runs under the lock coordinator keyed by the acting player.
package rooms

import (
	"context"
	"errors"
)

// Status is the lifecycle state of a room.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusPlaying Status = "playing"
)

// Room is one table at a casino tier.
type Room struct {
	ID             string
	Level          int
	Status         Status
	Players        []string
	CreatedUnixUTC int64
}

// HasPlayer reports membership in the room's ordered player list.
func (room Room) HasPlayer(playerID string) bool {
	for _, member := range room.Players {
		if member == playerID {
			return true
		}
	}
	return false
}

// WithoutPlayer returns the player list minus playerID.
func (room Room) WithoutPlayer(playerID string) []string {
	remaining := make([]string, 0, len(room.Players))
	for _, member := range room.Players {
		if member != playerID {
			remaining = append(remaining, member)
		}
	}
	return remaining
}

// Domain errors raised by the manager. Validation-class: recovered locally
// by callers as user-facing rejections with no state mutated.
var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotEligible  = errors.New("not eligible for tier")
)

// Store is the room persistence contract.
type Store interface {
	FindOldestWaiting(ctx context.Context, level int, maxPlayers int) (Room, bool, error)
	FindByPlayer(ctx context.Context, playerID string, status Status) (Room, bool, error)
	GetRoom(ctx context.Context, roomID string) (Room, bool, error)
	CreateRoom(ctx context.Context, room Room) error
	UpdatePlayers(ctx context.Context, roomID string, players []string) error
	// UpdateStatus transitions from -> to, guarded on the current status.
	UpdateStatus(ctx context.Context, roomID string, from Status, to Status) error
	DeleteRoom(ctx context.Context, roomID string) error
}
