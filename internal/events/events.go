// Package events defines the real-time outbound surface of the tables.
// Transport (websocket wiring, auth) is an external collaborator; the core
// emits through the Broadcaster interface and preserves per-room ordering
// by emitting from the goroutine driving that room's hand.
package events

// Event names on the wire.
const (
	EventJoin         = "join"
	EventBetCountdown = "bet-countdown"
	EventKick         = "kick"
	EventStart        = "start"
	EventDeal         = "deal"
	EventActions      = "actions"
	EventGameOver     = "game-over"
)

// Event is one outbound message for one player connection.
type Event struct {
	Name    string
	Payload any
}

// Broadcaster delivers events to connected players. Implementations must
// not block the caller for slow consumers.
type Broadcaster interface {
	ToPlayer(playerID string, event Event)
}

// Status is the payload of join/kick/start responses.
type Status struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Countdown is the payload of bet-countdown ticks.
type Countdown struct {
	TimeLeft int `json:"timeLeft"`
}

// Deal announces one drawn card. The dealer's hidden card is announced as
// card "0" until the showdown.
type Deal struct {
	IsPlayer bool   `json:"isPlayer"`
	PlayerID string `json:"playerId,omitempty"`
	Card     string `json:"card"`
}

// Actions lists the decisions currently offered to the player.
type Actions struct {
	Data []string `json:"data"`
}

// GameOver carries the terminal outcome of a hand.
type GameOver struct {
	Data string `json:"data"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// HiddenCard is the placeholder broadcast for the dealer's hole card.
const HiddenCard = "0"
