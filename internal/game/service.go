// Package game drives the per-room blackjack state machine: betting, the
// opening deal, player decisions, the dealer playout, and settlement
// against the asset ledger. Every money-moving action runs under the lock
// coordinator keyed by the acting player, and every balance mutation goes
// through the version-checked transfer protocol.
package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/jackhouse/internal/casino"
	"github.com/MarkoPoloResearchLab/jackhouse/internal/events"
	"github.com/MarkoPoloResearchLab/jackhouse/internal/rooms"
	"github.com/MarkoPoloResearchLab/jackhouse/internal/session"
	"github.com/MarkoPoloResearchLab/jackhouse/pkg/asset"
	"github.com/MarkoPoloResearchLab/jackhouse/pkg/blackjack"
	"github.com/MarkoPoloResearchLab/jackhouse/pkg/dlock"
)

const (
	// HouseOwner is the ledger account every stake flows into and every
	// payout flows out of.
	HouseOwner = "system:bet"

	defaultLockTTL          = 5 * time.Second
	defaultDealPace         = 500 * time.Millisecond
	defaultTransferAttempts = 5
)

// RoomCoordinator is the slice of the room manager the engine drives:
// cancelling the bet countdown when a stake lands and re-opening the room
// after settlement.
type RoomCoordinator interface {
	CancelCountdown(roomID string, playerID string) bool
	ResetRoom(ctx context.Context, roomID string) error
}

// Service is the blackjack engine for all rooms.
type Service struct {
	roomStore   rooms.Store
	coordinator RoomCoordinator
	locks       *dlock.Coordinator
	cache       session.Cache
	ledger      *asset.Service
	catalog     *casino.Catalog
	broadcaster events.Broadcaster
	logger      *zap.Logger

	house            asset.OwnerID
	token            asset.TokenKind
	lockTTL          time.Duration
	transferAttempts int
	pickFn           func(n int) int
	paceFn           func(ctx context.Context)
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDealPace overrides the delay between dealt cards, for tests.
func WithDealPace(pace func(ctx context.Context)) ServiceOption {
	return func(service *Service) {
		if pace != nil {
			service.paceFn = pace
		}
	}
}

// WithCardPicker overrides shoe index selection, for tests.
func WithCardPicker(pick func(n int) int) ServiceOption {
	return func(service *Service) {
		if pick != nil {
			service.pickFn = pick
		}
	}
}

// WithLockTTL overrides the lock TTL around player actions.
func WithLockTTL(ttl time.Duration) ServiceOption {
	return func(service *Service) {
		service.lockTTL = ttl
	}
}

// NewService wires the engine. The house account must already exist in the
// ledger; the daemon seeds it at startup.
func NewService(roomStore rooms.Store, coordinator RoomCoordinator, locks *dlock.Coordinator, cache session.Cache, ledger *asset.Service, catalog *casino.Catalog, broadcaster events.Broadcaster, logger *zap.Logger, options ...ServiceOption) (*Service, error) {
	house, err := asset.NewOwnerID(HouseOwner)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &Service{
		roomStore:        roomStore,
		coordinator:      coordinator,
		locks:            locks,
		cache:            cache,
		ledger:           ledger,
		catalog:          catalog,
		broadcaster:      broadcaster,
		logger:           logger,
		house:            house,
		token:            asset.TokenJack,
		lockTTL:          defaultLockTTL,
		transferAttempts: defaultTransferAttempts,
		pickFn:           nil,
		paceFn: func(ctx context.Context) {
			timer := time.NewTimer(defaultDealPace)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		},
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// PlayerAction dispatches one decision from a player.
func (service *Service) PlayerAction(ctx context.Context, playerID string, action blackjack.Action, amount int64) error {
	switch action {
	case blackjack.ActionBet:
		return service.Bet(ctx, playerID, amount)
	case blackjack.ActionHit:
		return service.Hit(ctx, playerID)
	case blackjack.ActionStand:
		return service.Stand(ctx, playerID)
	case blackjack.ActionDouble:
		return service.Double(ctx, playerID)
	case blackjack.ActionSurrender:
		return service.Surrender(ctx, playerID)
	case blackjack.ActionSplit:
		return service.Split(ctx, playerID)
	case blackjack.ActionInsurance:
		return service.Insurance(ctx, playerID, true)
	case blackjack.ActionNoInsurance:
		return service.Insurance(ctx, playerID, false)
	}
	return fmt.Errorf("%w: %q", ErrActionUnavailable, action)
}

// underPlayerLock serializes fn against every other mutation touching the
// same player, including countdown eviction. Domain rejections pass through
// unwrapped so callers can discriminate them from lock failures.
func (service *Service) underPlayerLock(ctx context.Context, playerID string, fn func(ctx context.Context) error) error {
	var domainErr error
	lockErr := service.locks.Execute(ctx, []string{rooms.PlayerLockKey(playerID)}, service.lockTTL, func(ctx context.Context) error {
		domainErr = fn(ctx)
		return nil
	})
	if lockErr != nil {
		return lockErr
	}
	return domainErr
}

// Bet stakes amount, flips the room to playing, cancels the bet countdown,
// and deals the opening hand. The stake transfer commits before any card
// is drawn; a rejected bet mutates nothing.
func (service *Service) Bet(ctx context.Context, playerID string, amount int64) error {
	var roomID string
	err := service.underPlayerLock(ctx, playerID, func(ctx context.Context) error {
		// The first seat's bet flips the room to playing; later seats still
		// stake while their own countdowns run, so look in both states.
		room, found, err := service.roomStore.FindByPlayer(ctx, playerID, rooms.StatusWaiting)
		if err != nil {
			return err
		}
		if !found {
			room, found, err = service.roomStore.FindByPlayer(ctx, playerID, rooms.StatusPlaying)
			if err != nil {
				return err
			}
		}
		if !found {
			return rooms.ErrRoomNotFound
		}
		tier, err := service.catalog.Tier(ctx, room.Level)
		if err != nil {
			return err
		}
		if amount < tier.MinBet || amount > tier.MaxBet {
			return fmt.Errorf("%w: %d not in [%d, %d]", ErrBetOutOfRange, amount, tier.MinBet, tier.MaxBet)
		}
		if _, found, err := service.cache.GetState(ctx, room.ID, playerID); err != nil {
			return err
		} else if found {
			return fmt.Errorf("%w: bet already placed", ErrAlreadyActioned)
		}
		owner, err := asset.NewOwnerID(playerID)
		if err != nil {
			return err
		}
		account, err := service.ledger.Account(ctx, owner, service.token)
		if err != nil {
			return err
		}
		if account.Amount < amount {
			return fmt.Errorf("%w: balance %d, stake %d", ErrInsufficientFunds, account.Amount, amount)
		}
		if err := service.stake(ctx, owner, amount, fmt.Sprintf("bet room %s", room.ID)); err != nil {
			return err
		}
		// Another seat's bet may have flipped the room already; the guard
		// failing then is not an error.
		if err := service.roomStore.UpdateStatus(ctx, room.ID, rooms.StatusWaiting, rooms.StatusPlaying); err != nil && !errors.Is(err, rooms.ErrRoomNotFound) {
			return err
		}
		service.coordinator.CancelCountdown(room.ID, playerID)
		if err := service.cache.SetState(ctx, room.ID, playerID, session.State{Bets: []int64{amount}}); err != nil {
			return err
		}
		roomID = room.ID
		return nil
	})
	if err != nil {
		return err
	}

	service.broadcaster.ToPlayer(playerID, events.Event{
		Name:    events.EventStart,
		Payload: events.Status{Status: events.StatusSuccess, Message: "Game start"},
	})
	return service.dealOpening(ctx, roomID, playerID)
}

func (service *Service) stake(ctx context.Context, owner asset.OwnerID, amount int64, remark string) error {
	staked, err := asset.NewAmount(amount)
	if err != nil {
		return err
	}
	_, err = service.ledger.TransferFresh(ctx, owner, service.house, service.token, staked, asset.TransferBet, remark, service.transferAttempts)
	return err
}

func (service *Service) credit(ctx context.Context, owner asset.OwnerID, amount int64, remark string) error {
	credited, err := asset.NewAmount(amount)
	if err != nil {
		return err
	}
	_, err = service.ledger.TransferFresh(ctx, service.house, owner, service.token, credited, asset.TransferWin, remark, service.transferAttempts)
	return err
}

// draw takes one card from the room shoe, regenerating a fresh shoe when
// the old one is exhausted. The read-draw-write runs under the room lock:
// seats act concurrently, and two draws from the same deck snapshot would
// hand out the same physical card.
func (service *Service) draw(ctx context.Context, roomID string) (blackjack.Rank, error) {
	var card blackjack.Rank
	var drawErr error
	lockErr := service.locks.Execute(ctx, []string{rooms.RoomLockKey(roomID)}, service.lockTTL, func(ctx context.Context) error {
		deck, found, err := service.cache.GetDeck(ctx, roomID)
		if err != nil {
			drawErr = err
			return nil
		}
		if !found || len(deck) == 0 {
			deck = blackjack.NewShoe()
		}
		if service.pickFn != nil {
			card, deck = blackjack.Draw(deck, service.pickFn)
		} else {
			card, deck = blackjack.DrawRandom(deck)
		}
		drawErr = service.cache.SetDeck(ctx, roomID, deck)
		return nil
	})
	if lockErr != nil {
		return "", lockErr
	}
	if drawErr != nil {
		return "", drawErr
	}
	return card, nil
}

func (service *Service) dealToPlayer(ctx context.Context, roomID string, playerID string) (blackjack.Rank, error) {
	card, err := service.draw(ctx, roomID)
	if err != nil {
		return "", err
	}
	hand, _, err := service.cache.GetHand(ctx, roomID, playerID)
	if err != nil {
		return "", err
	}
	if err := service.cache.SetHand(ctx, roomID, playerID, append(hand, card)); err != nil {
		return "", err
	}
	service.broadcaster.ToPlayer(playerID, events.Event{
		Name:    events.EventDeal,
		Payload: events.Deal{IsPlayer: true, PlayerID: playerID, Card: string(card)},
	})
	return card, nil
}

func (service *Service) dealToDealer(ctx context.Context, roomID string, playerID string, hidden bool) error {
	card, err := service.draw(ctx, roomID)
	if err != nil {
		return err
	}
	hand, _, err := service.cache.GetHand(ctx, roomID, session.DealerHolder)
	if err != nil {
		return err
	}
	if err := service.cache.SetHand(ctx, roomID, session.DealerHolder, append(hand, card)); err != nil {
		return err
	}
	announced := string(card)
	if hidden {
		announced = events.HiddenCard
	}
	service.broadcaster.ToPlayer(playerID, events.Event{
		Name:    events.EventDeal,
		Payload: events.Deal{IsPlayer: false, Card: announced},
	})
	return nil
}

// dealOpening deals player, dealer hole card (announced hidden), player,
// dealer upcard, then offers the first decision set. A room whose dealer
// hand already exists only deals the two player cards.
func (service *Service) dealOpening(ctx context.Context, roomID string, playerID string) error {
	dealerHand, dealerDealt, err := service.cache.GetHand(ctx, roomID, session.DealerHolder)
	if err != nil {
		return err
	}
	dealerDealt = dealerDealt && len(dealerHand) >= 2

	if _, err := service.dealToPlayer(ctx, roomID, playerID); err != nil {
		return err
	}
	service.paceFn(ctx)
	if !dealerDealt {
		if err := service.dealToDealer(ctx, roomID, playerID, true); err != nil {
			return err
		}
		service.paceFn(ctx)
	}
	if _, err := service.dealToPlayer(ctx, roomID, playerID); err != nil {
		return err
	}
	service.paceFn(ctx)
	if !dealerDealt {
		if err := service.dealToDealer(ctx, roomID, playerID, false); err != nil {
			return err
		}
		service.paceFn(ctx)
	}

	dealerHand, _, err = service.cache.GetHand(ctx, roomID, session.DealerHolder)
	if err != nil {
		return err
	}
	if len(dealerHand) >= 2 && dealerHand[1] == blackjack.RankAce {
		service.offerActions(playerID, []blackjack.Action{blackjack.ActionInsurance, blackjack.ActionNoInsurance})
		return nil
	}
	hand, _, err := service.cache.GetHand(ctx, roomID, playerID)
	if err != nil {
		return err
	}
	service.offerActions(playerID, blackjack.StartingActions(hand))
	return nil
}

func (service *Service) offerActions(playerID string, actions []blackjack.Action) {
	names := make([]string, 0, len(actions))
	for _, action := range actions {
		names = append(names, string(action))
	}
	service.broadcaster.ToPlayer(playerID, events.Event{
		Name:    events.EventActions,
		Payload: events.Actions{Data: names},
	})
}

// table is the loaded context of one player's hand in flight.
type table struct {
	room  rooms.Room
	state session.State
}

func (service *Service) loadTable(ctx context.Context, playerID string) (table, error) {
	room, found, err := service.roomStore.FindByPlayer(ctx, playerID, rooms.StatusPlaying)
	if err != nil {
		return table{}, err
	}
	if !found {
		return table{}, ErrNoActiveHand
	}
	state, found, err := service.cache.GetState(ctx, room.ID, playerID)
	if err != nil {
		return table{}, err
	}
	if !found {
		return table{}, ErrNoActiveHand
	}
	if state.Surrendered {
		return table{}, fmt.Errorf("%w: hand surrendered", ErrActionUnavailable)
	}
	return table{room: room, state: state}, nil
}

// insurancePending reports whether the insurance decision blocks all other
// actions: dealer upcard is an ace and the player has not answered yet.
func (service *Service) insurancePending(ctx context.Context, roomID string, state session.State) (bool, error) {
	if state.InsuranceDecided {
		return false, nil
	}
	dealerHand, _, err := service.cache.GetHand(ctx, roomID, session.DealerHolder)
	if err != nil {
		return false, err
	}
	return len(dealerHand) >= 2 && dealerHand[1] == blackjack.RankAce, nil
}

// Insurance answers the insurance offer. Taking it stakes half the original
// bet; either answer unblocks the regular decision set.
func (service *Service) Insurance(ctx context.Context, playerID string, take bool) error {
	return service.underPlayerLock(ctx, playerID, func(ctx context.Context) error {
		loaded, err := service.loadTable(ctx, playerID)
		if err != nil {
			return err
		}
		pending, err := service.insurancePending(ctx, loaded.room.ID, loaded.state)
		if err != nil {
			return err
		}
		if !pending {
			if loaded.state.InsuranceDecided {
				return fmt.Errorf("%w: insurance already decided", ErrAlreadyActioned)
			}
			return fmt.Errorf("%w: insurance not offered", ErrActionUnavailable)
		}
		if take {
			owner, err := asset.NewOwnerID(playerID)
			if err != nil {
				return err
			}
			premium := blackjack.HalfStake(loaded.state.Stake(0))
			account, err := service.ledger.Account(ctx, owner, service.token)
			if err != nil {
				return err
			}
			if account.Amount < premium {
				return fmt.Errorf("%w: balance %d, premium %d", ErrInsufficientFunds, account.Amount, premium)
			}
			if err := service.stake(ctx, owner, premium, fmt.Sprintf("insurance room %s", loaded.room.ID)); err != nil {
				return err
			}
		}
		loaded.state.InsuranceDecided = true
		loaded.state.InsuranceTaken = take
		if err := service.cache.SetState(ctx, loaded.room.ID, playerID, loaded.state); err != nil {
			return err
		}
		dealerHand, _, err := service.cache.GetHand(ctx, loaded.room.ID, session.DealerHolder)
		if err != nil {
			return err
		}
		// Ten-value hole card under the ace: the dealer holds blackjack and
		// the hand is over whichever way the player answered. The insured
		// path gets its half-stake credit back at settlement.
		if len(dealerHand) >= 2 && blackjack.IsTenValue(dealerHand[0]) {
			service.broadcaster.ToPlayer(playerID, events.Event{
				Name:    events.EventDeal,
				Payload: events.Deal{IsPlayer: false, Card: string(dealerHand[0])},
			})
			return service.settleOutcome(ctx, loaded, playerID, blackjack.OutcomeLose)
		}
		service.offerActions(playerID, blackjack.ContinuingActions())
		return nil
	})
}

// Hit draws one card to the active hand. A bust ends the hand, and so does
// reaching twenty-one, which pays out on the spot without a dealer playout;
// on a split table either case advances play to the next hand instead.
func (service *Service) Hit(ctx context.Context, playerID string) error {
	return service.underPlayerLock(ctx, playerID, func(ctx context.Context) error {
		loaded, err := service.loadTable(ctx, playerID)
		if err != nil {
			return err
		}
		if err := service.rejectPendingInsurance(ctx, loaded); err != nil {
			return err
		}
		if loaded.state.IsSplit() {
			return service.hitSplit(ctx, loaded, playerID)
		}
		if _, err := service.dealToPlayer(ctx, loaded.room.ID, playerID); err != nil {
			return err
		}
		hand, _, err := service.cache.GetHand(ctx, loaded.room.ID, playerID)
		if err != nil {
			return err
		}
		if blackjack.IsBust(hand) {
			return service.settle(ctx, loaded, playerID)
		}
		if blackjack.CalculateTotal(hand) == blackjack.BlackjackTotal {
			return service.settleOutcome(ctx, loaded, playerID, blackjack.OutcomeBlackjack21)
		}
		service.offerActions(playerID, blackjack.ContinuingActions())
		return nil
	})
}

func (service *Service) rejectPendingInsurance(ctx context.Context, loaded table) error {
	pending, err := service.insurancePending(ctx, loaded.room.ID, loaded.state)
	if err != nil {
		return err
	}
	if pending {
		return fmt.Errorf("%w: insurance decision pending", ErrActionUnavailable)
	}
	return nil
}

func (service *Service) hitSplit(ctx context.Context, loaded table, playerID string) error {
	index := loaded.state.CurrentHand
	if index >= len(loaded.state.SplitHands) {
		return ErrNoActiveHand
	}
	card, err := service.draw(ctx, loaded.room.ID)
	if err != nil {
		return err
	}
	loaded.state.SplitHands[index] = append(loaded.state.SplitHands[index], card)
	if err := service.cache.SetState(ctx, loaded.room.ID, playerID, loaded.state); err != nil {
		return err
	}
	service.broadcaster.ToPlayer(playerID, events.Event{
		Name:    events.EventDeal,
		Payload: events.Deal{IsPlayer: true, PlayerID: playerID, Card: string(card)},
	})
	hand := loaded.state.SplitHands[index]
	if blackjack.IsBust(hand) || blackjack.CalculateTotal(hand) == blackjack.BlackjackTotal {
		return service.advanceSplit(ctx, loaded, playerID)
	}
	service.offerActions(playerID, blackjack.ContinuingActions())
	return nil
}

func (service *Service) advanceSplit(ctx context.Context, loaded table, playerID string) error {
	loaded.state.CurrentHand++
	if err := service.cache.SetState(ctx, loaded.room.ID, playerID, loaded.state); err != nil {
		return err
	}
	if loaded.state.CurrentHand >= len(loaded.state.SplitHands) {
		return service.settle(ctx, loaded, playerID)
	}
	service.offerActions(playerID, blackjack.ContinuingActions())
	return nil
}

// Stand ends the active hand; the last standing hand triggers the dealer
// playout and settlement.
func (service *Service) Stand(ctx context.Context, playerID string) error {
	return service.underPlayerLock(ctx, playerID, func(ctx context.Context) error {
		loaded, err := service.loadTable(ctx, playerID)
		if err != nil {
			return err
		}
		if err := service.rejectPendingInsurance(ctx, loaded); err != nil {
			return err
		}
		if loaded.state.IsSplit() {
			return service.advanceSplit(ctx, loaded, playerID)
		}
		return service.settle(ctx, loaded, playerID)
	})
}

// Double doubles the stake on a two-card hand, draws exactly one card, and
// stands. The extra stake commits before the card is drawn.
func (service *Service) Double(ctx context.Context, playerID string) error {
	return service.underPlayerLock(ctx, playerID, func(ctx context.Context) error {
		loaded, err := service.loadTable(ctx, playerID)
		if err != nil {
			return err
		}
		if err := service.rejectPendingInsurance(ctx, loaded); err != nil {
			return err
		}
		if loaded.state.IsSplit() || loaded.state.Doubled {
			return fmt.Errorf("%w: double", ErrActionUnavailable)
		}
		hand, _, err := service.cache.GetHand(ctx, loaded.room.ID, playerID)
		if err != nil {
			return err
		}
		if len(hand) != 2 {
			return fmt.Errorf("%w: double after hitting", ErrActionUnavailable)
		}
		stakeAmount := loaded.state.Stake(0)
		owner, err := asset.NewOwnerID(playerID)
		if err != nil {
			return err
		}
		account, err := service.ledger.Account(ctx, owner, service.token)
		if err != nil {
			return err
		}
		if account.Amount < stakeAmount {
			return fmt.Errorf("%w: balance %d, stake %d", ErrInsufficientFunds, account.Amount, stakeAmount)
		}
		if err := service.stake(ctx, owner, stakeAmount, fmt.Sprintf("double room %s", loaded.room.ID)); err != nil {
			return err
		}
		loaded.state.Bets[0] = stakeAmount * 2
		loaded.state.Doubled = true
		if err := service.cache.SetState(ctx, loaded.room.ID, playerID, loaded.state); err != nil {
			return err
		}
		if _, err := service.dealToPlayer(ctx, loaded.room.ID, playerID); err != nil {
			return err
		}
		hand, _, err = service.cache.GetHand(ctx, loaded.room.ID, playerID)
		if err != nil {
			return err
		}
		if blackjack.CalculateTotal(hand) == blackjack.BlackjackTotal {
			return service.settleOutcome(ctx, loaded, playerID, blackjack.OutcomeBlackjack21)
		}
		return service.settle(ctx, loaded, playerID)
	})
}

// Surrender forfeits a two-card hand for half the stake back.
func (service *Service) Surrender(ctx context.Context, playerID string) error {
	return service.underPlayerLock(ctx, playerID, func(ctx context.Context) error {
		loaded, err := service.loadTable(ctx, playerID)
		if err != nil {
			return err
		}
		if err := service.rejectPendingInsurance(ctx, loaded); err != nil {
			return err
		}
		if loaded.state.IsSplit() || loaded.state.Doubled {
			return fmt.Errorf("%w: surrender", ErrActionUnavailable)
		}
		hand, _, err := service.cache.GetHand(ctx, loaded.room.ID, playerID)
		if err != nil {
			return err
		}
		if len(hand) != 2 {
			return fmt.Errorf("%w: surrender after hitting", ErrActionUnavailable)
		}
		loaded.state.Surrendered = true
		if err := service.cache.SetState(ctx, loaded.room.ID, playerID, loaded.state); err != nil {
			return err
		}
		return service.settle(ctx, loaded, playerID)
	})
}

// Split turns a starting pair into two hands of one card each with equal
// stakes, played left to right with hit/stand only.
func (service *Service) Split(ctx context.Context, playerID string) error {
	return service.underPlayerLock(ctx, playerID, func(ctx context.Context) error {
		loaded, err := service.loadTable(ctx, playerID)
		if err != nil {
			return err
		}
		if err := service.rejectPendingInsurance(ctx, loaded); err != nil {
			return err
		}
		if loaded.state.IsSplit() {
			return fmt.Errorf("%w: already split", ErrAlreadyActioned)
		}
		hand, _, err := service.cache.GetHand(ctx, loaded.room.ID, playerID)
		if err != nil {
			return err
		}
		if !blackjack.IsPair(hand) {
			return fmt.Errorf("%w: split requires a pair", ErrActionUnavailable)
		}
		stakeAmount := loaded.state.Stake(0)
		owner, err := asset.NewOwnerID(playerID)
		if err != nil {
			return err
		}
		account, err := service.ledger.Account(ctx, owner, service.token)
		if err != nil {
			return err
		}
		if account.Amount < stakeAmount {
			return fmt.Errorf("%w: balance %d, stake %d", ErrInsufficientFunds, account.Amount, stakeAmount)
		}
		if err := service.stake(ctx, owner, stakeAmount, fmt.Sprintf("split room %s", loaded.room.ID)); err != nil {
			return err
		}
		loaded.state.SplitHands = [][]blackjack.Rank{{hand[0]}, {hand[1]}}
		loaded.state.Bets = []int64{stakeAmount, stakeAmount}
		loaded.state.CurrentHand = 0
		if err := service.cache.SetState(ctx, loaded.room.ID, playerID, loaded.state); err != nil {
			return err
		}
		if err := service.cache.DeleteHand(ctx, loaded.room.ID, playerID); err != nil {
			return err
		}
		service.offerActions(playerID, blackjack.ContinuingActions())
		return nil
	})
}

func (service *Service) playerHands(ctx context.Context, loaded table, playerID string) ([][]blackjack.Rank, error) {
	if loaded.state.IsSplit() {
		return loaded.state.SplitHands, nil
	}
	hand, found, err := service.cache.GetHand(ctx, loaded.room.ID, playerID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoActiveHand
	}
	return [][]blackjack.Rank{hand}, nil
}

// settle finishes the player's table: dealer playout when any hand is still
// live, outcome and payout per hand, hand teardown, and the room reset once
// the last seated hand settles.
func (service *Service) settle(ctx context.Context, loaded table, playerID string) error {
	return service.settleOutcome(ctx, loaded, playerID, "")
}

// settleOutcome tears the table down. A non-empty forced outcome applies to
// every hand and skips the dealer playout: a hand hit to twenty-one pays out
// on the spot, and a dealer blackjack surfaced by the insurance decision
// loses the hand regardless of its cards.
func (service *Service) settleOutcome(ctx context.Context, loaded table, playerID string, forced blackjack.Outcome) error {
	hands, err := service.playerHands(ctx, loaded, playerID)
	if err != nil {
		return err
	}

	anyLive := false
	if forced == "" && !loaded.state.Surrendered {
		for _, hand := range hands {
			if !blackjack.IsBust(hand) {
				anyLive = true
				break
			}
		}
	}

	dealerHand, _, err := service.cache.GetHand(ctx, loaded.room.ID, session.DealerHolder)
	if err != nil {
		return err
	}
	if anyLive {
		dealerHand, err = service.playDealer(ctx, loaded.room.ID, playerID, dealerHand)
		if err != nil {
			return err
		}
	}

	totalCredit := int64(0)
	for index, hand := range hands {
		stakeAmount := loaded.state.Stake(index)
		outcome := blackjack.OutcomeLose
		switch {
		case loaded.state.Surrendered:
			totalCredit += blackjack.HalfStake(stakeAmount)
		case forced != "":
			outcome = forced
			totalCredit += blackjack.PayoutAmount(forced, stakeAmount)
		default:
			outcome = blackjack.ResolveOutcome(hand, dealerHand)
			totalCredit += blackjack.PayoutAmount(outcome, stakeAmount)
		}
		service.broadcaster.ToPlayer(playerID, events.Event{
			Name:    events.EventGameOver,
			Payload: events.GameOver{Data: string(outcome)},
		})
	}
	if loaded.state.InsuranceTaken && len(dealerHand) >= 2 && blackjack.CalculateTotal(dealerHand[:2]) == blackjack.BlackjackTotal {
		totalCredit += blackjack.HalfStake(loaded.state.Stake(0))
	}

	if totalCredit > 0 {
		owner, err := asset.NewOwnerID(playerID)
		if err != nil {
			return err
		}
		if err := service.credit(ctx, owner, totalCredit, fmt.Sprintf("settle room %s", loaded.room.ID)); err != nil {
			return err
		}
	}

	if err := service.cache.DeleteHand(ctx, loaded.room.ID, playerID); err != nil {
		return err
	}
	if err := service.cache.DeleteState(ctx, loaded.room.ID, playerID); err != nil {
		return err
	}
	remaining, err := service.cache.CountStates(ctx, loaded.room.ID)
	if err != nil {
		return err
	}
	if remaining == 0 {
		if err := service.cache.DeleteRoom(ctx, loaded.room.ID); err != nil {
			return err
		}
		if err := service.coordinator.ResetRoom(ctx, loaded.room.ID); err != nil {
			service.logger.Error("room reset failed", zap.String("room_id", loaded.room.ID), zap.Error(err))
		}
	}
	return nil
}

// playDealer reveals the hole card and draws until the dealer stands. A
// dealer already at or past the stand total, finished by an earlier
// settlement in the same room, only replays the reveal to this player.
func (service *Service) playDealer(ctx context.Context, roomID string, playerID string, dealerHand []blackjack.Rank) ([]blackjack.Rank, error) {
	if len(dealerHand) > 0 {
		service.broadcaster.ToPlayer(playerID, events.Event{
			Name:    events.EventDeal,
			Payload: events.Deal{IsPlayer: false, Card: string(dealerHand[0])},
		})
	}
	for blackjack.DealerShouldDraw(dealerHand) {
		service.paceFn(ctx)
		card, err := service.draw(ctx, roomID)
		if err != nil {
			return nil, err
		}
		dealerHand = append(dealerHand, card)
		service.broadcaster.ToPlayer(playerID, events.Event{
			Name:    events.EventDeal,
			Payload: events.Deal{IsPlayer: false, Card: string(card)},
		})
	}
	if err := service.cache.SetHand(ctx, roomID, session.DealerHolder, dealerHand); err != nil {
		return nil, err
	}
	return dealerHand, nil
}
