package blackjack

// DealerStandTotal is the first total at which the dealer stops drawing.
const DealerStandTotal = 17

// Outcome is the terminal state of one player hand.
type Outcome string

const (
	OutcomeBust        Outcome = "Bust"
	OutcomeBlackjack21 Outcome = "Blackjack21"
	OutcomeWin         Outcome = "Win"
	OutcomeLose        Outcome = "Lose"
	OutcomePush        Outcome = "Push"
)

// DealerShouldDraw reports whether the dealer keeps drawing.
func DealerShouldDraw(dealerCards []Rank) bool {
	return CalculateTotal(dealerCards) < DealerStandTotal
}

// ResolveOutcome computes the terminal outcome for a player hand against a
// finished dealer hand.
func ResolveOutcome(playerCards []Rank, dealerCards []Rank) Outcome {
	playerTotal := CalculateTotal(playerCards)
	dealerTotal := CalculateTotal(dealerCards)
	switch {
	case playerTotal > BlackjackTotal:
		return OutcomeBust
	case playerTotal == BlackjackTotal && dealerTotal != BlackjackTotal:
		return OutcomeBlackjack21
	case playerTotal == dealerTotal:
		return OutcomePush
	case dealerTotal > BlackjackTotal:
		return OutcomeWin
	case dealerTotal > playerTotal:
		return OutcomeLose
	default:
		return OutcomeWin
	}
}

// PayoutAmount is the house-to-player credit owed at settlement for a plain
// outcome: winning hands return double the stake, a push returns it.
// Insurance and surrender half-refunds are HalfStake credits layered on a
// Lose by the caller.
func PayoutAmount(outcome Outcome, stake int64) int64 {
	switch outcome {
	case OutcomeBlackjack21, OutcomeWin:
		return stake * 2
	case OutcomePush:
		return stake
	default:
		return 0
	}
}

// HalfStake is the insurance stake and the surrender/insurance refund.
func HalfStake(stake int64) int64 {
	return stake / 2
}
