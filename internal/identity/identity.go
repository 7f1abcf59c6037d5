// Package identity exposes the consumed profile collaborator: a validated
// bundle for an already-authenticated caller. Authentication itself is
// out of scope; the core trusts the snapshot as the player's pre-action
// balance and version.
package identity

import (
	"context"

	"github.com/MarkoPoloResearchLab/jackhouse/pkg/asset"
)

// Profile is the player-facing identity slice of the bundle.
type Profile struct {
	UserID      string
	DisplayName string
}

// AssetSnapshot is the balance view taken when the bundle was resolved.
type AssetSnapshot struct {
	Amount  int64
	Version int64
}

// Bundle is the validated identity/asset view handed to game flows.
type Bundle struct {
	Profile Profile
	Asset   AssetSnapshot
}

// Provider resolves bundles for authenticated players.
type Provider interface {
	Resolve(ctx context.Context, userID string) (Bundle, error)
}

// LedgerProvider resolves bundles straight from the asset ledger, letting
// the core run without the external profile service.
type LedgerProvider struct {
	ledger *asset.Service
	token  asset.TokenKind
}

// NewLedgerProvider wires a LedgerProvider.
func NewLedgerProvider(ledger *asset.Service, token asset.TokenKind) *LedgerProvider {
	return &LedgerProvider{ledger: ledger, token: token}
}

// Resolve implements Provider.
func (provider *LedgerProvider) Resolve(ctx context.Context, userID string) (Bundle, error) {
	owner, err := asset.NewOwnerID(userID)
	if err != nil {
		return Bundle{}, err
	}
	account, err := provider.ledger.Account(ctx, owner, provider.token)
	if err != nil {
		return Bundle{}, err
	}
	return Bundle{
		Profile: Profile{UserID: owner.String()},
		Asset: AssetSnapshot{
			Amount:  account.Amount,
			Version: account.Version,
		},
	}, nil
}
