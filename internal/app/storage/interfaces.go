// Package storage defines the persistence interfaces for the service
// registry. Implementations live in the memory and postgres subpackages.
package storage

import (
	"context"

	"github.com/cuidalink/service-registry/internal/app/domain/token"
)

// TokenStore persists service tokens and the monotonic id counter.
//
// Id allocation is split in two so the registry can call the ownership
// ledger between choosing an id and committing: NextTokenID peeks the
// counter without advancing it, and the counter only moves when the token
// carrying that id is committed. The registry serializes all mutating calls,
// so the peek-then-commit window is never raced.
type TokenStore interface {
	// NextTokenID returns the id the next committed token will receive.
	NextTokenID(ctx context.Context) (uint64, error)
	// CreateToken commits a new token. The token's ID must equal the value
	// NextTokenID reported; the counter advances with the commit.
	CreateToken(ctx context.Context, tok token.Token) (token.Token, error)
	// GetToken fetches a token by id.
	GetToken(ctx context.Context, id uint64) (token.Token, error)
	// UpdateToken replaces an existing token's mutable fields.
	UpdateToken(ctx context.Context, tok token.Token) (token.Token, error)
	// ApplyTransition commits a token update and, when evidence is non-nil,
	// the creation of the evidence token in one atomic step. The evidence
	// token's ID must equal the value NextTokenID reported.
	ApplyTransition(ctx context.Context, updated token.Token, evidence *token.Token) error
	// ListTokens returns every token, in id order.
	ListTokens(ctx context.Context) ([]token.Token, error)
}

// URITableStore persists the global state→URI configuration table.
type URITableStore interface {
	SetStateURI(ctx context.Context, st token.State, uri string) error
	// GetStateURI returns the configured URI for a state; the boolean is
	// false when no URI has been configured.
	GetStateURI(ctx context.Context, st token.State) (string, bool, error)
	ListStateURIs(ctx context.Context) (map[token.State]string, error)
}
