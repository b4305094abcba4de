// Package ledger abstracts the external ownership ledger the registry mints
// and transfers tokens through. The registry treats every call as
// all-or-nothing: any failure rolls back the whole in-progress operation.
package ledger

import (
	"context"
	"errors"
)

var (
	// ErrUnknownToken indicates the ledger has no owner for the id.
	ErrUnknownToken = errors.New("ledger: unknown token")
	// ErrAlreadyMinted indicates the id was minted before.
	ErrAlreadyMinted = errors.New("ledger: token already minted")
	// ErrNotOwner indicates the from principal does not hold the token.
	ErrNotOwner = errors.New("ledger: sender does not own token")
)

// Ledger is the ownership store. Implementations must be safe for concurrent
// use.
type Ledger interface {
	// Mint assigns a previously unowned id to owner.
	Mint(ctx context.Context, owner string, id uint64) error
	// Transfer moves id from one principal to another.
	Transfer(ctx context.Context, from, to string, id uint64) error
	// OwnerOf returns the current holder of id.
	OwnerOf(ctx context.Context, id uint64) (string, error)
	// BalanceOf counts the tokens a principal holds.
	BalanceOf(ctx context.Context, owner string) (int, error)
}
