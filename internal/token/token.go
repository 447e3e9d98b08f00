// Package token defines the fungible-token collaborator contract the ledger
// moves funds through. The engine never holds token state itself; it only
// instructs a Token implementation and treats failures as TransferFailed.
package token

import (
	"context"
	"errors"

	"grantflow/pkg/domain"
)

// Transfer failure facts. The ledger wraps these into coded domain errors.
var (
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient token allowance")
	ErrUnknownAsset          = errors.New("unknown asset")
)

// Token is the fungible-asset interface with transferFrom/transfer/
// balanceOf/allowance semantics. Amounts are opaque integer base units.
type Token interface {
	// TransferFrom moves funds from a holder who previously approved the
	// spender. Fails with ErrInsufficientBalance or ErrInsufficientAllowance.
	TransferFrom(ctx context.Context, spender, from, to domain.Address, amount int64) error
	// Transfer moves the sender's own funds.
	Transfer(ctx context.Context, from, to domain.Address, amount int64) error
	BalanceOf(ctx context.Context, holder domain.Address) (int64, error)
	Allowance(ctx context.Context, owner, spender domain.Address) (int64, error)
	Approve(ctx context.Context, owner, spender domain.Address, amount int64) error
}

// Bank resolves asset identifiers to their token interface. Pools reference
// assets by address; the bank is how the ledger reaches the right one.
type Bank interface {
	Token(asset domain.Address) (Token, error)
}
