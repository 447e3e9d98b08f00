// Package testutil provides common helpers for service and handler tests.
package testutil

import (
	"context"
	"time"

	"grantflow/pkg/domain"
	"grantflow/pkg/requestcontext"
)

// Ctx builds a context carrying a caller and a fixed clock, mirroring what
// the middleware chain sets up for a real request.
func Ctx(caller domain.Address, now time.Time) context.Context {
	ctx := requestcontext.WithCaller(context.Background(), caller)
	return requestcontext.WithTime(ctx, now)
}

// CtxAt shifts an existing test context to a new instant, keeping the caller.
func CtxAt(ctx context.Context, now time.Time) context.Context {
	return requestcontext.WithTime(ctx, now)
}

// Addr builds a deterministic test address from a single seed byte.
func Addr(seed byte) domain.Address {
	const hexdigits = "0123456789abcdef"
	b := make([]byte, 40)
	for i := range b {
		b[i] = hexdigits[int(seed)%16]
	}
	// Avoid the zero address for seed 0.
	b[39] = hexdigits[(int(seed)%15)+1]
	return domain.Address("0x" + string(b))
}
