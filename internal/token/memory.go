package token

import (
	"context"
	"sync"

	"grantflow/pkg/domain"
)

// MemoryBank is an in-process bank of in-memory tokens. It backs tests and
// single-node deployments; production deployments plug a real settlement
// adapter behind the same interfaces.
type MemoryBank struct {
	mu     sync.Mutex
	assets map[domain.Address]*MemoryToken
}

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{assets: make(map[domain.Address]*MemoryToken)}
}

// Token returns the token for an asset, creating it on first use so dev
// wiring does not need an asset registry.
func (b *MemoryBank) Token(asset domain.Address) (Token, error) {
	if asset.IsZero() {
		return nil, ErrUnknownAsset
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.assets[asset]
	if !ok {
		t = NewMemoryToken()
		b.assets[asset] = t
	}
	return t, nil
}

// Mint credits a holder on the given asset. Test and dev helper.
func (b *MemoryBank) Mint(asset, holder domain.Address, amount int64) {
	t, _ := b.Token(asset)
	t.(*MemoryToken).Mint(holder, amount)
}

// MemoryToken is a mutex-guarded balance/allowance table mirroring ERC-20
// semantics closely enough for the engine's needs.
type MemoryToken struct {
	mu         sync.Mutex
	balances   map[domain.Address]int64
	allowances map[domain.Address]map[domain.Address]int64
}

func NewMemoryToken() *MemoryToken {
	return &MemoryToken{
		balances:   make(map[domain.Address]int64),
		allowances: make(map[domain.Address]map[domain.Address]int64),
	}
}

func (t *MemoryToken) Mint(holder domain.Address, amount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[holder] += amount
}

func (t *MemoryToken) TransferFrom(_ context.Context, spender, from, to domain.Address, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if spender != from {
		if t.allowances[from][spender] < amount {
			return ErrInsufficientAllowance
		}
	}
	if t.balances[from] < amount {
		return ErrInsufficientBalance
	}
	if spender != from {
		t.allowances[from][spender] -= amount
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}

func (t *MemoryToken) Transfer(_ context.Context, from, to domain.Address, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.balances[from] < amount {
		return ErrInsufficientBalance
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}

func (t *MemoryToken) BalanceOf(_ context.Context, holder domain.Address) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[holder], nil
}

func (t *MemoryToken) Allowance(_ context.Context, owner, spender domain.Address) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowances[owner][spender], nil
}

func (t *MemoryToken) Approve(_ context.Context, owner, spender domain.Address, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[domain.Address]int64)
	}
	t.allowances[owner][spender] = amount
	return nil
}
