package models

import (
	"time"

	"grantflow/pkg/domain"
	dErrors "grantflow/pkg/domain-errors"
	"grantflow/pkg/platform/addrs"
)

// Pool is the fund-custody aggregate. It is bound to exactly one profile and
// one strategy instance for its whole life.
//
// Invariants:
//   - Balance changes only through fee-adjusted credits and
//     strategy-authorized debits; it never goes negative
//   - StrategyID is immutable after creation; only that strategy may debit
//   - Lifetime debits never exceed lifetime net credits (follows from the
//     two rules above)
type Pool struct {
	ID         domain.PoolID     `json:"id"`
	ProfileID  domain.ProfileID  `json:"profile_id"`
	StrategyID domain.StrategyID `json:"strategy_id"`
	Token      domain.Address    `json:"token"`
	Metadata   domain.Metadata   `json:"metadata"`
	Balance    int64             `json:"balance"`
	Admin      domain.Address    `json:"admin"`
	Managers   []domain.Address  `json:"managers"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// NewPool validates the creation parameters. The creator becomes the pool
// admin.
func NewPool(id domain.PoolID, profileID domain.ProfileID, strategyID domain.StrategyID, tokenAddr domain.Address, metadata domain.Metadata, admin domain.Address, managers []domain.Address, now time.Time) (*Pool, error) {
	if id == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "pool id must be reserved before creation")
	}
	if profileID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "pool requires a profile")
	}
	if strategyID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "pool requires a strategy")
	}
	if tokenAddr.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "pool requires a token asset")
	}
	if admin.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "pool requires an admin")
	}
	return &Pool{
		ID:         id,
		ProfileID:  profileID,
		StrategyID: strategyID,
		Token:      tokenAddr,
		Metadata:   metadata,
		Admin:      admin,
		Managers:   addrs.Dedupe(managers),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// IsAdmin reports whether the identity holds the pool admin role.
func (p *Pool) IsAdmin(identity domain.Address) bool {
	return !identity.IsZero() && identity == p.Admin
}

// IsManager reports whether the identity may invoke strategy-administrative
// operations. The admin is implicitly a manager.
func (p *Pool) IsManager(identity domain.Address) bool {
	return p.IsAdmin(identity) || addrs.Contains(p.Managers, identity)
}

// CanDebit checks a debit against the balance without applying it.
func (p *Pool) CanDebit(strategyID domain.StrategyID, amount int64) error {
	if strategyID != p.StrategyID {
		return dErrors.New(dErrors.CodeUnauthorized, "only the bound strategy may debit its pool")
	}
	if amount <= 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "debit amount must be positive")
	}
	if amount > p.Balance {
		return dErrors.Newf(dErrors.CodeInsufficientFunds, "debit %d exceeds pool balance %d", amount, p.Balance)
	}
	return nil
}

// ApplyDebit decrements the balance. Call CanDebit first.
func (p *Pool) ApplyDebit(amount int64, now time.Time) {
	p.Balance -= amount
	p.UpdatedAt = now
}

// ApplyCredit adds a net funding amount to the balance.
func (p *Pool) ApplyCredit(net int64, now time.Time) {
	p.Balance += net
	p.UpdatedAt = now
}
