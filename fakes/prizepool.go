package fakes

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ts4z/cyclepot/model"
	"github.com/ts4z/cyclepot/payout"
)

// AllocateCall is one AllocateFunds invocation seen by FakePrizePool.
type AllocateCall struct {
	FeeBasisPoints int
	Shares         []model.WinnerShare
}

// FakePrizePool behaves like the payment contract: a successful allocation
// flips FundsAllocated.
type FakePrizePool struct {
	mu sync.Mutex

	Allocated bool
	Pool      *big.Int
	Rewards   map[string]*big.Int

	// AllocateErr fails the transaction.  If Lands is also set, the
	// allocation still happens on chain, like a receipt that timed out.
	// Either way, or when AllocateErr wraps payout.ErrTransactionReverted,
	// the hash of the sent transaction comes back with the error.
	AllocateErr error
	Lands       bool
	ReadErr     error

	Calls []AllocateCall
}

func NewFakePrizePool(pool int64) *FakePrizePool {
	return &FakePrizePool{Pool: big.NewInt(pool), Rewards: map[string]*big.Int{}}
}

func (p *FakePrizePool) FundsAllocated(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ReadErr != nil {
		return false, p.ReadErr
	}
	return p.Allocated, nil
}

func (p *FakePrizePool) TotalPool(ctx context.Context) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ReadErr != nil {
		return nil, p.ReadErr
	}
	return new(big.Int).Set(p.Pool), nil
}

func (p *FakePrizePool) AllocateFunds(ctx context.Context, feeBasisPoints int, shares []model.WinnerShare) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, AllocateCall{FeeBasisPoints: feeBasisPoints, Shares: shares})
	hash := fmt.Sprintf("0x%064x", len(p.Calls))
	if p.AllocateErr != nil {
		if p.Lands {
			p.Allocated = true
			return hash, p.AllocateErr
		}
		if errors.Is(p.AllocateErr, payout.ErrTransactionReverted) {
			return hash, p.AllocateErr
		}
		return "", p.AllocateErr
	}
	p.Allocated = true
	for _, s := range shares {
		amount := new(big.Int).Mul(p.Pool, big.NewInt(int64(s.PercentageBasisPoints)))
		amount.Div(amount, big.NewInt(10000))
		p.Rewards[s.Address] = amount
	}
	return hash, nil
}

func (p *FakePrizePool) RewardOf(ctx context.Context, address string) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.Rewards[address]; ok {
		return new(big.Int).Set(r), nil
	}
	return big.NewInt(0), nil
}

func (p *FakePrizePool) NumCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
