// Package wallet defines the contract to the external balance collaborator.
// The match core never mutates balances directly; it only reserves a stake
// at join time and commits or releases the hold at settlement.
package wallet

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownHold       = errors.New("unknown hold token")
	ErrHoldSpent         = errors.New("hold already spent with different terms")
)

// Wallet is the reserve/commit/release three-step contract. All calls must
// be idempotent per hold token so a retried settlement is safe.
//
// Commit credits amount of the hold to toUserID; any remainder of the hold
// is swept to the house account by the wallet provider.
type Wallet interface {
	Reserve(ctx context.Context, userID string, amount int64) (string, error)
	Commit(ctx context.Context, holdToken, toUserID string, amount int64) error
	Release(ctx context.Context, holdToken string) error
}

type holdState int

const (
	holdHeld holdState = iota
	holdCommitted
	holdReleased
)

type hold struct {
	userID   string
	amount   int64
	state    holdState
	toUserID string
	paid     int64
}

// MemoryWallet is the in-process implementation used in development and
// tests when no wallet provider is configured.
type MemoryWallet struct {
	mu       sync.Mutex
	balances map[string]int64
	holds    map[string]*hold
}

// HouseAccount receives commit remainders (the platform fee).
const HouseAccount = "house"

func NewMemoryWallet() *MemoryWallet {
	return &MemoryWallet{
		balances: make(map[string]int64),
		holds:    make(map[string]*hold),
	}
}

// Deposit funds an account. Test/dev helper; the real provider owns funding.
func (w *MemoryWallet) Deposit(userID string, amount int64) {
	w.mu.Lock()
	w.balances[userID] += amount
	w.mu.Unlock()
}

// Balance returns the free (unreserved) balance of an account.
func (w *MemoryWallet) Balance(userID string) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[userID]
}

func (w *MemoryWallet) Reserve(ctx context.Context, userID string, amount int64) (string, error) {
	if amount <= 0 {
		return "", ErrInsufficientFunds
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balances[userID] < amount {
		return "", ErrInsufficientFunds
	}
	w.balances[userID] -= amount
	token := uuid.NewString()
	w.holds[token] = &hold{userID: userID, amount: amount}
	return token, nil
}

func (w *MemoryWallet) Commit(ctx context.Context, holdToken, toUserID string, amount int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, ok := w.holds[holdToken]
	if !ok {
		return ErrUnknownHold
	}
	switch h.state {
	case holdCommitted:
		// idempotent replay with identical terms
		if h.toUserID == toUserID && h.paid == amount {
			return nil
		}
		return ErrHoldSpent
	case holdReleased:
		return ErrHoldSpent
	}
	if amount < 0 || amount > h.amount {
		return ErrHoldSpent
	}
	w.balances[toUserID] += amount
	if rem := h.amount - amount; rem > 0 {
		w.balances[HouseAccount] += rem
	}
	h.state = holdCommitted
	h.toUserID = toUserID
	h.paid = amount
	return nil
}

func (w *MemoryWallet) Release(ctx context.Context, holdToken string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, ok := w.holds[holdToken]
	if !ok {
		return ErrUnknownHold
	}
	switch h.state {
	case holdReleased:
		return nil // idempotent
	case holdCommitted:
		return ErrHoldSpent
	}
	w.balances[h.userID] += h.amount
	h.state = holdReleased
	return nil
}
