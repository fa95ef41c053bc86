package app

import "sync"

// DefaultStartingBalance is the balance of a player the ledger has never seen.
const DefaultStartingBalance = 5

// Ledger holds per-player sats balances. Every mutation goes through Adjust, which
// serializes on a single mutex so no negative balance is ever observable.
type Ledger struct {
	mu       sync.Mutex
	initial  int
	balances map[string]int
}

func NewLedger(initial int) *Ledger {
	if initial < 0 {
		initial = 0
	}
	return &Ledger{
		initial:  initial,
		balances: make(map[string]int),
	}
}

// Adjust applies delta to the player's balance. It returns false and leaves the
// balance unchanged when the result would be negative.
func (l *Ledger) Adjust(playerID string, delta int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.balances[playerID]
	if !ok {
		current = l.initial
	}
	next := current + delta
	if next < 0 {
		return false
	}
	l.balances[playerID] = next
	return true
}

// Balance returns the current balance, or the starting balance for unseen players.
func (l *Ledger) Balance(playerID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[playerID]; ok {
		return b
	}
	return l.initial
}

// Load replaces the balance with a persisted value. Negative values clamp to zero.
func (l *Ledger) Load(playerID string, balance int) {
	if balance < 0 {
		balance = 0
	}
	l.mu.Lock()
	l.balances[playerID] = balance
	l.mu.Unlock()
}

// Forget drops the player's balance once it has been persisted.
func (l *Ledger) Forget(playerID string) {
	l.mu.Lock()
	delete(l.balances, playerID)
	l.mu.Unlock()
}
