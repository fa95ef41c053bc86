package world

import (
	"sync"

	"sats-arena/internal/domain"
)

// Positions tracks the last reported position of every connected player.
// Lookups are synchronous so the tick loop never waits on a client.
type Positions struct {
	mu  sync.RWMutex
	pos map[string]domain.Vec3
}

func NewPositions() *Positions {
	return &Positions{pos: make(map[string]domain.Vec3)}
}

func (p *Positions) Update(playerID string, v domain.Vec3) {
	p.mu.Lock()
	p.pos[playerID] = v
	p.mu.Unlock()
}

func (p *Positions) Remove(playerID string) {
	p.mu.Lock()
	delete(p.pos, playerID)
	p.mu.Unlock()
}

func (p *Positions) Position(playerID string) (domain.Vec3, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.pos[playerID]
	return v, ok
}
