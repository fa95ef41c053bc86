package app

import "sats-arena/internal/domain"

// Zone is a circular proximity region on the ground plane. A player enters at
// EnterRadius and only leaves beyond ExitRadius, so standing on the border does
// not flicker.
type Zone struct {
	ID          string
	Center      domain.Vec3
	EnterRadius float64
	ExitRadius  float64
}

// ZoneHandler receives enter/exit transitions.
type ZoneHandler interface {
	OnEnter(playerID, zoneID string)
	OnExit(playerID, zoneID string)
}

// Trigger tracks which players are inside which zones.
type Trigger struct {
	zones  []Zone
	inside map[string]map[string]struct{}
}

func NewTrigger(zones []Zone) *Trigger {
	out := make([]Zone, 0, len(zones))
	for _, z := range zones {
		if z.ExitRadius < z.EnterRadius {
			z.ExitRadius = z.EnterRadius
		}
		out = append(out, z)
	}
	return &Trigger{zones: out, inside: make(map[string]map[string]struct{})}
}

// Update samples every player once and reports transitions to h.
func (t *Trigger) Update(players []string, positions PositionSource, h ZoneHandler) {
	for _, id := range players {
		pos, ok := positions.Position(id)
		if !ok {
			continue
		}
		in := t.inside[id]
		for _, z := range t.zones {
			dx := pos.X - z.Center.X
			dz := pos.Z - z.Center.Z
			d := dx*dx + dz*dz
			_, was := in[z.ID]
			switch {
			case !was && d <= z.EnterRadius*z.EnterRadius:
				if in == nil {
					in = make(map[string]struct{})
					t.inside[id] = in
				}
				in[z.ID] = struct{}{}
				h.OnEnter(id, z.ID)
			case was && d > z.ExitRadius*z.ExitRadius:
				delete(in, z.ID)
				h.OnExit(id, z.ID)
			}
		}
	}
}

// Inside reports whether the player is currently inside the zone.
func (t *Trigger) Inside(playerID, zoneID string) bool {
	_, ok := t.inside[playerID][zoneID]
	return ok
}

// Forget drops a player's zone memberships without firing exits.
func (t *Trigger) Forget(playerID string) {
	delete(t.inside, playerID)
}
