package app

import (
	"fmt"

	"sats-arena/internal/domain"
)

// PlatformMap is the static answer geometry of one area.
type PlatformMap struct {
	platforms []domain.Platform
	joinZone  domain.Box
}

// NewPlatformMap validates the platform set. Indices are reassigned in order.
func NewPlatformMap(platforms []domain.Platform, joinZone domain.Box) (*PlatformMap, error) {
	if len(platforms) == 0 {
		return nil, fmt.Errorf("platform map: no platforms")
	}
	out := make([]domain.Platform, len(platforms))
	for i, p := range platforms {
		if p.OnRadius <= 0 {
			return nil, fmt.Errorf("platform %d: on radius must be positive", i)
		}
		if p.NearRadius <= p.OnRadius {
			return nil, fmt.Errorf("platform %d: near radius %.2f must exceed on radius %.2f", i, p.NearRadius, p.OnRadius)
		}
		p.Index = i
		out[i] = p
	}
	return &PlatformMap{platforms: out, joinZone: joinZone}, nil
}

// Len returns the number of platforms.
func (m *PlatformMap) Len() int { return len(m.platforms) }

// Platforms returns a copy of the platform set.
func (m *PlatformMap) Platforms() []domain.Platform {
	out := make([]domain.Platform, len(m.platforms))
	copy(out, m.platforms)
	return out
}

// Label returns the display label for platform i.
func (m *PlatformMap) Label(i int) string {
	if i < 0 || i >= len(m.platforms) {
		return ""
	}
	return m.platforms[i].Label
}

// InJoinZone reports whether pos lies inside the area's join zone.
func (m *PlatformMap) InJoinZone(pos domain.Vec3) bool {
	return m.joinZone.Contains(pos)
}

// Classify returns the platform the position is on and the platform it is near.
// Distances are horizontal (x/z); platforms sit on the ground and player height
// must not affect detection. When zones overlap the closest center wins. A
// position that is on a platform reports the same index for near.
func (m *PlatformMap) Classify(pos domain.Vec3) (on, near int) {
	on, near = domain.NoPlatform, domain.NoPlatform
	bestOn, bestNear := 0.0, 0.0
	for i, p := range m.platforms {
		dx := pos.X - p.Center.X
		dz := pos.Z - p.Center.Z
		d := dx*dx + dz*dz
		if d <= p.OnRadius*p.OnRadius && (on == domain.NoPlatform || d < bestOn) {
			on, bestOn = i, d
		}
		if d <= p.NearRadius*p.NearRadius && (near == domain.NoPlatform || d < bestNear) {
			near, bestNear = i, d
		}
	}
	if on != domain.NoPlatform {
		near = on
	}
	return on, near
}
