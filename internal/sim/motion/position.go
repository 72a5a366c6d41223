package motion

import "turtlecraft.ai/internal/protocol"

// Position is the avatar pose. Equality is exact field-wise comparison.
type Position struct {
	X        float64
	Y        float64
	Z        float64
	Stance   float64
	Yaw      float64
	Pitch    float64
	OnGround bool
}

// Delta is a relative move/turn request.
type Delta struct {
	X     float64
	Y     float64
	Z     float64
	Yaw   float64
	Pitch float64
}

// Add returns p displaced by d. Stance follows Y.
func (p Position) Add(d Delta) Position {
	p.X += d.X
	p.Y += d.Y
	p.Z += d.Z
	p.Stance += d.Y
	p.Yaw += d.Yaw
	p.Pitch += d.Pitch
	return p
}

func (p Position) sameSpot(q Position) bool {
	return p.X == q.X && p.Y == q.Y && p.Z == q.Z && p.Stance == q.Stance
}

func FromMsg(m protocol.PositionMsg) Position {
	return Position{
		X:        m.X,
		Y:        m.Y,
		Z:        m.Z,
		Stance:   m.Stance,
		Yaw:      m.Yaw,
		Pitch:    m.Pitch,
		OnGround: m.OnGround,
	}
}

func (p Position) Msg() protocol.PositionMsg {
	return protocol.PositionMsg{
		Type:     protocol.TypePosition,
		X:        p.X,
		Y:        p.Y,
		Z:        p.Z,
		Stance:   p.Stance,
		Yaw:      p.Yaw,
		Pitch:    p.Pitch,
		OnGround: p.OnGround,
	}
}
