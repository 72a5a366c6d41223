// Package pen translates the turtle pen into world edits.
package pen

import (
	"math"

	"turtlecraft.ai/internal/protocol"
	"turtlecraft.ai/internal/sim/motion"
)

// State is the pen configuration. Item 0 means "whatever is in hand".
type State struct {
	Down bool
	Item int
	Uses int
}

// Bounds is the valid vertical block range of the world.
type Bounds struct {
	MinY int
	MaxY int
}

func (b Bounds) clamp(y int) int {
	if b.MaxY < b.MinY {
		return y
	}
	if y < b.MinY {
		return b.MinY
	}
	if y > b.MaxY {
		return b.MaxY
	}
	return y
}

// Cell is the block column the avatar occupies.
type Cell struct {
	X int
	Y int
	Z int
}

func CellOf(p motion.Position) Cell {
	return Cell{X: floor(p.X), Y: floor(p.Y), Z: floor(p.Z)}
}

func floor(v float64) int {
	return int(math.Floor(v))
}

// Draw returns the edits for a pen-down mark under p: dig the block one below
// the avatar, then place the held item on top of the block two below. A raised
// pen yields nothing.
//
// Cells are found with floor, not truncation toward zero. The two agree for
// positive coordinates; at x = -0.5 floor gives -1, the block the avatar
// actually stands in, where truncation would give 0.
func Draw(st State, p motion.Position, b Bounds) []any {
	if !st.Down {
		return nil
	}
	c := CellOf(p)
	return []any{
		protocol.DigMsg{Type: protocol.TypeDig, X: c.X, Y: b.clamp(c.Y - 1), Z: c.Z},
		protocol.PlaceMsg{
			Type: protocol.TypePlace,
			X:    c.X,
			Y:    b.clamp(c.Y - 2),
			Z:    c.Z,
			Face: protocol.FaceTop,
			Item: st.Item,
		},
	}
}

// Configure is the inventory message to send whenever the pen item changes.
func Configure(st State) protocol.HoldMsg {
	return protocol.HoldMsg{Type: protocol.TypeHold, Item: st.Item, Uses: st.Uses}
}
