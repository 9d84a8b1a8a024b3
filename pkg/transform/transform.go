// Package transform defines the move transform chain that sits between the
// G-code coordinate tracker and the toolhead.
//
// Each participant rewrites the position and speed of a move before handing
// it to the next participant, and rewrites the position it reports upstream.
// The tail of the chain is the motion substrate itself.
package transform

import (
	"fmt"

	"klipper-go-transform/pkg/errors"
)

// Axis indexes into a Position.
const (
	AxisX = 0
	AxisY = 1
	AxisZ = 2
	AxisE = 3
)

// Position is a logical toolhead position: x, y, z and extruder, in mm.
type Position [4]float64

// X returns the x component.
func (p Position) X() float64 { return p[AxisX] }

// Y returns the y component.
func (p Position) Y() float64 { return p[AxisY] }

// Z returns the z component.
func (p Position) Z() float64 { return p[AxisZ] }

// E returns the extruder component.
func (p Position) E() float64 { return p[AxisE] }

// Slice returns the position as a freshly allocated slice, the shape used in
// status reports.
func (p Position) Slice() []float64 {
	return []float64{p[0], p[1], p[2], p[3]}
}

// PositionFromSlice converts a status style slice back into a Position.
// Missing trailing components are zero.
func PositionFromSlice(s []float64) Position {
	var p Position
	copy(p[:], s)
	return p
}

// String renders the position the way M114 does.
func (p Position) String() string {
	return fmt.Sprintf("X:%.3f Y:%.3f Z:%.3f E:%.3f", p[0], p[1], p[2], p[3])
}

// PositionTransform is implemented by every participant in the chain.
//
// GetPosition reports the participant's view of the current position: the
// position reported by its next participant with its own pending adjustment
// removed. Move applies the pending adjustment to newPos and forwards the
// result. Participants only touch the components they own.
type PositionTransform interface {
	GetPosition() Position
	Move(newPos Position, speed float64) error
}

// Chain is the ordered list of transforms in front of a fixed tail.
// Participants are inserted at the head; the chain never reorders them.
type Chain struct {
	tail    PositionTransform
	members []PositionTransform // head first, tail excluded
}

// NewChain creates a chain whose only member is the motion substrate.
func NewChain(tail PositionTransform) *Chain {
	return &Chain{tail: tail}
}

// Head returns the participant that receives moves first.
func (c *Chain) Head() PositionTransform {
	if len(c.members) == 0 {
		return c.tail
	}
	return c.members[0]
}

// Tail returns the motion substrate.
func (c *Chain) Tail() PositionTransform {
	return c.tail
}

// Insert places t at the head of the chain and returns the participant t
// must forward to. A participant can be inserted only once.
func (c *Chain) Insert(t PositionTransform) (PositionTransform, error) {
	if t == nil {
		return nil, errors.TransformChainError("cannot insert nil transform")
	}
	if c.Contains(t) {
		return nil, errors.TransformChainError(fmt.Sprintf("transform %T already installed", t))
	}
	next := c.Head()
	c.members = append([]PositionTransform{t}, c.members...)
	return next, nil
}

// Contains reports whether t is already part of the chain.
func (c *Chain) Contains(t PositionTransform) bool {
	if t == c.tail {
		return true
	}
	for _, m := range c.members {
		if m == t {
			return true
		}
	}
	return false
}

// Len returns the number of participants including the tail.
func (c *Chain) Len() int {
	return len(c.members) + 1
}

// Names lists the participants head first using their Go type names.
func (c *Chain) Names() []string {
	names := make([]string, 0, c.Len())
	for _, m := range c.members {
		names = append(names, typeName(m))
	}
	return append(names, typeName(c.tail))
}

// Named lets a participant choose the name Names reports for it.
type Named interface {
	TransformName() string
}

func typeName(t PositionTransform) string {
	if n, ok := t.(Named); ok {
		return n.TransformName()
	}
	return fmt.Sprintf("%T", t)
}
