package transform

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"klipper-go-transform/pkg/errors"
)

type recorder struct {
	name string
	pos  Position
}

func (r *recorder) GetPosition() Position           { return r.pos }
func (r *recorder) Move(p Position, _ float64) error { r.pos = p; return nil }
func (r *recorder) TransformName() string            { return r.name }

// offset shifts X by dx on the way down.
type offset struct {
	dx   float64
	next PositionTransform
}

func (o *offset) GetPosition() Position {
	p := o.next.GetPosition()
	p[AxisX] -= o.dx
	return p
}

func (o *offset) Move(p Position, speed float64) error {
	p[AxisX] += o.dx
	return o.next.Move(p, speed)
}

func TestChainInsert(t *testing.T) {
	tail := &recorder{name: "toolhead"}
	c := NewChain(tail)
	if c.Head() != PositionTransform(tail) || c.Len() != 1 {
		t.Fatalf("new chain: head=%v len=%d", c.Head(), c.Len())
	}

	a := &offset{dx: 1}
	next, err := c.Insert(a)
	if err != nil {
		t.Fatal(err)
	}
	if next != PositionTransform(tail) {
		t.Errorf("first insert should forward to the tail")
	}
	a.next = next

	b := &offset{dx: 10}
	next, err = c.Insert(b)
	if err != nil {
		t.Fatal(err)
	}
	if next != PositionTransform(a) {
		t.Errorf("second insert should forward to the previous head")
	}
	b.next = next

	if err := c.Head().Move(Position{1, 2, 3, 4}, 10); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Position{12, 2, 3, 4}, tail.pos); diff != "" {
		t.Errorf("tail position (-want +got):\n%s", diff)
	}
	if got := c.Head().GetPosition(); got != (Position{1, 2, 3, 4}) {
		t.Errorf("head position = %v", got)
	}

	want := []string{"*transform.offset", "*transform.offset", "toolhead"}
	if diff := cmp.Diff(want, c.Names()); diff != "" {
		t.Errorf("Names (-want +got):\n%s", diff)
	}
}

func TestChainRejectsDuplicates(t *testing.T) {
	tail := &recorder{}
	c := NewChain(tail)
	a := &offset{}
	if _, err := c.Insert(a); err != nil {
		t.Fatal(err)
	}
	for _, tr := range []PositionTransform{a, tail, nil} {
		if _, err := c.Insert(tr); !errors.Is(err, errors.ErrTransformChain) {
			t.Errorf("Insert(%v) = %v, want chain error", tr, err)
		}
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d", c.Len())
	}
}

func TestPosition(t *testing.T) {
	p := PositionFromSlice([]float64{1, 2})
	if p != (Position{1, 2, 0, 0}) {
		t.Errorf("PositionFromSlice = %v", p)
	}
	s := p.Slice()
	s[0] = 9
	if p.X() != 1 {
		t.Error("Slice must not alias the position")
	}
	if got := (Position{1, 2.5, 3, -0.25}).String(); got != "X:1.000 Y:2.500 Z:3.000 E:-0.250" {
		t.Errorf("String = %q", got)
	}
}
