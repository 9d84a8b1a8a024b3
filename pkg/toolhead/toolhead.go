// Package toolhead is the motion substrate at the tail of the move
// transform chain. It validates moves against the axis limits, applies the
// velocity limits and records every accepted move. Step generation and
// lookahead planning live outside this host.
package toolhead

import (
	"fmt"
	"math"
	"strings"

	"klipper-go-transform/pkg/errors"
	"klipper-go-transform/pkg/log"
	"klipper-go-transform/pkg/metrics"
	"klipper-go-transform/pkg/transform"
)

const axisNames = "xyz"

// MoveRecord is one move accepted by the toolhead.
type MoveRecord struct {
	Start    transform.Position `yaml:"start" json:"start"`
	End      transform.Position `yaml:"end" json:"end"`
	Speed    float64            `yaml:"speed" json:"speed"`
	Velocity float64            `yaml:"velocity" json:"velocity"`
}

// String renders the record for logs and the CLI text output.
func (m MoveRecord) String() string {
	return fmt.Sprintf("%s -> %s speed=%.3f velocity=%.3f", m.Start, m.End, m.Speed, m.Velocity)
}

// Toolhead tracks the commanded position and homing state of a cartesian
// machine. It implements transform.PositionTransform.
type Toolhead struct {
	cfg       Config
	commanded transform.Position
	// limits is {min, max} per axis; min > max means the axis is not homed
	limits [3][2]float64
	moves  []MoveRecord
	logger *log.Logger
}

var _ transform.PositionTransform = (*Toolhead)(nil)

// New creates an unhomed toolhead at the origin.
func New(cfg Config) *Toolhead {
	th := &Toolhead{
		cfg:    cfg,
		logger: log.GetLogger("toolhead"),
	}
	th.ClearHomingState(axisNames)
	return th
}

// GetName returns the printer object name.
func (th *Toolhead) GetName() string { return "toolhead" }

// TransformName names the toolhead in chain listings.
func (th *Toolhead) TransformName() string { return "toolhead" }

// GetPosition returns the last commanded position.
func (th *Toolhead) GetPosition() transform.Position {
	return th.commanded
}

// Move validates and queues a move to newPos at speed mm/s.
func (th *Toolhead) Move(newPos transform.Position, speed float64) error {
	if speed <= 0 {
		return errors.KinematicsError(fmt.Sprintf("invalid speed %.3f", speed))
	}
	start := th.commanded
	var axesD [4]float64
	for i := range axesD {
		axesD[i] = newPos[i] - start[i]
	}
	moveD := math.Sqrt(axesD[0]*axesD[0] + axesD[1]*axesD[1] + axesD[2]*axesD[2])

	velocity := math.Min(speed, th.cfg.MaxVelocity)
	if moveD < 1e-9 {
		if axesD[transform.AxisE] == 0 {
			return nil
		}
		// extrude only move; xyz stay exactly where they were
		newPos[0], newPos[1], newPos[2] = start[0], start[1], start[2]
		velocity = speed
	} else {
		if err := th.checkEndstops(newPos, axesD); err != nil {
			return err
		}
		if axesD[transform.AxisZ] != 0 {
			zRatio := moveD / math.Abs(axesD[transform.AxisZ])
			velocity = math.Min(velocity, th.cfg.MaxZVelocity*zRatio)
		}
	}

	rec := MoveRecord{Start: start, End: newPos, Speed: speed, Velocity: velocity}
	th.moves = append(th.moves, rec)
	th.commanded = newPos
	metrics.ToolheadMoves.Inc()
	th.logger.Debug("move %s", rec)
	return nil
}

func (th *Toolhead) checkEndstops(end transform.Position, axesD [4]float64) error {
	for i := 0; i < 3; i++ {
		if axesD[i] == 0 {
			continue
		}
		lim := th.limits[i]
		if end[i] >= lim[0] && end[i] <= lim[1] {
			continue
		}
		if lim[0] > lim[1] {
			return errors.KinematicsError(fmt.Sprintf("Must home axis first: %s", end))
		}
		return errors.KinematicsBoundsError(axisNames[i:i+1], end[i], lim[0], lim[1])
	}
	return nil
}

// SetPosition sets the commanded position without moving. Axes named in
// homingAxes ("xz", "xyz") become homed.
func (th *Toolhead) SetPosition(pos transform.Position, homingAxes string) {
	th.commanded = pos
	for _, r := range strings.ToLower(homingAxes) {
		if axis := strings.IndexRune(axisNames, r); axis >= 0 {
			rail := th.cfg.Rails[axis]
			th.limits[axis] = [2]float64{rail.PositionMin, rail.PositionMax}
		}
	}
}

// ClearHomingState marks the named axes ("xz") as not homed.
func (th *Toolhead) ClearHomingState(axes string) {
	for _, r := range strings.ToLower(axes) {
		if axis := strings.IndexRune(axisNames, r); axis >= 0 {
			th.limits[axis] = [2]float64{1, -1}
		}
	}
}

// MotorOff forgets the homing state of every axis.
func (th *Toolhead) MotorOff() {
	th.ClearHomingState(axisNames)
	th.logger.Info("motors off, axes unhomed")
}

// HomedAxes returns the homed axes, e.g. "xyz".
func (th *Toolhead) HomedAxes() string {
	var sb strings.Builder
	for i := 0; i < 3; i++ {
		if th.limits[i][0] <= th.limits[i][1] {
			sb.WriteByte(axisNames[i])
		}
	}
	return sb.String()
}

// Rail returns the configured rail of an axis (0..2).
func (th *Toolhead) Rail(axis int) Rail {
	return th.cfg.Rails[axis]
}

// AxisMinimum returns the configured minimum of each axis.
func (th *Toolhead) AxisMinimum() transform.Position {
	var p transform.Position
	for i, r := range th.cfg.Rails {
		p[i] = r.PositionMin
	}
	return p
}

// AxisMaximum returns the configured maximum of each axis.
func (th *Toolhead) AxisMaximum() transform.Position {
	var p transform.Position
	for i, r := range th.cfg.Rails {
		p[i] = r.PositionMax
	}
	return p
}

// MaxZVelocity returns the Z velocity limit in mm/s.
func (th *Toolhead) MaxZVelocity() float64 {
	return th.cfg.MaxZVelocity
}

// Moves returns a copy of the accepted moves, oldest first.
func (th *Toolhead) Moves() []MoveRecord {
	return append([]MoveRecord(nil), th.moves...)
}

// ClearMoves drops the move log.
func (th *Toolhead) ClearMoves() {
	th.moves = nil
}

// GetStatus reports the toolhead state.
func (th *Toolhead) GetStatus() map[string]any {
	return map[string]any{
		"position":       th.commanded.Slice(),
		"axis_minimum":   th.AxisMinimum().Slice(),
		"axis_maximum":   th.AxisMaximum().Slice(),
		"homed_axes":     th.HomedAxes(),
		"max_velocity":   th.cfg.MaxVelocity,
		"max_accel":      th.cfg.MaxAccel,
		"max_z_velocity": th.cfg.MaxZVelocity,
		"move_count":     len(th.moves),
	}
}
