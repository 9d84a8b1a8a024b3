// G-Code G1 movement commands (and associated coordinate manipulation)
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package extras

import (
	"fmt"
	"strconv"
	"strings"

	"klipper-go-transform/pkg/config"
	"klipper-go-transform/pkg/errors"
	"klipper-go-transform/pkg/gcode"
	"klipper-go-transform/pkg/log"
	"klipper-go-transform/pkg/metrics"
	"klipper-go-transform/pkg/printer"
	"klipper-go-transform/pkg/toolhead"
	"klipper-go-transform/pkg/transform"
)

const defaultStateName = "default"

// gcodeState is a SAVE_GCODE_STATE snapshot.
type gcodeState struct {
	absoluteCoord   bool
	absoluteExtrude bool
	basePosition    transform.Position
	lastPosition    transform.Position
	homingPosition  transform.Position
	speed           float64
	speedFactor     float64
	extrudeFactor   float64
}

// GCodeMove tracks the G-code coordinate system and owns the move
// transform chain in front of the toolhead.
type GCodeMove struct {
	toolhead *toolhead.Toolhead
	chain    *transform.Chain
	ready    bool

	absoluteCoord   bool
	absoluteExtrude bool

	basePosition   transform.Position
	lastPosition   transform.Position
	homingPosition transform.Position

	// speed is in mm/s; speedFactor converts F (mm/min) and carries M220
	speed         float64
	speedFactor   float64
	extrudeFactor float64

	savedStates map[string]gcodeState
	logger      *log.Logger
}

// NewGCodeMove creates the coordinate tracker, registers its commands and
// hooks it to the printer's ready event.
func NewGCodeMove(p *printer.Printer, th *toolhead.Toolhead) (*GCodeMove, error) {
	gm := &GCodeMove{
		toolhead:        th,
		chain:           transform.NewChain(th),
		absoluteCoord:   true,
		absoluteExtrude: true,
		speed:           25.0,
		speedFactor:     1.0 / 60.0,
		extrudeFactor:   1.0,
		savedStates:     make(map[string]gcodeState),
		logger:          log.GetLogger("gcode_move"),
	}
	gm.lastPosition = th.GetPosition()
	metrics.TransformChainLength.Set(float64(gm.chain.Len()))

	p.RegisterEventHandler(printer.EventReady, func() error {
		gm.ready = true
		gm.ResetLastPosition()
		return nil
	})

	d := p.GCode()
	cmds := []struct {
		name string
		fn   gcode.Handler
		desc string
	}{
		{"G1", gm.cmdG1, ""},
		{"G0", gm.cmdG1, ""},
		{"G20", gm.cmdG20, ""},
		{"G21", func(*gcode.Command) error { return nil }, ""},
		{"M82", gm.cmdM82, ""},
		{"M83", gm.cmdM83, ""},
		{"G90", gm.cmdG90, ""},
		{"G91", gm.cmdG91, ""},
		{"G92", gm.cmdG92, ""},
		{"M220", gm.cmdM220, ""},
		{"M221", gm.cmdM221, ""},
		{"M114", gm.cmdM114, ""},
		{"SET_GCODE_OFFSET", gm.cmdSetGCodeOffset, "Set a virtual offset to g-code positions"},
		{"SAVE_GCODE_STATE", gm.cmdSaveGCodeState, "Save G-Code coordinate state"},
		{"RESTORE_GCODE_STATE", gm.cmdRestoreGCodeState, "Restore a previously saved G-Code state"},
		{"GET_POSITION", gm.cmdGetPosition, "Return information on the current location of the toolhead"},
	}
	for _, c := range cmds {
		if err := d.RegisterCommand(c.name, c.fn, c.desc); err != nil {
			return nil, err
		}
	}
	return gm, nil
}

// GetName implements config.Module.
func (gm *GCodeMove) GetName() string { return "gcode_move" }

// Chain returns the move transform chain.
func (gm *GCodeMove) Chain() *transform.Chain { return gm.chain }

// SetMoveTransform installs t at the head of the chain and returns the
// participant t must forward to.
func (gm *GCodeMove) SetMoveTransform(t transform.PositionTransform) (transform.PositionTransform, error) {
	next, err := gm.chain.Insert(t)
	if err != nil {
		return nil, err
	}
	metrics.TransformChainLength.Set(float64(gm.chain.Len()))
	gm.logger.WithField("chain", strings.Join(gm.chain.Names(), " -> ")).Info("move transform installed")
	return next, nil
}

// ResetLastPosition re-reads the position from the chain. It does nothing
// before the printer is ready.
func (gm *GCodeMove) ResetLastPosition() {
	if gm.ready {
		gm.lastPosition = gm.chain.Head().GetPosition()
	}
}

// Factors returns the extrude factor and the M220 speed factor as
// multipliers.
func (gm *GCodeMove) Factors() (extrudeFactor, speedFactor float64) {
	return gm.extrudeFactor, gm.speedFactor * 60.0
}

// HomingEnd moves the G-code origin of the homed axes to the homing
// position after the toolhead position was reset by G28.
func (gm *GCodeMove) HomingEnd(axes []int) {
	gm.ResetLastPosition()
	for _, axis := range axes {
		gm.basePosition[axis] = gm.homingPosition[axis]
	}
}

func (gm *GCodeMove) moveWithTransform(pos transform.Position, speed float64) error {
	return gm.chain.Head().Move(pos, speed)
}

// GCodePosition is the position in the G-code coordinate system.
func (gm *GCodeMove) GCodePosition() transform.Position {
	var p transform.Position
	for i := range p {
		p[i] = gm.lastPosition[i] - gm.basePosition[i]
	}
	p[transform.AxisE] /= gm.extrudeFactor
	return p
}

// GetStatus reports the coordinate state.
func (gm *GCodeMove) GetStatus() map[string]any {
	return map[string]any{
		"speed_factor":         gm.speedFactor * 60.0,
		"speed":                gm.speed / gm.speedFactor,
		"extrude_factor":       gm.extrudeFactor,
		"absolute_coordinates": gm.absoluteCoord,
		"absolute_extrude":     gm.absoluteExtrude,
		"homing_origin":        gm.homingPosition.Slice(),
		"position":             gm.lastPosition.Slice(),
		"gcode_position":       gm.GCodePosition().Slice(),
		"transforms":           gm.chain.Names(),
	}
}

func (gm *GCodeMove) cmdG1(cmd *gcode.Command) error {
	// nothing changes until every parameter parsed
	pos, speed := gm.lastPosition, gm.speed
	for i, axis := range "XYZ" {
		raw, ok := cmd.Params[string(axis)]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || !config.IsFinite(v) {
			return errors.GCodeParseError(cmd.Raw, "Unable to parse move")
		}
		if !gm.absoluteCoord {
			pos[i] += v
		} else {
			pos[i] = v + gm.basePosition[i]
		}
	}
	if raw, ok := cmd.Params["E"]; ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || !config.IsFinite(v) {
			return errors.GCodeParseError(cmd.Raw, "Unable to parse move")
		}
		v *= gm.extrudeFactor
		if !gm.absoluteCoord || !gm.absoluteExtrude {
			pos[transform.AxisE] += v
		} else {
			pos[transform.AxisE] = v + gm.basePosition[transform.AxisE]
		}
	}
	if raw, ok := cmd.Params["F"]; ok {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || !config.IsFinite(f) {
			return errors.GCodeParseError(cmd.Raw, "Unable to parse move")
		}
		if f <= 0 {
			return errors.GCodeParseError(cmd.Raw, "Invalid speed")
		}
		speed = f * gm.speedFactor
	}
	gm.lastPosition, gm.speed = pos, speed
	if err := gm.moveWithTransform(gm.lastPosition, gm.speed); err != nil {
		// the toolhead refused; resync with what actually happened
		gm.ResetLastPosition()
		return err
	}
	return nil
}

func (gm *GCodeMove) cmdG20(*gcode.Command) error {
	return errors.GCodeMoveError("Machine does not support G20 (inches) command")
}

func (gm *GCodeMove) cmdM82(*gcode.Command) error { gm.absoluteExtrude = true; return nil }
func (gm *GCodeMove) cmdM83(*gcode.Command) error { gm.absoluteExtrude = false; return nil }
func (gm *GCodeMove) cmdG90(*gcode.Command) error { gm.absoluteCoord = true; return nil }
func (gm *GCodeMove) cmdG91(*gcode.Command) error { gm.absoluteCoord = false; return nil }

func (gm *GCodeMove) cmdG92(cmd *gcode.Command) error {
	anySet := false
	for i, axis := range "XYZE" {
		v, ok, err := cmd.GetFloatOptional(string(axis), config.FloatBounds{})
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		anySet = true
		if i == transform.AxisE {
			v *= gm.extrudeFactor
		}
		gm.basePosition[i] = gm.lastPosition[i] - v
	}
	if !anySet {
		gm.basePosition = gm.lastPosition
	}
	return nil
}

func (gm *GCodeMove) cmdM114(cmd *gcode.Command) error {
	cmd.RespondRaw(gm.GCodePosition().String())
	return nil
}

func (gm *GCodeMove) cmdM220(cmd *gcode.Command) error {
	s, err := cmd.GetFloat("S", 100, config.Above(0))
	if err != nil {
		return err
	}
	value := s / (60.0 * 100.0)
	gm.speed = gm.speed / gm.speedFactor * value
	gm.speedFactor = value
	return nil
}

func (gm *GCodeMove) cmdM221(cmd *gcode.Command) error {
	s, err := cmd.GetFloat("S", 100, config.Above(0))
	if err != nil {
		return err
	}
	newFactor := s / 100.0
	lastE := gm.lastPosition[transform.AxisE]
	eValue := (lastE - gm.basePosition[transform.AxisE]) / gm.extrudeFactor
	gm.basePosition[transform.AxisE] = lastE - eValue*newFactor
	gm.extrudeFactor = newFactor
	return nil
}

func (gm *GCodeMove) cmdSetGCodeOffset(cmd *gcode.Command) error {
	var delta transform.Position
	for i, axis := range "XYZE" {
		name := string(axis)
		offset, ok, err := cmd.GetFloatOptional(name, config.FloatBounds{})
		if err != nil {
			return err
		}
		if !ok {
			adjust, ok, err := cmd.GetFloatOptional(name+"_ADJUST", config.FloatBounds{})
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			offset = adjust + gm.homingPosition[i]
		}
		delta[i] = offset - gm.homingPosition[i]
		gm.basePosition[i] += delta[i]
		gm.homingPosition[i] = offset
	}
	if cmd.Get("MOVE", "0") == "1" {
		speed, err := cmd.GetFloat("MOVE_SPEED", gm.speed, config.Above(0))
		if err != nil {
			return err
		}
		for i := range delta {
			gm.lastPosition[i] += delta[i]
		}
		return gm.moveWithTransform(gm.lastPosition, speed)
	}
	return nil
}

func (gm *GCodeMove) cmdSaveGCodeState(cmd *gcode.Command) error {
	name := cmd.Get("NAME", defaultStateName)
	gm.savedStates[name] = gcodeState{
		absoluteCoord:   gm.absoluteCoord,
		absoluteExtrude: gm.absoluteExtrude,
		basePosition:    gm.basePosition,
		lastPosition:    gm.lastPosition,
		homingPosition:  gm.homingPosition,
		speed:           gm.speed,
		speedFactor:     gm.speedFactor,
		extrudeFactor:   gm.extrudeFactor,
	}
	return nil
}

func (gm *GCodeMove) cmdRestoreGCodeState(cmd *gcode.Command) error {
	name := cmd.Get("NAME", defaultStateName)
	state, ok := gm.savedStates[name]
	if !ok {
		return errors.GCodeMoveError(fmt.Sprintf("Unknown g-code state: %s", name))
	}
	gm.absoluteCoord = state.absoluteCoord
	gm.absoluteExtrude = state.absoluteExtrude
	gm.basePosition = state.basePosition
	gm.homingPosition = state.homingPosition
	gm.speed = state.speed
	gm.speedFactor = state.speedFactor
	gm.extrudeFactor = state.extrudeFactor
	// keep the extruder where it is now
	eDiff := gm.lastPosition[transform.AxisE] - state.lastPosition[transform.AxisE]
	gm.basePosition[transform.AxisE] += eDiff

	if cmd.Get("MOVE", "0") == "1" {
		speed, err := cmd.GetFloat("MOVE_SPEED", gm.speed, config.Above(0))
		if err != nil {
			return err
		}
		copy(gm.lastPosition[:3], state.lastPosition[:3])
		return gm.moveWithTransform(gm.lastPosition, speed)
	}
	return nil
}

func (gm *GCodeMove) cmdGetPosition(cmd *gcode.Command) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "toolhead: %s\n", gm.toolhead.GetPosition())
	fmt.Fprintf(&sb, "gcode: %s\n", gm.lastPosition)
	fmt.Fprintf(&sb, "gcode base: %s\n", gm.basePosition)
	fmt.Fprintf(&sb, "gcode homing: %s\n", gm.homingPosition)
	fmt.Fprintf(&sb, "transforms: %s", strings.Join(gm.chain.Names(), " -> "))
	cmd.RespondInfo(sb.String())
	return nil
}
