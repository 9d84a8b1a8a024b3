// Homing support (G28)
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package extras

import (
	"strings"

	"klipper-go-transform/pkg/gcode"
	"klipper-go-transform/pkg/log"
	"klipper-go-transform/pkg/printer"
	"klipper-go-transform/pkg/toolhead"
)

const homingAxisNames = "xyz"

// Homing implements G28 against the toolhead. Endstops are not simulated:
// a homed axis lands on its position_endstop.
type Homing struct {
	p        *printer.Printer
	toolhead *toolhead.Toolhead
	gm       *GCodeMove
	enable   *StepperEnable
	logger   *log.Logger
}

// NewHoming registers G28.
func NewHoming(p *printer.Printer, th *toolhead.Toolhead, gm *GCodeMove, se *StepperEnable) (*Homing, error) {
	h := &Homing{
		p:        p,
		toolhead: th,
		gm:       gm,
		enable:   se,
		logger:   log.GetLogger("homing"),
	}
	if err := p.GCode().RegisterCommand("G28", h.cmdG28, ""); err != nil {
		return nil, err
	}
	return h, nil
}

// GetName implements config.Module.
func (h *Homing) GetName() string { return "homing" }

// Home homes the given axes (0..2).
func (h *Homing) Home(axes []int) error {
	if err := h.p.SendEvent(printer.EventHomingMoveBegin); err != nil {
		return err
	}
	pos := h.toolhead.GetPosition()
	var names strings.Builder
	for _, axis := range axes {
		pos[axis] = h.toolhead.Rail(axis).PositionEndstop
		names.WriteByte(homingAxisNames[axis])
	}
	h.toolhead.SetPosition(pos, names.String())
	if h.enable != nil {
		h.enable.EnableAxes(names.String())
	}
	if err := h.p.SendEvent(printer.EventHomingMoveEnd); err != nil {
		return err
	}
	h.gm.HomingEnd(axes)
	h.logger.WithField("axes", names.String()).Info("homed")
	return nil
}

func (h *Homing) cmdG28(cmd *gcode.Command) error {
	var axes []int
	for i, axis := range "XYZ" {
		if cmd.Has(string(axis)) {
			axes = append(axes, i)
		}
	}
	if len(axes) == 0 {
		axes = []int{0, 1, 2}
	}
	return h.Home(axes)
}
