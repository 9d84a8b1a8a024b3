// Stepper enable tracking and motor-off commands
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package extras

import (
	"fmt"
	"sort"
	"strings"

	"klipper-go-transform/pkg/config"
	"klipper-go-transform/pkg/errors"
	"klipper-go-transform/pkg/gcode"
	"klipper-go-transform/pkg/log"
	"klipper-go-transform/pkg/printer"
	"klipper-go-transform/pkg/toolhead"
)

// stepperLine is the enable state of one [stepper_*] section.
type stepperLine struct {
	name    string
	axis    string // "x", "y", "z" or "" for steppers without a cartesian axis
	enabled bool
}

func (s *stepperLine) GetName() string { return s.name }

func newStepperLine(section *config.Section) *stepperLine {
	name := section.GetName()
	axis := strings.TrimPrefix(name, "stepper_")
	if len(axis) != 1 || !strings.Contains("xyz", axis) {
		axis = ""
	}
	return &stepperLine{name: name, axis: axis}
}

// StepperEnable tracks which steppers are powered and runs M84.
type StepperEnable struct {
	p        *printer.Printer
	toolhead *toolhead.Toolhead
	gm       *GCodeMove
	lines    map[string]*stepperLine
	logger   *log.Logger
}

// NewStepperEnable registers M18, M84 and SET_STEPPER_ENABLE.
func NewStepperEnable(p *printer.Printer, th *toolhead.Toolhead, gm *GCodeMove) (*StepperEnable, error) {
	se := &StepperEnable{
		p:        p,
		toolhead: th,
		gm:       gm,
		lines:    make(map[string]*stepperLine),
		logger:   log.GetLogger("stepper_enable"),
	}
	d := p.GCode()
	if err := d.RegisterCommand("M18", se.cmdMotorOff, ""); err != nil {
		return nil, err
	}
	if err := d.RegisterCommand("M84", se.cmdMotorOff, ""); err != nil {
		return nil, err
	}
	if err := d.RegisterCommand("SET_STEPPER_ENABLE", se.cmdSetStepperEnable,
		"Enable/disable individual stepper by name"); err != nil {
		return nil, err
	}
	return se, nil
}

// GetName implements config.Module.
func (se *StepperEnable) GetName() string { return "stepper_enable" }

func (se *StepperEnable) addLine(line *stepperLine) {
	se.lines[line.name] = line
}

// Steppers returns the sorted stepper names.
func (se *StepperEnable) Steppers() []string {
	names := make([]string, 0, len(se.lines))
	for name := range se.lines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnableAxes marks the steppers driving axes ("xz") as powered.
func (se *StepperEnable) EnableAxes(axes string) {
	for _, line := range se.lines {
		if line.axis != "" && strings.Contains(axes, line.axis) {
			line.enabled = true
		}
	}
}

// MotorOff disables every stepper, forgets the homing state and sends the
// motor-off event. The G-code position is re-read once the handlers ran.
func (se *StepperEnable) MotorOff() error {
	se.toolhead.MotorOff()
	for _, line := range se.lines {
		line.enabled = false
	}
	err := se.p.SendEvent(printer.EventMotorOff)
	se.gm.ResetLastPosition()
	return err
}

// GetStatus reports the enable state of every stepper.
func (se *StepperEnable) GetStatus() map[string]any {
	steppers := make(map[string]any, len(se.lines))
	for name, line := range se.lines {
		steppers[name] = line.enabled
	}
	return map[string]any{"steppers": steppers}
}

func (se *StepperEnable) cmdMotorOff(*gcode.Command) error {
	return se.MotorOff()
}

func (se *StepperEnable) cmdSetStepperEnable(cmd *gcode.Command) error {
	name := cmd.Get("STEPPER", "")
	line, ok := se.lines[name]
	if !ok {
		cmd.RespondInfo(fmt.Sprintf("SET_STEPPER_ENABLE: Invalid stepper %s", name))
		return nil
	}
	enable := cmd.Get("ENABLE", "1")
	switch enable {
	case "1":
		line.enabled = true
	case "0":
		line.enabled = false
		if line.axis != "" {
			se.toolhead.ClearHomingState(line.axis)
		}
	default:
		return errors.GCodeInvalidParameterError(cmd.Name, "ENABLE", enable, "must be 0 or 1")
	}
	state := "disabled"
	if line.enabled {
		state = "enabled"
	}
	se.logger.WithField("stepper", name).Info(state)
	cmd.RespondInfo(fmt.Sprintf("%s has been manually %s", name, state))
	return nil
}
