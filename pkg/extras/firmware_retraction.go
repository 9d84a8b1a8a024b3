// Firmware retraction G-Code commands
//
// Support for Marlin/Smoothie/Reprap style firmware retraction via G10/G11
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package extras

import (
	"klipper-go-transform/pkg/config"
	"klipper-go-transform/pkg/gcode"
	"klipper-go-transform/pkg/metrics"
	"klipper-go-transform/pkg/printer"
	"klipper-go-transform/pkg/retraction"
	"klipper-go-transform/pkg/toolhead"
)

// LoadRetractionParams reads the [firmware_retraction] options.
func LoadRetractionParams(section *config.Section) (retraction.Params, error) {
	def := retraction.DefaultParams()
	var p retraction.Params
	var err error
	lengths := config.MinVal(retraction.MinLength)
	speeds := config.MinVal(retraction.MinSpeed)

	if p.RetractLength, err = section.GetFloatWithBounds("retract_length", lengths, def.RetractLength); err != nil {
		return p, err
	}
	if p.RetractSpeed, err = section.GetFloatWithBounds("retract_speed", speeds, def.RetractSpeed); err != nil {
		return p, err
	}
	if p.UnretractExtraLength, err = section.GetFloatWithBounds("unretract_extra_length", lengths, def.UnretractExtraLength); err != nil {
		return p, err
	}
	if p.UnretractSpeed, err = section.GetFloatWithBounds("unretract_speed", speeds, def.UnretractSpeed); err != nil {
		return p, err
	}
	if p.ZHopHeight, err = section.GetFloatWithBounds("z_hop_height", lengths, def.ZHopHeight); err != nil {
		return p, err
	}
	if p.ClearZHopOnZMove, err = section.GetBool("clear_zhop_on_z_moves", def.ClearZHopOnZMove); err != nil {
		return p, err
	}
	return p, nil
}

// FirmwareRetraction wires a retraction.Retraction into the printer: its
// commands, its place in the move transform chain and the events that
// invalidate the hop.
type FirmwareRetraction struct {
	*retraction.Retraction
	configParams retraction.Params
}

// NewFirmwareRetraction builds the module for a [firmware_retraction]
// section.
func NewFirmwareRetraction(p *printer.Printer, gm *GCodeMove, th *toolhead.Toolhead,
	section *config.Section) (*FirmwareRetraction, error) {
	params, err := LoadRetractionParams(section)
	if err != nil {
		return nil, err
	}
	r, err := retraction.New(params, th.MaxZVelocity())
	if err != nil {
		return nil, err
	}
	fr := &FirmwareRetraction{Retraction: r, configParams: params}

	p.RegisterEventHandler(printer.EventReady, func() error {
		return fr.handleReady(p, gm, th)
	})

	d := p.GCode()
	cmds := []struct {
		name string
		fn   gcode.Handler
		desc string
	}{
		{"SET_RETRACTION", fr.cmdSetRetraction, "Set firmware retraction parameters"},
		{"GET_RETRACTION", fr.cmdGetRetraction, "Report firmware retraction parameters and states"},
		{"CLEAR_RETRACTION", fr.cmdClearRetraction, "Clear retraction state without retract move if enabled"},
		{"RESET_RETRACTION", fr.cmdResetRetraction, "Reset retraction parameters to default values"},
		{"G10", fr.cmdG10, ""},
		{"G11", fr.cmdG11, ""},
	}
	for _, c := range cmds {
		if err := d.RegisterCommand(c.name, c.fn, c.desc); err != nil {
			return nil, err
		}
	}
	return fr, nil
}

// GetName implements config.Module.
func (fr *FirmwareRetraction) GetName() string { return "firmware_retraction" }

// GetStatus reports parameters and state flags.
func (fr *FirmwareRetraction) GetStatus() map[string]any { return fr.Status() }

func (fr *FirmwareRetraction) handleReady(p *printer.Printer, gm *GCodeMove, th *toolhead.Toolhead) error {
	// insert first so the retraction forwards to whatever was the head
	next, err := gm.SetMoveTransform(fr.Retraction)
	if err != nil {
		return err
	}
	var excluded retraction.ExcludedRegion
	if obj, ok := p.LookupObject("exclude_object"); ok {
		if eo, ok := obj.(*ExcludeObject); ok {
			excluded = eo
		}
	}
	if err := fr.Bind(retraction.Binding{
		Next:     next,
		MaximumZ: th.AxisMaximum().Z(),
		Modal:    gm,
		Excluded: excluded,
	}); err != nil {
		return err
	}

	clearHop := func(reason string) printer.EventHandler {
		return func() error {
			fr.ClearZHop(reason)
			return nil
		}
	}
	p.RegisterEventHandler(printer.EventHomingMoveBegin, clearHop(retraction.ReasonHoming))
	p.RegisterEventHandler(printer.EventMotorOff, clearHop(retraction.ReasonMotorOff))
	return nil
}

func (fr *FirmwareRetraction) cmdSetRetraction(cmd *gcode.Command) error {
	var u retraction.ParamUpdate
	lengths := config.MinVal(retraction.MinLength)
	speeds := config.MinVal(retraction.MinSpeed)
	fields := []struct {
		param  string
		bounds config.FloatBounds
		dst    **float64
	}{
		{"RETRACT_LENGTH", lengths, &u.RetractLength},
		{"RETRACT_SPEED", speeds, &u.RetractSpeed},
		{"UNRETRACT_EXTRA_LENGTH", lengths, &u.UnretractExtraLength},
		{"UNRETRACT_SPEED", speeds, &u.UnretractSpeed},
		{"Z_HOP_HEIGHT", lengths, &u.ZHopHeight},
	}
	for _, f := range fields {
		v, ok, err := cmd.GetFloatOptional(f.param, f.bounds)
		if err != nil {
			metrics.RetractionCommands.WithLabelValues(cmd.Name, metrics.ResultError).Inc()
			return err
		}
		if ok {
			v := v
			*f.dst = &v
		}
	}
	if err := fr.SetParams(u); err != nil {
		metrics.RetractionCommands.WithLabelValues(cmd.Name, metrics.ResultError).Inc()
		return err
	}
	metrics.RetractionCommands.WithLabelValues(cmd.Name, metrics.ResultApplied).Inc()
	return nil
}

func (fr *FirmwareRetraction) cmdGetRetraction(cmd *gcode.Command) error {
	cmd.RespondInfo(fr.Describe())
	return nil
}

func (fr *FirmwareRetraction) cmdClearRetraction(cmd *gcode.Command) error {
	fr.Clear()
	metrics.RetractionCommands.WithLabelValues(cmd.Name, metrics.ResultApplied).Inc()
	cmd.RespondInfo("Retraction was cleared. zhop is undone on next move.")
	return nil
}

func (fr *FirmwareRetraction) cmdResetRetraction(cmd *gcode.Command) error {
	if err := fr.Reset(fr.configParams); err != nil {
		return err
	}
	metrics.RetractionCommands.WithLabelValues(cmd.Name, metrics.ResultApplied).Inc()
	return nil
}

func (fr *FirmwareRetraction) cmdG10(cmd *gcode.Command) error {
	return fr.Retract(cmd)
}

func (fr *FirmwareRetraction) cmdG11(cmd *gcode.Command) error {
	return fr.Unretract(cmd)
}
