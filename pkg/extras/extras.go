// Package extras holds the printer objects driven by G-code: the
// coordinate tracker, homing, stepper enable and the optional
// [firmware_retraction] and [exclude_object] modules.
package extras

import (
	"klipper-go-transform/pkg/config"
	"klipper-go-transform/pkg/log"
	"klipper-go-transform/pkg/printer"
	"klipper-go-transform/pkg/toolhead"
)

// Objects are the printer objects created by Load.
type Objects struct {
	Toolhead      *toolhead.Toolhead
	GCodeMove     *GCodeMove
	Homing        *Homing
	StepperEnable *StepperEnable
	// nil when the section is absent
	FirmwareRetraction *FirmwareRetraction
	ExcludeObject      *ExcludeObject
}

// Register adds the factories of the config driven modules.
func Register(reg *config.Registry, p *printer.Printer, objs *Objects) {
	reg.Register("firmware_retraction", func(s *config.Section) (config.Module, error) {
		fr, err := NewFirmwareRetraction(p, objs.GCodeMove, objs.Toolhead, s)
		if err != nil {
			return nil, err
		}
		objs.FirmwareRetraction = fr
		return fr, nil
	})
	reg.Register("exclude_object", func(s *config.Section) (config.Module, error) {
		eo, err := NewExcludeObject(p, objs.GCodeMove, s)
		if err != nil {
			return nil, err
		}
		objs.ExcludeObject = eo
		return eo, nil
	})
	reg.RegisterWithPrefix("stepper_", func(s *config.Section) (config.Module, error) {
		line := newStepperLine(s)
		objs.StepperEnable.addLine(line)
		return line, nil
	})
}

// Load builds every object of the printer's config and brings the
// printer to the ready state. Chain participants are installed in config
// order, so the last one listed ends up at the head of the chain.
func Load(p *printer.Printer) (*Objects, error) {
	logger := log.GetLogger("extras")
	cfg := p.Config()

	thCfg, err := toolhead.LoadConfig(cfg)
	if err != nil {
		return nil, err
	}
	objs := &Objects{Toolhead: toolhead.New(thCfg)}
	if objs.GCodeMove, err = NewGCodeMove(p, objs.Toolhead); err != nil {
		return nil, err
	}
	if objs.StepperEnable, err = NewStepperEnable(p, objs.Toolhead, objs.GCodeMove); err != nil {
		return nil, err
	}
	if objs.Homing, err = NewHoming(p, objs.Toolhead, objs.GCodeMove, objs.StepperEnable); err != nil {
		return nil, err
	}
	for _, obj := range []config.Module{objs.Toolhead, objs.GCodeMove, objs.Homing, objs.StepperEnable} {
		if err := p.AddObject(obj.GetName(), obj); err != nil {
			return nil, err
		}
	}

	reg := config.NewRegistry()
	Register(reg, p, objs)
	modules, err := reg.LoadModules(cfg)
	if err != nil {
		return nil, err
	}
	for _, m := range modules {
		if err := p.AddObject(m.GetName(), m); err != nil {
			return nil, err
		}
	}

	for _, name := range cfg.GetUnusedSections() {
		logger.WithField("section", name).Warn("section not used by this host")
	}
	if err := cfg.CheckUnusedOptions(); err != nil {
		logger.WithError(err).Debug("unused options")
	}

	if err := p.Ready(); err != nil {
		return nil, err
	}
	return objs, nil
}
