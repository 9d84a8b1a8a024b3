// Printer object registry and lifecycle events
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package printer holds the named objects of a running host, the lifecycle
// event registry they use to find each other, and the single execution
// path every command and API request goes through.
package printer

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"

	"klipper-go-transform/pkg/config"
	"klipper-go-transform/pkg/errors"
	"klipper-go-transform/pkg/gcode"
	"klipper-go-transform/pkg/log"
	"klipper-go-transform/pkg/reactor"
)

// Lifecycle events.
const (
	EventConnect         = "klippy:connect"
	EventReady           = "klippy:ready"
	EventHomingMoveBegin = "homing:homing_move_begin"
	EventHomingMoveEnd   = "homing:homing_move_end"
	EventMotorOff        = "stepper_enable:motor_off"
)

// State is the host state reported to API clients.
type State int

const (
	StateStartup State = iota
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateStartup:
		return "startup"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventHandler runs synchronously when its event is sent.
type EventHandler func() error

// StatusObject is implemented by objects that report status to API clients.
type StatusObject interface {
	GetStatus() map[string]any
}

// Printer is the root object of the host.
type Printer struct {
	cfg     *config.Config
	gcode   *gcode.Dispatcher
	reactor *reactor.Reactor

	objects  map[string]any
	order    []string
	handlers map[string][]EventHandler

	state        State
	stateMessage string

	// mu serialises Exec while the reactor is not running
	mu     sync.Mutex
	logger *log.Logger
}

// New creates a printer for cfg with an empty object set.
func New(cfg *config.Config) *Printer {
	if cfg == nil {
		cfg = config.New()
	}
	p := &Printer{
		cfg:          cfg,
		gcode:        gcode.NewDispatcher(),
		reactor:      reactor.New(),
		objects:      make(map[string]any),
		handlers:     make(map[string][]EventHandler),
		stateMessage: "Printer is not ready",
		logger:       log.GetLogger("printer"),
	}
	return p
}

// Config returns the loaded configuration.
func (p *Printer) Config() *config.Config { return p.cfg }

// GCode returns the command dispatcher.
func (p *Printer) GCode() *gcode.Dispatcher { return p.gcode }

// Reactor returns the dispatch loop.
func (p *Printer) Reactor() *reactor.Reactor { return p.reactor }

// AddObject registers obj under name. Names are unique.
func (p *Printer) AddObject(name string, obj any) error {
	if _, ok := p.objects[name]; ok {
		return errors.RuntimeErrorInit("printer", fmt.Sprintf("printer object '%s' already created", name))
	}
	p.objects[name] = obj
	p.order = append(p.order, name)
	return nil
}

// LookupObject returns the object registered under name.
func (p *Printer) LookupObject(name string) (any, bool) {
	obj, ok := p.objects[name]
	return obj, ok
}

// Objects returns the object names in creation order.
func (p *Printer) Objects() []string {
	return append([]string(nil), p.order...)
}

// StatusObjects returns the sorted names of objects that report status.
func (p *Printer) StatusObjects() []string {
	var names []string
	for name, obj := range p.objects {
		if _, ok := obj.(StatusObject); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Status returns the status of one object.
func (p *Printer) Status(name string) (map[string]any, bool) {
	obj, ok := p.objects[name].(StatusObject)
	if !ok {
		return nil, false
	}
	return obj.GetStatus(), true
}

// RegisterEventHandler subscribes h to event. Handlers run in
// registration order.
func (p *Printer) RegisterEventHandler(event string, h EventHandler) {
	p.handlers[event] = append(p.handlers[event], h)
}

// SendEvent runs every handler of event. All handlers run even when some
// fail; the errors are joined.
func (p *Printer) SendEvent(event string) error {
	var errs []error
	for _, h := range p.handlers[event] {
		if err := h(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		p.logger.WithField("event", event).Warnf("%d handler(s) failed", len(errs))
	}
	return stderrors.Join(errs...)
}

// Ready sends the connect and ready events once. A failing handler puts
// the printer in the error state.
func (p *Printer) Ready() error {
	if p.state != StateStartup {
		return errors.RuntimeStateError("printer", p.state.String())
	}
	for _, event := range []string{EventConnect, EventReady} {
		if err := p.SendEvent(event); err != nil {
			p.state = StateError
			p.stateMessage = err.Error()
			p.logger.WithError(err).Error("startup failed")
			return errors.Wrap(err, errors.ErrRuntimeInit, "startup failed")
		}
	}
	p.state = StateReady
	p.stateMessage = "Printer is ready"
	p.logger.WithField("objects", len(p.objects)).Info("printer ready")
	return nil
}

// State returns the current state.
func (p *Printer) State() State { return p.state }

// StateMessage returns a human readable state description.
func (p *Printer) StateMessage() string { return p.stateMessage }

// Start runs the reactor. From then on Exec hands work to its goroutine.
func (p *Printer) Start() {
	p.reactor.Run()
}

// Stop ends the reactor and waits for it.
func (p *Printer) Stop() {
	if p.reactor.Running() {
		p.reactor.End()
		p.reactor.Wait()
	}
}

// Exec runs fn with exclusive access to printer state. It must not be
// called from a reactor timer or another Exec.
func (p *Printer) Exec(ctx context.Context, fn func() error) error {
	if p.reactor.Running() {
		return p.reactor.Callback(ctx, func(float64) error { return fn() })
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}

// RunScript executes a G-code script through Exec.
func (p *Printer) RunScript(ctx context.Context, script string) error {
	return p.Exec(ctx, func() error {
		return p.gcode.RunScript(script)
	})
}
