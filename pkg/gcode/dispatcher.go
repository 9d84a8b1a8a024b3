// Package gcode parses G-code lines and dispatches them to registered
// command handlers.
package gcode

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"klipper-go-transform/pkg/errors"
	"klipper-go-transform/pkg/log"
)

// Handler executes one command.
type Handler func(cmd *Command) error

// Dispatcher maps command names to handlers. Commands run on the caller's
// goroutine; callers that execute from several goroutines serialise
// through printer.Printer.Exec.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	help     map[string]string
	output   func(msg string)
	logger   *log.Logger
}

// NewDispatcher creates a dispatcher with the HELP command registered.
// Responses are discarded until SetOutput is called.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string]Handler),
		help:     make(map[string]string),
		output:   func(string) {},
		logger:   log.GetLogger("gcode"),
	}
	_ = d.RegisterCommand("HELP", d.cmdHelp, "Report the available extended G-Code commands")
	return d
}

// SetOutput sets where responses go.
func (d *Dispatcher) SetOutput(fn func(msg string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fn == nil {
		fn = func(string) {}
	}
	d.output = fn
}

// RegisterCommand adds a handler. Registering a name twice is an error.
func (d *Dispatcher) RegisterCommand(name string, handler Handler, desc string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	name = strings.ToUpper(name)
	if _, ok := d.handlers[name]; ok {
		return errors.RuntimeErrorInit("gcode", fmt.Sprintf("command %s already registered", name))
	}
	d.handlers[name] = handler
	if desc != "" {
		d.help[name] = desc
	}
	return nil
}

// HasCommand reports whether a handler is registered for name.
func (d *Dispatcher) HasCommand(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[strings.ToUpper(name)]
	return ok
}

// Commands returns the help text of every documented command.
func (d *Dispatcher) Commands() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.help))
	for k, v := range d.help {
		out[k] = v
	}
	return out
}

// Run executes a single line.
func (d *Dispatcher) Run(line string) error {
	cmd := Parse(line)
	if cmd == nil {
		return nil
	}
	d.mu.RLock()
	handler, ok := d.handlers[cmd.Name]
	d.mu.RUnlock()
	if !ok {
		return errors.GCodeUnknownCommandError(cmd.Name)
	}

	cmd.respond = d
	d.logger.WithField("cmd", cmd.Name).Debugf("dispatch %s", cmd.Raw)
	if err := handler(cmd); err != nil {
		d.logger.WithField("cmd", cmd.Name).WithError(err).Warn("command failed")
		return err
	}
	return nil
}

// RunScript executes newline separated commands, stopping at the first
// error.
func (d *Dispatcher) RunScript(script string) error {
	for _, line := range strings.Split(script, "\n") {
		if err := d.Run(line); err != nil {
			return err
		}
	}
	return nil
}

// RespondInfo emits msg with every line prefixed by "// ".
func (d *Dispatcher) RespondInfo(msg string) {
	lines := strings.Split(strings.TrimSpace(msg), "\n")
	for i, l := range lines {
		lines[i] = "// " + l
	}
	d.RespondRaw(strings.Join(lines, "\n"))
}

// RespondRaw emits msg as-is.
func (d *Dispatcher) RespondRaw(msg string) {
	d.mu.RLock()
	out := d.output
	d.mu.RUnlock()
	out(msg)
}

func (d *Dispatcher) cmdHelp(cmd *Command) error {
	help := d.Commands()
	names := make([]string, 0, len(help))
	for name := range help {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("Available extended commands:")
	for _, name := range names {
		fmt.Fprintf(&sb, "\n%-10s: %s", name, help[name])
	}
	cmd.RespondInfo(sb.String())
	return nil
}
