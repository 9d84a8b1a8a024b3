package gcode

import (
	"strconv"
	"strings"

	"klipper-go-transform/pkg/config"
	"klipper-go-transform/pkg/errors"
)

// Command is a parsed G-code line being executed.
type Command struct {
	Name   string
	Params map[string]string
	Raw    string

	respond Responder
}

// Responder receives messages produced while a command runs.
type Responder interface {
	RespondInfo(msg string)
	RespondRaw(msg string)
}

// Has reports whether the parameter was given.
func (c *Command) Has(name string) bool {
	_, ok := c.Params[strings.ToUpper(name)]
	return ok
}

// Get returns a string parameter, or def when absent.
func (c *Command) Get(name, def string) string {
	if v, ok := c.Params[strings.ToUpper(name)]; ok {
		return v
	}
	return def
}

// GetFloat returns a float parameter checked against bounds, or def when
// the parameter is absent. def itself is not checked.
func (c *Command) GetFloat(name string, def float64, bounds config.FloatBounds) (float64, error) {
	v, ok, err := c.GetFloatOptional(name, bounds)
	if err != nil {
		return 0, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// GetFloatOptional returns a float parameter and whether it was present.
func (c *Command) GetFloatOptional(name string, bounds config.FloatBounds) (float64, bool, error) {
	name = strings.ToUpper(name)
	raw, ok := c.Params[name]
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || !config.IsFinite(v) {
		return 0, true, errors.GCodeInvalidParameterError(c.Name, name, raw, "not a finite number")
	}
	if msg := bounds.Check(v); msg != "" {
		return 0, true, errors.GCodeInvalidParameterError(c.Name, name, raw, msg)
	}
	return v, true, nil
}

// RequireFloat returns a float parameter that must be present.
func (c *Command) RequireFloat(name string, bounds config.FloatBounds) (float64, error) {
	v, ok, err := c.GetFloatOptional(name, bounds)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.GCodeMissingParameterError(c.Name, strings.ToUpper(name))
	}
	return v, nil
}

// RespondInfo sends an informational message back to the command source.
func (c *Command) RespondInfo(msg string) {
	if c.respond != nil {
		c.respond.RespondInfo(msg)
	}
}

// RespondRaw sends msg back to the command source unmodified.
func (c *Command) RespondRaw(msg string) {
	if c.respond != nil {
		c.respond.RespondRaw(msg)
	}
}
