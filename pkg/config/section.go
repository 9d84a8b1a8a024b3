package config

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Section is one [name] block of the config. Every getter marks the option
// as accessed, including when a fallback is used.
type Section struct {
	name    string
	options map[string]string

	mu       sync.Mutex
	accessed map[string]struct{}
}

func newSection(name string, options map[string]string) *Section {
	opts := make(map[string]string, len(options))
	for k, v := range options {
		opts[strings.ToLower(k)] = v
	}
	return &Section{
		name:     name,
		options:  opts,
		accessed: make(map[string]struct{}),
	}
}

// GetName returns the section name.
func (s *Section) GetName() string {
	return s.name
}

func (s *Section) lookup(option string) (string, bool) {
	key := strings.ToLower(option)
	s.mu.Lock()
	s.accessed[key] = struct{}{}
	s.mu.Unlock()
	v, ok := s.options[key]
	return v, ok
}

// GetUnusedOptions returns the sorted options that were never read.
func (s *Section) GetUnusedOptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []string
	for opt := range s.options {
		if _, ok := s.accessed[opt]; !ok {
			result = append(result, opt)
		}
	}
	sort.Strings(result)
	return result
}

// HasOption checks if an option exists without marking it accessed.
func (s *Section) HasOption(option string) bool {
	_, ok := s.options[strings.ToLower(option)]
	return ok
}

// Get returns a string option, or the fallback when absent.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	if v, ok := s.lookup(option); ok {
		return v, nil
	}
	if len(fallback) > 0 {
		return fallback[0], nil
	}
	return "", ErrMissingOption(s.name, option)
}

// GetFloat returns a float64 option, or the fallback when absent.
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	if v, ok := s.lookup(option); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || !IsFinite(f) {
			return 0, ErrInvalidValue(s.name, option, v, "finite float")
		}
		return f, nil
	}
	if len(fallback) > 0 {
		return fallback[0], nil
	}
	return 0, ErrMissingOption(s.name, option)
}

// FloatBounds limits the values GetFloatWithBounds accepts. Nil fields are
// unchecked.
type FloatBounds struct {
	MinVal *float64 // >=
	MaxVal *float64 // <=
	Above  *float64 // >
	Below  *float64 // <
}

// MinVal returns bounds requiring v >= min.
func MinVal(min float64) FloatBounds { return FloatBounds{MinVal: &min} }

// Above returns bounds requiring v > limit.
func Above(limit float64) FloatBounds { return FloatBounds{Above: &limit} }

// IsFinite reports whether v is neither NaN nor an infinity.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Check validates v against the bounds. The returned message is empty when
// v is acceptable. NaN and infinities never are.
func (b FloatBounds) Check(v float64) string {
	switch {
	case !IsFinite(v):
		return "must be a finite number"
	case b.MinVal != nil && v < *b.MinVal:
		return "must have minimum of " + formatFloat(*b.MinVal)
	case b.MaxVal != nil && v > *b.MaxVal:
		return "must have maximum of " + formatFloat(*b.MaxVal)
	case b.Above != nil && v <= *b.Above:
		return "must be above " + formatFloat(*b.Above)
	case b.Below != nil && v >= *b.Below:
		return "must be below " + formatFloat(*b.Below)
	}
	return ""
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// GetFloatWithBounds returns a float64 option checked against bounds. The
// fallback is checked too.
func (s *Section) GetFloatWithBounds(option string, bounds FloatBounds, fallback ...float64) (float64, error) {
	v, err := s.GetFloat(option, fallback...)
	if err != nil {
		return 0, err
	}
	if msg := bounds.Check(v); msg != "" {
		return 0, ErrOutOfRange(s.name, option, v, msg)
	}
	return v, nil
}

// GetBool returns a boolean option. Accepts 1/true/yes/on and 0/false/no/off.
func (s *Section) GetBool(option string, fallback ...bool) (bool, error) {
	if v, ok := s.lookup(option); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			return true, nil
		case "0", "false", "no", "off":
			return false, nil
		default:
			return false, ErrInvalidValue(s.name, option, v, "boolean (true/false/yes/no/on/off/1/0)")
		}
	}
	if len(fallback) > 0 {
		return fallback[0], nil
	}
	return false, ErrMissingOption(s.name, option)
}

// RawOptions returns a copy of the option map, for status reporting.
func (s *Section) RawOptions() map[string]string {
	result := make(map[string]string, len(s.options))
	for k, v := range s.options {
		result[k] = v
	}
	return result
}
