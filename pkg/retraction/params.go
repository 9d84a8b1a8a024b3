package retraction

import (
	"fmt"
	"math"

	"klipper-go-transform/pkg/errors"
)

// Params are the user-settable retraction parameters. Lengths are in mm,
// speeds in mm/s.
type Params struct {
	RetractLength        float64 `yaml:"retract_length" json:"retract_length"`
	RetractSpeed         float64 `yaml:"retract_speed" json:"retract_speed"`
	UnretractExtraLength float64 `yaml:"unretract_extra_length" json:"unretract_extra_length"`
	UnretractSpeed       float64 `yaml:"unretract_speed" json:"unretract_speed"`
	ZHopHeight           float64 `yaml:"z_hop_height" json:"z_hop_height"`
	ClearZHopOnZMove     bool    `yaml:"clear_zhop_on_z_moves" json:"clear_zhop_on_z_moves"`
}

// Minimum values accepted for the parameters.
const (
	MinLength = 0.0
	MinSpeed  = 1.0
)

// DefaultParams returns the parameters used when the config leaves them
// out: no retraction, no hop.
func DefaultParams() Params {
	return Params{
		RetractSpeed:   20,
		UnretractSpeed: 10,
	}
}

// UnretractLength is the filament pushed back on unretract.
func (p Params) UnretractLength() float64 {
	return p.RetractLength + p.UnretractExtraLength
}

// Validate reports the first parameter outside its range.
func (p Params) Validate() error {
	checks := []struct {
		option string
		value  float64
		min    float64
	}{
		{"retract_length", p.RetractLength, MinLength},
		{"retract_speed", p.RetractSpeed, MinSpeed},
		{"unretract_extra_length", p.UnretractExtraLength, MinLength},
		{"unretract_speed", p.UnretractSpeed, MinSpeed},
		{"z_hop_height", p.ZHopHeight, MinLength},
	}
	for _, c := range checks {
		if math.IsNaN(c.value) || math.IsInf(c.value, 0) {
			return errors.ConfigValidationError(sectionName, c.option,
				fmt.Sprintf("value %v must be a finite number", c.value))
		}
		if c.value < c.min {
			return errors.ConfigValidationError(sectionName, c.option,
				fmt.Sprintf("value %v must have minimum of %v", c.value, c.min))
		}
	}
	return nil
}

// ParamUpdate is a partial parameter change. Nil fields keep their value.
type ParamUpdate struct {
	RetractLength        *float64
	RetractSpeed         *float64
	UnretractExtraLength *float64
	UnretractSpeed       *float64
	ZHopHeight           *float64
}

// Apply returns p with the update applied. The result is validated as a
// whole; on error p is returned unchanged.
func (p Params) Apply(u ParamUpdate) (Params, error) {
	next := p
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&next.RetractLength, u.RetractLength)
	set(&next.RetractSpeed, u.RetractSpeed)
	set(&next.UnretractExtraLength, u.UnretractExtraLength)
	set(&next.UnretractSpeed, u.UnretractSpeed)
	set(&next.ZHopHeight, u.ZHopHeight)
	if err := next.Validate(); err != nil {
		return p, err
	}
	return next, nil
}
