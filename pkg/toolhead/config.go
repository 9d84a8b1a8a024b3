package toolhead

import (
	"klipper-go-transform/pkg/config"
)

// Rail is the travel range of one cartesian axis.
type Rail struct {
	Name            string
	PositionMin     float64
	PositionMax     float64
	PositionEndstop float64
}

// Config holds the [printer] limits and the three [stepper_*] rails.
type Config struct {
	MaxVelocity  float64
	MaxAccel     float64
	MaxZVelocity float64
	MaxZAccel    float64
	Rails        [3]Rail
}

var railSections = [3]string{"stepper_x", "stepper_y", "stepper_z"}

// LoadConfig reads the toolhead configuration. max_z_velocity and
// max_z_accel default to max_velocity and max_accel.
func LoadConfig(cfg *config.Config) (Config, error) {
	var c Config
	printer, err := cfg.GetSection("printer")
	if err != nil {
		return c, err
	}
	if c.MaxVelocity, err = printer.GetFloatWithBounds("max_velocity", config.Above(0)); err != nil {
		return c, err
	}
	if c.MaxAccel, err = printer.GetFloatWithBounds("max_accel", config.Above(0)); err != nil {
		return c, err
	}
	if c.MaxZVelocity, err = printer.GetFloatWithBounds("max_z_velocity", config.Above(0), c.MaxVelocity); err != nil {
		return c, err
	}
	if c.MaxZAccel, err = printer.GetFloatWithBounds("max_z_accel", config.Above(0), c.MaxAccel); err != nil {
		return c, err
	}
	// accepted for compatibility with stock printer.cfg files
	_, _ = printer.Get("kinematics", "cartesian")

	for i, name := range railSections {
		sec, err := cfg.GetSection(name)
		if err != nil {
			return c, err
		}
		rail := Rail{Name: name}
		if rail.PositionMin, err = sec.GetFloat("position_min", 0); err != nil {
			return c, err
		}
		if rail.PositionMax, err = sec.GetFloatWithBounds("position_max", config.Above(rail.PositionMin)); err != nil {
			return c, err
		}
		bounds := config.FloatBounds{MinVal: &rail.PositionMin, MaxVal: &rail.PositionMax}
		if rail.PositionEndstop, err = sec.GetFloatWithBounds("position_endstop", bounds, rail.PositionMin); err != nil {
			return c, err
		}
		c.Rails[i] = rail
	}
	return c, nil
}
