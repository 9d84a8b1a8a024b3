package extras

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klipper-go-transform/pkg/config"
	"klipper-go-transform/pkg/errors"
	"klipper-go-transform/pkg/printer"
	"klipper-go-transform/pkg/transform"
)

const baseConfig = `
[printer]
kinematics: cartesian
max_velocity: 300
max_accel: 3000
max_z_velocity: 10

[stepper_x]
step_pin: PF0
position_endstop: 0
position_max: 200

[stepper_y]
position_endstop: 0
position_max: 200

[stepper_z]
position_endstop: 0
position_max: 250
`

const retractionConfig = `
[firmware_retraction]
retract_length: 1
retract_speed: 40
unretract_extra_length: 0.2
unretract_speed: 20
z_hop_height: 0.4

[exclude_object]
`

type host struct {
	t    *testing.T
	p    *printer.Printer
	objs *Objects
	out  []string
}

func newHost(t *testing.T, cfgText string) *host {
	t.Helper()
	cfg, err := config.LoadString(cfgText)
	require.NoError(t, err)
	h := &host{t: t, p: printer.New(cfg)}
	h.p.GCode().SetOutput(func(msg string) { h.out = append(h.out, msg) })
	h.objs, err = Load(h.p)
	require.NoError(t, err)
	return h
}

func (h *host) run(script string) error {
	return h.p.RunScript(context.Background(), script)
}

func (h *host) mustRun(script string) {
	h.t.Helper()
	require.NoError(h.t, h.run(script))
}

type toolheadMove struct {
	End   transform.Position
	Speed float64
}

func (h *host) takeMoves() []toolheadMove {
	var moves []toolheadMove
	for _, m := range h.objs.Toolhead.Moves() {
		moves = append(moves, toolheadMove{m.End, m.Speed})
	}
	h.objs.Toolhead.ClearMoves()
	return moves
}

func (h *host) status(name string) map[string]any {
	h.t.Helper()
	st, ok := h.p.Status(name)
	require.True(h.t, ok, "no status for %s", name)
	return st
}

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestLoad(t *testing.T) {
	h := newHost(t, baseConfig+retractionConfig)

	assert.Equal(t, printer.StateReady, h.p.State())
	require.NotNil(t, h.objs.FirmwareRetraction)
	require.NotNil(t, h.objs.ExcludeObject)
	assert.Equal(t, []string{"stepper_x", "stepper_y", "stepper_z"}, h.objs.StepperEnable.Steppers())
	// config order: exclude_object is installed last and sits at the head
	assert.Equal(t, []string{"exclude_object", "firmware_retraction", "toolhead"},
		h.objs.GCodeMove.Chain().Names())

	for _, name := range []string{"toolhead", "gcode_move", "firmware_retraction", "exclude_object", "stepper_enable"} {
		_, ok := h.p.Status(name)
		assert.True(t, ok, name)
	}
}

func TestLoadWithoutRetraction(t *testing.T) {
	h := newHost(t, baseConfig)
	assert.Nil(t, h.objs.FirmwareRetraction)
	assert.False(t, h.p.GCode().HasCommand("G10"))
	assert.Equal(t, []string{"toolhead"}, h.objs.GCodeMove.Chain().Names())
}

func TestLoadBadRetractionConfig(t *testing.T) {
	cfg, err := config.LoadString(baseConfig + "\n[firmware_retraction]\nretract_length: -1\n")
	require.NoError(t, err)
	_, err = Load(printer.New(cfg))
	require.Error(t, err)
}

func TestRetractThroughToolhead(t *testing.T) {
	h := newHost(t, baseConfig+retractionConfig)
	h.mustRun("G28\nG1 X10 Y10 Z1 F6000")
	h.takeMoves()

	h.mustRun("G10")
	want := []toolheadMove{
		{transform.Position{10, 10, 1, -1}, 40},
		{transform.Position{10, 10, 1.4, -1}, 8},
	}
	if diff := cmp.Diff(want, h.takeMoves(), approx); diff != "" {
		t.Errorf("G10 moves (-want +got):\n%s", diff)
	}
	st := h.status("firmware_retraction")
	assert.Equal(t, true, st["retract_state"])
	assert.Equal(t, true, st["zhop_state"])

	// travel keeps the hop; the G-code position does not see it
	h.mustRun("G1 X20")
	want = []toolheadMove{{transform.Position{20, 10, 1.4, -1}, 100}}
	if diff := cmp.Diff(want, h.takeMoves(), approx); diff != "" {
		t.Errorf("travel moves (-want +got):\n%s", diff)
	}
	gpos := h.status("gcode_move")["position"].([]float64)
	assert.InDelta(t, 1.0, gpos[transform.AxisZ], 1e-9)

	h.mustRun("G11")
	want = []toolheadMove{
		{transform.Position{20, 10, 1, -1}, 8},
		{transform.Position{20, 10, 1, 0.2}, 20},
	}
	if diff := cmp.Diff(want, h.takeMoves(), approx); diff != "" {
		t.Errorf("G11 moves (-want +got):\n%s", diff)
	}
	st = h.status("firmware_retraction")
	assert.Equal(t, false, st["retract_state"])
	assert.Equal(t, false, st["zhop_state"])
}

func TestRetractUsesFactors(t *testing.T) {
	h := newHost(t, baseConfig+retractionConfig)
	h.mustRun("G28\nG1 X10 Y10 Z1 F6000\nM220 S200\nM221 S50")
	h.takeMoves()

	h.mustRun("G10")
	want := []toolheadMove{
		{transform.Position{10, 10, 1, -0.5}, 80},
		{transform.Position{10, 10, 1.4, -0.5}, 16},
	}
	if diff := cmp.Diff(want, h.takeMoves(), approx); diff != "" {
		t.Errorf("G10 moves (-want +got):\n%s", diff)
	}
}

func TestZMove(t *testing.T) {
	clearing := strings.Replace(retractionConfig, "z_hop_height: 0.4",
		"z_hop_height: 0.4\nclear_zhop_on_z_moves: True", 1)
	tests := []struct {
		name    string
		cfg     string
		wantZ   float64
		wantHop bool
	}{
		{"hop kept", retractionConfig, 2.4, true},
		{"hop cleared", clearing, 2, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHost(t, baseConfig+tc.cfg)
			h.mustRun("G28\nG1 X10 Y10 Z1 F6000\nSET_RETRACTION RETRACT_LENGTH=0\nG10")
			h.takeMoves()

			h.mustRun("G1 Z2")
			want := []toolheadMove{{transform.Position{10, 10, tc.wantZ, 0}, 100}}
			if diff := cmp.Diff(want, h.takeMoves(), approx); diff != "" {
				t.Errorf("z move (-want +got):\n%s", diff)
			}
			st := h.status("firmware_retraction")
			assert.Equal(t, tc.wantHop, st["zhop_state"])
			// status uses the config option's spelling
			assert.Equal(t, !tc.wantHop, st["clear_zhop_on_z_moves"])
		})
	}
}

func TestHopClampedNearTop(t *testing.T) {
	h := newHost(t, baseConfig+retractionConfig)
	h.mustRun("G28\nG1 Z249.8 F6000")
	h.out = nil

	h.mustRun("G10")
	require.Len(t, h.out, 1)
	assert.Equal(t, "// firmware_retraction: z_hop is limited to 0.10000", h.out[0])
	moves := h.takeMoves()
	require.Len(t, moves, 2)
	assert.InDelta(t, 249.9, moves[1].End.Z(), 1e-9)
}

func TestExcludedObjectSuppressesRetraction(t *testing.T) {
	h := newHost(t, baseConfig+retractionConfig)
	h.mustRun("G28\nG1 X10 Y10 Z1 F6000")
	h.takeMoves()
	h.out = nil

	h.mustRun(strings.Join([]string{
		"EXCLUDE_OBJECT_DEFINE NAME=part1 CENTER=50,50",
		"EXCLUDE_OBJECT NAME=part1",
		"EXCLUDE_OBJECT_START NAME=part1",
		"G10",
		"G1 X30 E5",
		"G11",
		"EXCLUDE_OBJECT_END NAME=part1",
	}, "\n"))
	assert.Empty(t, h.takeMoves())
	assert.Equal(t, []string{"// Excluding object PART1"}, h.out)
	assert.Equal(t, false, h.status("firmware_retraction")["retract_state"])

	// the extrusion skipped inside the object is never replayed
	h.mustRun("G1 X40")
	want := []toolheadMove{{transform.Position{40, 10, 1, 0}, 100}}
	if diff := cmp.Diff(want, h.takeMoves(), approx); diff != "" {
		t.Errorf("resume move (-want +got):\n%s", diff)
	}

	st := h.status("exclude_object")
	assert.Equal(t, []string{"PART1"}, st["excluded_objects"])
	assert.Nil(t, st["current_object"])
}

func TestMotorOffClearsHop(t *testing.T) {
	h := newHost(t, baseConfig+retractionConfig)
	h.mustRun("G28\nG1 X10 Y10 Z1 F6000\nG10")
	h.takeMoves()

	h.mustRun("M84")
	st := h.status("firmware_retraction")
	assert.Equal(t, true, st["retract_state"])
	assert.Equal(t, false, st["zhop_state"])
	assert.Equal(t, "", h.status("toolhead")["homed_axes"])
	// the lifted nozzle is now the G-code position
	gpos := h.status("gcode_move")["position"].([]float64)
	assert.InDelta(t, 1.4, gpos[transform.AxisZ], 1e-9)
	assert.Empty(t, h.takeMoves())
}

func TestHomingClearsHop(t *testing.T) {
	h := newHost(t, baseConfig+retractionConfig)
	h.mustRun("G28\nG1 X10 Y10 Z1 F6000\nG10\nG28 Z")

	assert.Equal(t, false, h.status("firmware_retraction")["zhop_state"])
	pos := h.objs.Toolhead.GetPosition()
	if diff := cmp.Diff(transform.Position{10, 10, 0, -1}, pos, approx); diff != "" {
		t.Errorf("toolhead position (-want +got):\n%s", diff)
	}
	gpos := h.status("gcode_move")["gcode_position"].([]float64)
	assert.InDelta(t, 0, gpos[transform.AxisZ], 1e-9)
}

func TestRetractionCommands(t *testing.T) {
	h := newHost(t, baseConfig+retractionConfig)

	h.mustRun("SET_RETRACTION RETRACT_LENGTH=2 Z_HOP_HEIGHT=0\nGET_RETRACTION")
	require.NotEmpty(t, h.out)
	assert.Equal(t, "// RETRACT_LENGTH=2.00000 RETRACT_SPEED=40.00000 UNRETRACT_EXTRA_LENGTH=0.20000 "+
		"UNRETRACT_SPEED=20.00000 Z_HOP_HEIGHT=0.00000 RETRACT_STATE=false ZHOP_STATE=false", h.out[len(h.out)-1])

	err := h.run("SET_RETRACTION RETRACT_LENGTH=3 RETRACT_SPEED=-5")
	require.Error(t, err)
	assert.Equal(t, 2.0, h.status("firmware_retraction")["retract_length"])

	h.mustRun("RESET_RETRACTION")
	st := h.status("firmware_retraction")
	assert.Equal(t, 1.0, st["retract_length"])
	assert.Equal(t, 0.4, st["z_hop_height"])

	h.mustRun("G28\nG1 Z5 F6000\nG10\nCLEAR_RETRACTION")
	assert.Equal(t, "// Retraction was cleared. zhop is undone on next move.", h.out[len(h.out)-1])
	st = h.status("firmware_retraction")
	assert.Equal(t, false, st["retract_state"])
	assert.Equal(t, false, st["zhop_state"])
}

func TestNonFiniteValuesRejected(t *testing.T) {
	h := newHost(t, baseConfig+retractionConfig)
	h.mustRun("G28\nG1 X10 Y10 Z5 F6000")
	h.takeMoves()

	for _, script := range []string{
		"SET_RETRACTION Z_HOP_HEIGHT=nan",
		"SET_RETRACTION RETRACT_SPEED=inf",
		"SET_RETRACTION RETRACT_LENGTH=2 UNRETRACT_SPEED=-Inf",
		"G1 X20 Y=NaN",
		"G1 X20 F=+Inf",
	} {
		t.Run(script, func(t *testing.T) {
			require.Error(t, h.run(script))
		})
	}

	st := h.status("firmware_retraction")
	assert.Equal(t, 1.0, st["retract_length"])
	assert.Equal(t, 40.0, st["retract_speed"])
	assert.Equal(t, 0.4, st["z_hop_height"])
	assert.Empty(t, h.takeMoves())

	h.mustRun("G10\nG1 X20\nG11")
	want := []toolheadMove{
		{transform.Position{10, 10, 5, -1}, 40},
		{transform.Position{10, 10, 5.4, -1}, 8},
		{transform.Position{20, 10, 5.4, -1}, 100},
		{transform.Position{20, 10, 5, -1}, 8},
		{transform.Position{20, 10, 5, 0.2}, 20},
	}
	if diff := cmp.Diff(want, h.takeMoves(), approx); diff != "" {
		t.Errorf("moves (-want +got):\n%s", diff)
	}
	assert.Equal(t, false, h.status("firmware_retraction")["retract_state"])
}

func TestLoadNonFiniteRetractionConfig(t *testing.T) {
	for _, value := range []string{"nan", "inf", "-inf"} {
		cfg, err := config.LoadString(baseConfig + "\n[firmware_retraction]\nz_hop_height: " + value + "\n")
		require.NoError(t, err)
		_, err = Load(printer.New(cfg))
		assert.Error(t, err, value)
	}
}

func TestGCodeMoveCommands(t *testing.T) {
	h := newHost(t, baseConfig)
	h.mustRun("G28\nG1 X10 Y10 Z1 E2 F6000\nG92 E0")

	gpos := h.status("gcode_move")["gcode_position"].([]float64)
	assert.InDelta(t, 0, gpos[transform.AxisE], 1e-9)

	h.mustRun("SAVE_GCODE_STATE NAME=s\nG91\nG1 X5 E1\nRESTORE_GCODE_STATE NAME=s MOVE=1")
	st := h.status("gcode_move")
	assert.Equal(t, true, st["absolute_coordinates"])
	pos := h.objs.Toolhead.GetPosition()
	if diff := cmp.Diff(transform.Position{10, 10, 1, 3}, pos, approx); diff != "" {
		t.Errorf("restored position (-want +got):\n%s", diff)
	}

	err := h.run("G1 X500")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrKinematicsBounds), "%v", err)
	// the failed move is forgotten
	gpos = h.status("gcode_move")["position"].([]float64)
	assert.InDelta(t, 10, gpos[transform.AxisX], 1e-9)

	require.Error(t, h.run("G20"))
}

func TestStepperEnable(t *testing.T) {
	h := newHost(t, baseConfig)
	h.mustRun("G28")
	steppers := h.status("stepper_enable")["steppers"].(map[string]any)
	assert.Equal(t, true, steppers["stepper_z"])

	h.mustRun("SET_STEPPER_ENABLE STEPPER=stepper_z ENABLE=0")
	assert.Equal(t, "// stepper_z has been manually disabled", h.out[len(h.out)-1])
	assert.Equal(t, "xy", h.status("toolhead")["homed_axes"])
	require.Error(t, h.run("G1 Z5"))

	h.mustRun("SET_STEPPER_ENABLE STEPPER=stepper_q")
	assert.Equal(t, "// SET_STEPPER_ENABLE: Invalid stepper stepper_q", h.out[len(h.out)-1])
}
