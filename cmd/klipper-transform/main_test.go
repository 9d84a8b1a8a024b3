package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gopkg.in/yaml.v3"
)

const cliConfig = `
[printer]
max_velocity: 300
max_accel: 3000
max_z_velocity: 10

[stepper_x]
position_endstop: 0
position_max: 200

[stepper_y]
position_endstop: 0
position_max: 200

[stepper_z]
position_endstop: 0
position_max: 250

[firmware_retraction]
retract_length: 1
retract_speed: 40
z_hop_height: 0.4
`

const cliGCode = `G28
G1 X10 Y10 Z1 F6000
G10
G1 X20
G11
`

func writeFiles(t *testing.T) (cfgPath, gcodePath string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath = filepath.Join(dir, "printer.cfg")
	gcodePath = filepath.Join(dir, "print.gcode")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cliConfig), 0o644))
	require.NoError(t, os.WriteFile(gcodePath, []byte(cliGCode), 0o644))
	return cfgPath, gcodePath
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRunYAML(t *testing.T) {
	cfgPath, gcodePath := writeFiles(t)
	out, _, err := execute(t, "--config", cfgPath, "--log-level", "error", "run", gcodePath, "--output", "yaml")
	require.NoError(t, err)

	var doc struct {
		Moves []struct {
			End   []float64 `yaml:"end"`
			Speed float64   `yaml:"speed"`
		} `yaml:"moves"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	require.Len(t, doc.Moves, 6)
	assert.InDeltaSlice(t, []float64{10, 10, 1, -1}, doc.Moves[1].End, 1e-9)
	assert.InDelta(t, 40.0, doc.Moves[1].Speed, 1e-9)
	assert.InDeltaSlice(t, []float64{10, 10, 1.4, -1}, doc.Moves[2].End, 1e-9)
	assert.InDeltaSlice(t, []float64{20, 10, 1, 0}, doc.Moves[5].End, 1e-9)
}

func TestRunText(t *testing.T) {
	cfgPath, gcodePath := writeFiles(t)
	out, _, err := execute(t, "--config", cfgPath, "--log-level", "error", "run", gcodePath)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 6)
}

func TestRunErrors(t *testing.T) {
	cfgPath, gcodePath := writeFiles(t)

	_, _, err := execute(t, "--config", cfgPath, "--log-level", "error", "run", gcodePath, "--output", "xml")
	assert.ErrorContains(t, err, `unknown output "xml"`)

	_, _, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.cfg"), "run", gcodePath)
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.gcode")
	require.NoError(t, os.WriteFile(bad, []byte("G28\nG1 X900\n"), 0o644))
	_, _, err = execute(t, "--config", cfgPath, "--log-level", "error", "run", bad)
	assert.ErrorContains(t, err, "Move out of range")
}

func TestStatus(t *testing.T) {
	cfgPath, gcodePath := writeFiles(t)
	out, _, err := execute(t, "--config", cfgPath, "--log-level", "error", "status", gcodePath)
	require.NoError(t, err)

	var doc map[string]map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	require.Contains(t, doc, "firmware_retraction")
	assert.Equal(t, false, doc["firmware_retraction"]["retract_state"])
	assert.Equal(t, "xyz", doc["toolhead"]["homed_axes"])
}

func TestLogFile(t *testing.T) {
	cfgPath, _ := writeFiles(t)
	logPath := filepath.Join(t.TempDir(), "klippy.log")
	_, _, err := execute(t, "--config", cfgPath, "--log-file", logPath, "--log-level", "debug", "status")
	require.NoError(t, err)
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestReadLinesStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	lines := readLines(ctx, strings.NewReader("G28\nG1 X10\nG10\nG11\n"))
	select {
	case line := <-lines:
		assert.Equal(t, "G28", line)
	case <-time.After(5 * time.Second):
		t.Fatal("no line read")
	}
	// nobody reads the remaining lines; the reader must still exit
	cancel()
}

func TestReadLinesClosesAtEOF(t *testing.T) {
	defer goleak.VerifyNone(t)

	var got []string
	for line := range readLines(context.Background(), strings.NewReader("G28\nG10\n")) {
		got = append(got, line)
	}
	assert.Equal(t, []string{"G28", "G10"}, got)
}
