package config

import (
	stderrors "errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"klipper-go-transform/pkg/errors"
)

const sampleConfig = `
[printer]
kinematics: cartesian
max_velocity: 300
max_z_velocity = 5   ; inline comment

[stepper_z]
position_min: 0
position_max: 250   # inline comment

[firmware_retraction]
retract_length: 0.8
z_hop_height: 0.4
clear_zhop_on_z_moves: yes

#*# <---------------------- SAVE_CONFIG ---------------------->
#*# [stepper_z]
#*# position_endstop = 0.25
`

func TestLoadString(t *testing.T) {
	cfg, err := LoadString(sampleConfig)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	want := []string{"printer", "stepper_z", "firmware_retraction"}
	got := cfg.GetSectionNames()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("section order = %v, want %v", got, want)
	}

	printer, err := cfg.GetSection("printer")
	if err != nil {
		t.Fatalf("GetSection(printer) failed: %v", err)
	}
	if kin, _ := printer.Get("kinematics"); kin != "cartesian" {
		t.Errorf("expected 'cartesian', got '%s'", kin)
	}
	if v, _ := printer.GetFloat("max_z_velocity"); v != 5 {
		t.Errorf("expected max_z_velocity 5, got %v", v)
	}

	z := cfg.GetSectionOptional("stepper_z")
	if v, _ := z.GetFloat("position_max"); v != 250 {
		t.Errorf("expected position_max 250, got %v", v)
	}
	// SAVE_CONFIG block merges into the earlier section
	if v, err := z.GetFloat("position_endstop"); err != nil || v != 0.25 {
		t.Errorf("expected autosaved position_endstop 0.25, got %v (%v)", v, err)
	}

	if cfg.HasSection("nonexistent") {
		t.Error("expected [nonexistent] section to not exist")
	}
	if _, err := cfg.GetSection("nonexistent"); err == nil {
		t.Error("expected error for missing section")
	}
}

func TestLoadStringRejectsInclude(t *testing.T) {
	if _, err := LoadString("[include other.cfg]\n"); err == nil {
		t.Error("expected include to fail without a directory")
	}
	if _, err := LoadString("[ ]\n"); err == nil {
		t.Error("expected empty header to fail")
	}
}

func TestLoadWithInclude(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("printer.cfg", "[include retraction.cfg]\n[printer]\nmax_velocity: 200\n")
	write("retraction.cfg", "[firmware_retraction]\nretract_length: 1.5\n")

	cfg, err := Load(filepath.Join(dir, "printer.cfg"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	sec, err := cfg.GetSection("firmware_retraction")
	if err != nil {
		t.Fatalf("included section missing: %v", err)
	}
	if v, _ := sec.GetFloat("retract_length"); v != 1.5 {
		t.Errorf("expected 1.5, got %v", v)
	}

	write("loop.cfg", "[include loop.cfg]\n")
	if _, err := Load(filepath.Join(dir, "loop.cfg")); err == nil {
		t.Error("expected recursive include error")
	}
	write("missing.cfg", "[include nope.cfg]\n")
	if _, err := Load(filepath.Join(dir, "missing.cfg")); err == nil {
		t.Error("expected missing include error")
	}
}

func TestAccessTracking(t *testing.T) {
	cfg, err := LoadString(sampleConfig)
	if err != nil {
		t.Fatal(err)
	}

	sec := cfg.GetSectionOptional("firmware_retraction")
	_, _ = sec.GetFloat("retract_length", 0)
	_, _ = sec.GetFloat("z_hop_height", 0)
	// fallback reads count as access too
	_, _ = sec.GetFloat("retract_speed", 20)

	if err := cfg.CheckUnusedOptions(); err == nil || !strings.Contains(err.Error(), "clear_zhop_on_z_moves") {
		t.Errorf("expected unused clear_zhop_on_z_moves, got %v", err)
	}
	_, _ = sec.GetBool("clear_zhop_on_z_moves", false)

	unused := cfg.GetUnusedSections()
	if strings.Join(unused, ",") != "printer,stepper_z" {
		t.Errorf("unused sections = %v", unused)
	}
	if err := cfg.CheckUnusedOptions(); err != nil {
		t.Errorf("expected no unused options in accessed sections, got %v", err)
	}
}

func TestBoundsChecking(t *testing.T) {
	cfg, err := LoadString("[firmware_retraction]\nretract_length: -1\nretract_speed: 0\nunretract_speed: 15\n")
	if err != nil {
		t.Fatal(err)
	}
	sec := cfg.GetSectionOptional("firmware_retraction")

	tests := []struct {
		option  string
		bounds  FloatBounds
		wantErr bool
	}{
		{"retract_length", MinVal(0), true},
		{"retract_speed", MinVal(1), true},
		{"unretract_speed", MinVal(1), false},
		{"unretract_speed", Above(15), true},
		{"unretract_speed", FloatBounds{Below: ptr(15.5)}, false},
		{"unretract_speed", FloatBounds{MaxVal: ptr(10)}, true},
	}
	for _, tt := range tests {
		_, err := sec.GetFloatWithBounds(tt.option, tt.bounds)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s %+v: err = %v, wantErr %v", tt.option, tt.bounds, err, tt.wantErr)
		}
	}

	nonFinite := []float64{math.NaN(), math.Inf(1), math.Inf(-1)}
	for _, v := range nonFinite {
		if msg := (FloatBounds{}).Check(v); msg == "" {
			t.Errorf("Check(%v) accepted a non-finite value", v)
		}
		if msg := MinVal(0).Check(v); msg == "" {
			t.Errorf("MinVal(0).Check(%v) accepted a non-finite value", v)
		}
	}
	cfg, err = LoadString("[firmware_retraction]\nz_hop_height: nan\nretract_speed: inf\nretract_length: -Inf\n")
	if err != nil {
		t.Fatal(err)
	}
	nf := cfg.GetSectionOptional("firmware_retraction")
	for _, option := range []string{"z_hop_height", "retract_speed", "retract_length"} {
		if _, err := nf.GetFloat(option); err == nil {
			t.Errorf("%s: non-finite value accepted", option)
		}
		if _, err := nf.GetFloatWithBounds(option, MinVal(0)); err == nil {
			t.Errorf("%s: non-finite value passed bounds", option)
		}
	}

	// fallbacks are bounds checked as well
	if _, err := sec.GetFloatWithBounds("z_hop_height", MinVal(0), -0.5); err == nil {
		t.Error("expected fallback to be bounds checked")
	}
}

func TestSectionTypedGetters(t *testing.T) {
	cfg, err := LoadString("[s]\nflag: maybe\nnum: abc\n")
	if err != nil {
		t.Fatal(err)
	}
	sec := cfg.GetSectionOptional("s")

	if _, err := sec.GetBool("flag"); err == nil {
		t.Error("expected invalid bool error")
	}
	if _, err := sec.GetFloat("num"); err == nil {
		t.Error("expected invalid float error")
	}
	if v, err := sec.GetBool("missing", true); err != nil || !v {
		t.Errorf("expected fallback true, got %v %v", v, err)
	}
	if !sec.HasOption("FLAG") {
		t.Error("options are case-insensitive")
	}
	if got := sec.RawOptions()["num"]; got != "abc" {
		t.Errorf("RawOptions num = %q", got)
	}
}

func TestMissingOptionError(t *testing.T) {
	cfg, _ := LoadString("[printer]\n")
	sec := cfg.GetSectionOptional("printer")

	_, err := sec.GetFloat("max_velocity")
	var cfgErr *ConfigError
	if !stderrors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
	if cfgErr.Option != "max_velocity" || cfgErr.Section != "printer" {
		t.Errorf("unexpected error context: %+v", cfgErr)
	}
	if !strings.Contains(err.Error(), "must be specified") {
		t.Errorf("unexpected message: %s", err)
	}
	if !errors.IsConfig(cfgErr.HostError()) {
		t.Error("expected HostError to classify as config error")
	}
}

func ptr(v float64) *float64 { return &v }
