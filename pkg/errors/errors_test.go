package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestHostErrorMessage(t *testing.T) {
	err := GCodeInvalidParameterError("SET_RETRACTION", "RETRACT_SPEED", "0", "must be >= 1")
	if !strings.Contains(err.Error(), "GCODE_INVALID_PARAM") {
		t.Errorf("expected code in message, got %q", err.Error())
	}
	if err.Option != "RETRACT_SPEED" {
		t.Errorf("expected option RETRACT_SPEED, got %q", err.Option)
	}

	wrapped := Wrap(fmt.Errorf("boom"), ErrRuntime, "move failed")
	if !strings.HasSuffix(wrapped.Error(), "move failed: boom") {
		t.Errorf("unexpected wrapped message %q", wrapped.Error())
	}
}

func TestIsFollowsWrapping(t *testing.T) {
	inner := KinematicsBoundsError("z", 251, 0, 250)
	outer := fmt.Errorf("G1: %w", inner)

	if !Is(outer, ErrKinematicsBounds) {
		t.Error("expected Is to find wrapped bounds error")
	}
	if Is(outer, ErrKinematics) {
		t.Error("bounds error should not match generic kinematics code")
	}

	chained := Wrap(inner, ErrModuleFirmwareRetraction, "retract move failed")
	if !Is(chained, ErrKinematicsBounds) {
		t.Error("expected Is to walk HostError.Err")
	}
	if !Is(chained, ErrModuleFirmwareRetraction) {
		t.Error("expected Is to match outer code")
	}
	if Is(stderrors.New("plain"), ErrRuntime) {
		t.Error("plain error must not match")
	}
}

func TestCategoryHelpers(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		config  bool
		gcode   bool
		runtime bool
	}{
		{"config", ConfigValidationError("firmware_retraction", "retract_speed", "must be >= 1"), true, false, false},
		{"gcode", GCodeUnknownCommandError("G999"), false, true, false},
		{"runtime", RuntimeStateError("firmware_retraction", "uninitialized"), false, false, true},
		{"chain", TransformChainError("dup"), false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConfig(tt.err); got != tt.config {
				t.Errorf("IsConfig = %v, want %v", got, tt.config)
			}
			if got := IsGCode(tt.err); got != tt.gcode {
				t.Errorf("IsGCode = %v, want %v", got, tt.gcode)
			}
			if got := IsRuntime(tt.err); got != tt.runtime {
				t.Errorf("IsRuntime = %v, want %v", got, tt.runtime)
			}
		})
	}
}
