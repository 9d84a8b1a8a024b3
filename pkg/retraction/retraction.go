// Firmware retraction with z-hop as a move transform
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package retraction implements Marlin/RepRap style firmware retraction
// (G10/G11) with an optional z-hop. The Retraction sits in the move
// transform chain: while a hop is active it adds the hop height to the Z of
// every move it forwards and removes it from every position it reports.
package retraction

import (
	"fmt"

	"klipper-go-transform/pkg/errors"
	"klipper-go-transform/pkg/log"
	"klipper-go-transform/pkg/metrics"
	"klipper-go-transform/pkg/transform"
)

const sectionName = "firmware_retraction"

// Notices sent to the command source.
const (
	msgRetractDisabled   = "Retraction length and z_hop zero. Firmware retraction disabled. G10 Command ignored!"
	msgUnretractDisabled = "Retraction length and z_hop zero. Firmware retraction disabled. G11 Command ignored!"
	msgZHopLimited       = "firmware_retraction: z_hop is limited to %.5f"
)

// Reasons passed to ClearZHop.
const (
	ReasonHoming          = "homing"
	ReasonMotorOff        = "motor_off"
	ReasonZMove           = "z_move"
	ReasonClearRetraction = "clear_retraction"
	reasonRetract         = "retract"
	reasonUnretract       = "unretract"
	reasonHopFailed       = "hop_failed"
)

// ErrAlreadyBound is returned by Bind after the first successful call.
var ErrAlreadyBound = errors.FirmwareRetractionError("already bound to a transform chain")

// ModalState exposes the G-code interpreter state the retraction needs.
// Factors returns the extrude factor and the speed factor as multipliers
// (1.0 = 100%). ResetLastPosition makes the interpreter re-read its
// position from the chain.
type ModalState interface {
	Factors() (extrudeFactor, speedFactor float64)
	ResetLastPosition()
}

// ExcludedRegion reports whether the toolhead is inside an excluded object.
type ExcludedRegion interface {
	InExcludedRegion() bool
}

// Responder receives informational notices.
type Responder interface {
	RespondInfo(msg string)
}

type nopResponder struct{}

func (nopResponder) RespondInfo(string) {}

// Lifecycle is the binding state of a Retraction.
type Lifecycle int

const (
	Uninitialized Lifecycle = iota
	Ready
	Active
)

func (l Lifecycle) String() string {
	switch l {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("lifecycle(%d)", int(l))
	}
}

// Binding connects a Retraction to the running machine.
type Binding struct {
	// Next is the chain participant moves are forwarded to.
	Next transform.PositionTransform
	// MaximumZ is the top of Z travel.
	MaximumZ float64
	Modal    ModalState
	// Excluded is optional.
	Excluded ExcludedRegion
}

// Retraction holds the retraction parameters and runtime state.
// It is not safe for concurrent use.
type Retraction struct {
	params       Params
	maxZVelocity float64

	isRetracted            bool
	doZHop                 bool
	currentZHopHeight      float64
	currentUnretractLength float64
	currentUnretractSpeed  float64
	lastPosition           transform.Position

	state    Lifecycle
	next     transform.PositionTransform
	maximumZ float64
	modal    ModalState
	excluded ExcludedRegion

	logger *log.Logger
}

var _ transform.PositionTransform = (*Retraction)(nil)

// New creates an unbound Retraction. maxZVelocity (mm/s) sets the speed
// of hop moves.
func New(params Params, maxZVelocity float64) (*Retraction, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if maxZVelocity <= 0 {
		return nil, errors.ConfigValidationError("printer", "max_z_velocity", "must be above 0")
	}
	r := &Retraction{
		params:       params,
		maxZVelocity: maxZVelocity,
		logger:       log.GetLogger(sectionName),
	}
	// an unretract never reads values that were not set by a retract
	r.currentUnretractLength = params.UnretractLength()
	r.currentUnretractSpeed = params.UnretractSpeed
	r.publishState()
	return r, nil
}

// Bind performs the one-time Uninitialized to Ready transition.
func (r *Retraction) Bind(b Binding) error {
	if r.state != Uninitialized {
		return ErrAlreadyBound
	}
	if b.Next == nil {
		return errors.FirmwareRetractionError("bind: no next transform")
	}
	if b.Modal == nil {
		return errors.FirmwareRetractionError("bind: no gcode modal state")
	}
	r.next = b.Next
	r.maximumZ = b.MaximumZ
	r.modal = b.Modal
	r.excluded = b.Excluded
	r.lastPosition = b.Next.GetPosition()
	r.state = Ready
	r.logger.WithFields(log.Fields{"maximum_z": b.MaximumZ, "max_z_velocity": r.maxZVelocity}).Info("bound to move transform chain")
	return nil
}

// TransformName names the retraction in chain listings.
func (r *Retraction) TransformName() string { return sectionName }

// State returns the lifecycle state.
func (r *Retraction) State() Lifecycle { return r.state }

func (r *Retraction) requireBound(op string) error {
	if r.state == Uninitialized {
		return errors.RuntimeStateError(sectionName, r.state.String()).SetContext("op", op)
	}
	r.state = Active
	return nil
}

// GetPosition returns the next participant's position with the active hop
// removed from Z.
func (r *Retraction) GetPosition() transform.Position {
	if r.next == nil {
		return r.lastPosition
	}
	r.state = Active
	pos := r.next.GetPosition()
	pos[transform.AxisZ] -= r.currentZHopHeight
	r.lastPosition = pos
	return pos
}

// Move forwards newPos with the active hop added to Z. A move that
// changes Z drops the hop first when ClearZHopOnZMove is set.
func (r *Retraction) Move(newPos transform.Position, speed float64) error {
	if err := r.requireBound("move"); err != nil {
		return err
	}
	if r.doZHop && r.params.ClearZHopOnZMove && newPos.Z() != r.lastPosition.Z() {
		r.ClearZHop(ReasonZMove)
	}
	adjusted := newPos
	adjusted[transform.AxisZ] += r.currentZHopHeight
	if err := r.next.Move(adjusted, speed); err != nil {
		return err
	}
	r.lastPosition = newPos
	return nil
}

func (r *Retraction) inExcludedRegion() bool {
	return r.excluded != nil && r.excluded.InExcludedRegion()
}

// Retract performs G10.
func (r *Retraction) Retract(resp Responder) error {
	if err := r.requireBound("G10"); err != nil {
		return err
	}
	if resp == nil {
		resp = nopResponder{}
	}
	if r.isRetracted || r.inExcludedRegion() {
		metrics.RetractionCommands.WithLabelValues("G10", metrics.ResultIgnored).Inc()
		return nil
	}
	if r.params.RetractLength == 0 && r.params.ZHopHeight == 0 {
		resp.RespondInfo(msgRetractDisabled)
		metrics.RetractionCommands.WithLabelValues("G10", metrics.ResultDisabled).Inc()
		return nil
	}

	extrudeFactor, speedFactor := r.modal.Factors()
	r.currentUnretractLength = r.params.UnretractLength()
	r.currentUnretractSpeed = r.params.UnretractSpeed
	r.ClearZHop(reasonRetract)

	pos := r.GetPosition()
	if r.params.RetractLength > 0 {
		pos[transform.AxisE] -= r.params.RetractLength * extrudeFactor
		if err := r.Move(pos, r.params.RetractSpeed*speedFactor); err != nil {
			metrics.RetractionCommands.WithLabelValues("G10", metrics.ResultError).Inc()
			return errors.Wrap(err, errors.ErrModuleFirmwareRetraction, "retract move failed")
		}
	}
	if r.limitZHop(resp, pos.Z()) {
		r.doZHop = true
		if err := r.Move(pos, zhopMoveSpeedFraction*r.maxZVelocity*speedFactor); err != nil {
			// the filament is retracted but the nozzle never lifted
			r.ClearZHop(reasonHopFailed)
			r.finishRetract()
			metrics.RetractionCommands.WithLabelValues("G10", metrics.ResultError).Inc()
			return errors.Wrap(err, errors.ErrModuleFirmwareRetraction, "z-hop move failed")
		}
	}
	r.finishRetract()
	metrics.RetractionCommands.WithLabelValues("G10", metrics.ResultApplied).Inc()
	r.logger.WithFields(log.Fields{
		"length": r.params.RetractLength * extrudeFactor,
		"z_hop":  r.currentZHopHeight,
	}).Debug("retracted")
	return nil
}

func (r *Retraction) finishRetract() {
	r.modal.ResetLastPosition()
	r.isRetracted = true
	r.publishState()
}

// limitZHop sets the hop height for a retract starting at z.
func (r *Retraction) limitZHop(resp Responder, z float64) bool {
	height, clamped := LimitZHop(r.params.ZHopHeight, r.maximumZ, z)
	r.currentZHopHeight = height
	if clamped {
		msg := fmt.Sprintf(msgZHopLimited, height)
		resp.RespondInfo(msg)
		r.logger.WithFields(log.Fields{"requested": r.params.ZHopHeight, "z": z}).Warn(msg)
		metrics.ZHopClamped.Inc()
	}
	return height > 0
}

// Unretract performs G11.
func (r *Retraction) Unretract(resp Responder) error {
	if err := r.requireBound("G11"); err != nil {
		return err
	}
	if resp == nil {
		resp = nopResponder{}
	}
	if !r.isRetracted || r.inExcludedRegion() {
		metrics.RetractionCommands.WithLabelValues("G11", metrics.ResultIgnored).Inc()
		return nil
	}

	result := metrics.ResultApplied
	if r.currentUnretractLength == 0 && r.currentZHopHeight == 0 {
		resp.RespondInfo(msgUnretractDisabled)
		result = metrics.ResultDisabled
	} else {
		extrudeFactor, speedFactor := r.modal.Factors()
		pos := r.GetPosition()
		r.ClearZHop(reasonUnretract)
		if err := r.Move(pos, zhopMoveSpeedFraction*r.maxZVelocity*speedFactor); err != nil {
			return r.unretractFailed(err, "z-hop return move failed")
		}
		if r.currentUnretractLength > 0 {
			pos[transform.AxisE] += r.currentUnretractLength * extrudeFactor
			if err := r.Move(pos, r.currentUnretractSpeed*speedFactor); err != nil {
				return r.unretractFailed(err, "unretract move failed")
			}
		}
		r.modal.ResetLastPosition()
	}
	r.isRetracted = false
	r.publishState()
	metrics.RetractionCommands.WithLabelValues("G11", result).Inc()
	return nil
}

// unretractFailed leaves the filament marked retracted so G11 can be
// retried; the hop is already gone.
func (r *Retraction) unretractFailed(err error, msg string) error {
	r.modal.ResetLastPosition()
	r.publishState()
	metrics.RetractionCommands.WithLabelValues("G11", metrics.ResultError).Inc()
	return errors.Wrap(err, errors.ErrModuleFirmwareRetraction, msg)
}

// ClearZHop drops the hop bookkeeping without moving. The retracted flag
// is left alone. The next forwarded move lands at the unhopped Z.
func (r *Retraction) ClearZHop(reason string) {
	if r.doZHop {
		metrics.ZHopCleared.WithLabelValues(reason).Inc()
		r.logger.WithField("reason", reason).Debug("z-hop cleared")
	}
	r.doZHop = false
	r.currentZHopHeight = 0
	r.publishState()
}

// Clear performs CLEAR_RETRACTION: the hop is dropped and the filament is
// considered unretracted, without any move.
func (r *Retraction) Clear() {
	r.ClearZHop(ReasonClearRetraction)
	r.isRetracted = false
	r.publishState()
}

// SetParams applies a partial update. Nothing changes if any value is
// out of range. An in-progress retract keeps the unretract length and
// speed captured when it started.
func (r *Retraction) SetParams(u ParamUpdate) error {
	next, err := r.params.Apply(u)
	if err != nil {
		return err
	}
	r.params = next
	return nil
}

// Reset replaces all parameters, e.g. with the values from the config.
func (r *Retraction) Reset(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.params = p
	return nil
}

// Params returns the current parameters.
func (r *Retraction) Params() Params { return r.params }

// IsRetracted reports whether the filament is retracted.
func (r *Retraction) IsRetracted() bool { return r.isRetracted }

// ZHopActive reports whether a hop is applied to forwarded moves.
func (r *Retraction) ZHopActive() bool { return r.doZHop }

// CurrentZHopHeight is the effective, possibly clamped, hop height.
func (r *Retraction) CurrentZHopHeight() float64 { return r.currentZHopHeight }

// CurrentUnretract returns the length and speed the next G11 will use.
func (r *Retraction) CurrentUnretract() (length, speed float64) {
	return r.currentUnretractLength, r.currentUnretractSpeed
}

// LastPosition is the most recent position seen or produced upstream.
func (r *Retraction) LastPosition() transform.Position { return r.lastPosition }

// Status returns the parameters and state flags. It has no side effects.
func (r *Retraction) Status() map[string]any {
	return map[string]any{
		"retract_length":         r.params.RetractLength,
		"retract_speed":          r.params.RetractSpeed,
		"unretract_extra_length": r.params.UnretractExtraLength,
		"unretract_speed":        r.params.UnretractSpeed,
		"z_hop_height":           r.params.ZHopHeight,
		"unretract_length":       r.params.UnretractLength(),
		"clear_zhop_on_z_moves":  r.params.ClearZHopOnZMove,
		"retract_state":          r.isRetracted,
		"zhop_state":             r.doZHop,
	}
}

// Describe formats the GET_RETRACTION response.
func (r *Retraction) Describe() string {
	p := r.params
	return fmt.Sprintf("RETRACT_LENGTH=%.5f RETRACT_SPEED=%.5f UNRETRACT_EXTRA_LENGTH=%.5f "+
		"UNRETRACT_SPEED=%.5f Z_HOP_HEIGHT=%.5f RETRACT_STATE=%t ZHOP_STATE=%t",
		p.RetractLength, p.RetractSpeed, p.UnretractExtraLength,
		p.UnretractSpeed, p.ZHopHeight, r.isRetracted, r.doZHop)
}

func (r *Retraction) publishState() {
	metrics.SetRetractionState(r.isRetracted, r.doZHop)
}
