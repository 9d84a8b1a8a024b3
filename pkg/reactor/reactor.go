// Package reactor runs timers and submitted callbacks on a single
// goroutine. Everything that touches printer state from outside the
// command loop (API requests, periodic status pushes) goes through it, so
// the move transform chain only ever sees one caller at a time.
package reactor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Constants
const (
	NOW   = 0.0
	NEVER = 9999999999999999.0
)

// Common errors
var (
	ErrReactorClosed = errors.New("reactor: reactor closed")
	ErrNotRunning    = errors.New("reactor: not running")
)

// TimerCallback is called when a timer fires.
// The callback receives the event time and returns the next wake time.
// Return NEVER to park the timer.
type TimerCallback func(eventtime float64) float64

// Timer is a registered timer.
type Timer struct {
	callback TimerCallback
	waketime float64
}

// Reactor owns the dispatch goroutine.
type Reactor struct {
	mu     sync.Mutex
	timers []*Timer

	queue chan func(eventtime float64)
	wake  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	running atomic.Bool
	wg      sync.WaitGroup

	startTime time.Time
}

// New creates a Reactor. Nothing runs until Run is called.
func New() *Reactor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reactor{
		queue:     make(chan func(float64)),
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Monotonic returns the time since the reactor was created, in seconds.
func (r *Reactor) Monotonic() float64 {
	return time.Since(r.startTime).Seconds()
}

func (r *Reactor) poke() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// RegisterTimer registers a timer that first fires at waketime.
func (r *Reactor) RegisterTimer(callback TimerCallback, waketime float64) *Timer {
	timer := &Timer{callback: callback, waketime: waketime}
	r.mu.Lock()
	r.timers = append(r.timers, timer)
	r.mu.Unlock()
	r.poke()
	return timer
}

// UnregisterTimer removes a timer. It will not fire again.
func (r *Reactor) UnregisterTimer(timer *Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	timer.waketime = NEVER
	for i, t := range r.timers {
		if t == timer {
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			break
		}
	}
}

// UpdateTimer changes a timer's wake time.
func (r *Reactor) UpdateTimer(timer *Timer, waketime float64) {
	r.mu.Lock()
	timer.waketime = waketime
	r.mu.Unlock()
	r.poke()
}

// Run starts the dispatch goroutine.
func (r *Reactor) Run() {
	if r.running.Swap(true) {
		return
	}
	r.wg.Add(1)
	go r.dispatchLoop()
}

// Running reports whether the dispatch goroutine is active.
func (r *Reactor) Running() bool {
	return r.running.Load()
}

// End stops the reactor. Pending Callback calls return ErrReactorClosed.
func (r *Reactor) End() {
	r.cancel()
}

// Wait blocks until the dispatch goroutine has exited.
func (r *Reactor) Wait() {
	r.wg.Wait()
}

// Callback runs fn on the dispatch goroutine and waits for its result.
// If ctx ends after fn was queued, fn still runs; its result is dropped.
func (r *Reactor) Callback(ctx context.Context, fn func(eventtime float64) error) error {
	if !r.running.Load() {
		return ErrNotRunning
	}
	done := make(chan error, 1)
	job := func(eventtime float64) { done <- fn(eventtime) }

	select {
	case r.queue <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrReactorClosed
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrReactorClosed
	}
}

func (r *Reactor) dispatchLoop() {
	defer r.wg.Done()
	defer r.running.Store(false)

	for {
		next := r.checkTimers(r.Monotonic())

		var timerC <-chan time.Time
		var t *time.Timer
		if next < NEVER {
			delay := time.Duration((next - r.Monotonic()) * float64(time.Second))
			if delay < 0 {
				delay = 0
			}
			t = time.NewTimer(delay)
			timerC = t.C
		}

		select {
		case job := <-r.queue:
			job(r.Monotonic())
		case <-r.wake:
		case <-timerC:
		case <-r.ctx.Done():
			if t != nil {
				t.Stop()
			}
			return
		}
		if t != nil {
			t.Stop()
		}
	}
}

// checkTimers fires due timers and returns the earliest pending wake time.
func (r *Reactor) checkTimers(eventtime float64) float64 {
	r.mu.Lock()
	var due []*Timer
	for _, timer := range r.timers {
		if eventtime >= timer.waketime {
			timer.waketime = NEVER
			due = append(due, timer)
		}
	}
	r.mu.Unlock()

	for _, timer := range due {
		newWaketime := timer.callback(eventtime)
		r.mu.Lock()
		if newWaketime < timer.waketime {
			timer.waketime = newWaketime
		}
		r.mu.Unlock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	nextWake := NEVER
	for _, timer := range r.timers {
		if timer.waketime < nextWake {
			nextWake = timer.waketime
		}
	}
	return nextWake
}
