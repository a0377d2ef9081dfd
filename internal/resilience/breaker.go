// Package resilience provides the circuit breaker that guards calls to the
// external advisory service. Advisory calls are best-effort: a tripped
// breaker short-circuits straight to the caller's fallback.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the breaker's lifecycle position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned when the breaker rejects a call without attempting it.
var ErrOpen = errors.New("circuit breaker is open")

// Settings tunes one breaker instance.
type Settings struct {
	// Timeout bounds a single guarded call; an overrun counts as a failure.
	Timeout time.Duration
	// ErrorThresholdPc trips the breaker when the rolling error rate
	// reaches this percentage.
	ErrorThresholdPc float64
	// VolumeThreshold is the minimum calls in the window before the error
	// rate is considered at all.
	VolumeThreshold int
	// ResetTimeout is how long an open breaker waits before probing.
	ResetTimeout time.Duration
	// WindowSize caps the rolling outcome window.
	WindowSize int
}

func (s Settings) withDefaults() Settings {
	if s.Timeout <= 0 {
		s.Timeout = 3 * time.Second
	}
	if s.ErrorThresholdPc <= 0 {
		s.ErrorThresholdPc = 50
	}
	if s.VolumeThreshold <= 0 {
		s.VolumeThreshold = 5
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 30 * time.Second
	}
	if s.WindowSize <= 0 {
		s.WindowSize = 20
	}
	return s
}

// Breaker is a three-state circuit breaker over a rolling outcome window.
type Breaker struct {
	name     string
	settings Settings
	log      zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	state    State
	window   []bool // true = failure
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a named breaker in the closed state.
func NewBreaker(name string, settings Settings, log zerolog.Logger) *Breaker {
	return &Breaker{
		name:     name,
		settings: settings.withDefaults(),
		log:      log.With().Str("component", "breaker").Str("breaker", name).Logger(),
		now:      time.Now,
	}
}

// Name returns the breaker's identifier.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, advancing OPEN to HALF_OPEN when the
// reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()
	return b.state
}

// Gauge reports the state as 0 (closed), 1 (open) or 2 (half-open) for
// status endpoints.
func (b *Breaker) Gauge() int {
	return int(b.State())
}

// Execute runs fn under the breaker's per-call timeout, recording its
// outcome. An open breaker returns ErrOpen without calling fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allow() {
		return ErrOpen
	}

	callCtx, cancel := context.WithTimeout(ctx, b.settings.Timeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil && callCtx.Err() != nil {
		err = callCtx.Err()
	}
	b.record(err == nil)
	return err
}

// allow decides whether a call may proceed. In half-open state only one
// probe is in flight at a time.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// record folds one outcome into the window and applies transitions.
func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
		if success {
			b.toClosedLocked()
		} else {
			b.toOpenLocked()
		}
		return
	}

	b.window = append(b.window, !success)
	if len(b.window) > b.settings.WindowSize {
		b.window = b.window[len(b.window)-b.settings.WindowSize:]
	}

	if b.state == StateClosed && b.shouldTripLocked() {
		b.toOpenLocked()
	}
}

func (b *Breaker) shouldTripLocked() bool {
	if len(b.window) < b.settings.VolumeThreshold {
		return false
	}
	failures := 0
	for _, failed := range b.window {
		if failed {
			failures++
		}
	}
	rate := float64(failures) / float64(len(b.window)) * 100
	return rate >= b.settings.ErrorThresholdPc
}

func (b *Breaker) advanceLocked() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.settings.ResetTimeout {
		b.state = StateHalfOpen
		b.probing = false
		b.log.Info().Msg("Circuit breaker half-open, probing")
	}
}

func (b *Breaker) toOpenLocked() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.window = nil
	b.log.Warn().Msg("Circuit breaker opened")
}

func (b *Breaker) toClosedLocked() {
	b.state = StateClosed
	b.window = nil
	b.log.Info().Msg("Circuit breaker closed")
}
