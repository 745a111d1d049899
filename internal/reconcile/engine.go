package reconcile

import (
	"math"
	"time"

	"github.com/nik012003/voyeurs/internal/playback"
)

// Action is a corrective command for the local player. Exactly the types
// in this file implement it; an empty action slice means no correction.
type Action interface {
	isAction()
}

// LoadMedia switches the player to different content.
type LoadMedia struct {
	MediaRef string
}

// Seek moves the playhead to an absolute position in seconds.
type Seek struct {
	Target float64
}

// SetPaused stops or resumes playback.
type SetPaused struct {
	Paused bool
}

// SetRate changes the playback speed multiplier.
type SetRate struct {
	Rate float64
}

func (LoadMedia) isAction() {}
func (Seek) isAction()      {}
func (SetPaused) isAction() {}
func (SetRate) isAction()   {}

// Config holds the correction thresholds. Corrections below threshold are
// tolerated as drift so normal clock skew and player-reported jitter never
// cause seek storms.
type Config struct {
	// DriftTolerance is the maximum position error left uncorrected.
	DriftTolerance time.Duration
	// DegradedDriftTolerance replaces DriftTolerance while the delay
	// estimate is not trustworthy.
	DegradedDriftTolerance time.Duration
	// RateTolerance is the maximum speed mismatch left uncorrected.
	RateTolerance float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		DriftTolerance:         300 * time.Millisecond,
		DegradedDriftTolerance: time.Second,
		RateTolerance:          0.01,
	}
}

// Inputs carries the measured context a correction is computed under.
type Inputs struct {
	// Delay is the estimated one-way transit time of the authoritative
	// snapshot; seek targets are advanced by it while playing.
	Delay time.Duration
	// Elapsed is how long ago the authoritative snapshot was taken.
	Elapsed time.Duration
	// Degraded switches drift checking to the conservative tolerance.
	Degraded bool
}

// Engine computes corrective actions. It is pure: no clock reads, no I/O,
// identical inputs always produce identical actions.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine with the given thresholds.
func NewEngine(cfg Config) Engine {
	return Engine{cfg: cfg}
}

// Reconcile compares the local player state against the authoritative
// snapshot and returns the actions that conform the player to it.
func (e Engine) Reconcile(local, auth playback.State, in Inputs) []Action {
	target := auth.PositionAt(in.Elapsed)
	compensated := target
	if !auth.Paused {
		compensated += in.Delay.Seconds()
	}

	// Different content replaces everything; pin the full target state.
	if auth.MediaRef != local.MediaRef {
		return []Action{
			LoadMedia{MediaRef: auth.MediaRef},
			Seek{Target: compensated},
			SetPaused{Paused: auth.Paused},
			SetRate{Rate: auth.Rate},
		}
	}

	if auth.Paused != local.Paused {
		actions := []Action{SetPaused{Paused: auth.Paused}}
		if !auth.Paused {
			// Resuming: the resume command itself is in flight for
			// Delay, so land past the reported position.
			actions = append(actions, Seek{Target: compensated})
		}
		return actions
	}

	var actions []Action

	tolerance := e.cfg.DriftTolerance
	if in.Degraded {
		tolerance = e.cfg.DegradedDriftTolerance
	}
	drift := math.Abs(local.Position - target)
	if drift > tolerance.Seconds() {
		actions = append(actions, Seek{Target: compensated})
	}

	if math.Abs(local.Rate-auth.Rate) > e.cfg.RateTolerance {
		actions = append(actions, SetRate{Rate: auth.Rate})
	}

	return actions
}
