// Package player abstracts the local media player's control channel. The
// sync engine never talks to a player directly; it consumes this interface.
package player

import (
	"errors"

	"github.com/nik012003/voyeurs/internal/playback"
)

// Origin tags an observed state change with its cause, so remotely-driven
// corrections are never mistaken for local user input and echoed back.
type Origin int

const (
	// OriginPlayer marks a change driven by the player itself, i.e. the
	// local user or the player's own progression.
	OriginPlayer Origin = iota
	// OriginAdapter marks a change caused by a command this adapter
	// issued.
	OriginAdapter
)

func (o Origin) String() string {
	switch o {
	case OriginPlayer:
		return "player"
	case OriginAdapter:
		return "adapter"
	default:
		return "unknown"
	}
}

// Change is one observed mutation of the player's state.
type Change struct {
	State  playback.State
	Origin Origin
}

// ErrUnavailable marks a player that is not reachable or has nothing
// loaded. Callers retry with backoff; a follower degrades rather than
// closing its network session.
var ErrUnavailable = errors.New("player: unavailable")

// Adapter is the control capability over one local player instance.
// Implementations must tag changes caused by their own commands with
// OriginAdapter.
type Adapter interface {
	// State reports the player's current playback state. Epoch is not
	// meaningful on locally read state and is left zero.
	State() (playback.State, error)
	// SetPaused stops or resumes playback.
	SetPaused(paused bool) error
	// Seek moves the playhead to an absolute position in seconds.
	Seek(position float64) error
	// SetRate changes the playback speed multiplier.
	SetRate(rate float64) error
	// Load switches the player to different content.
	Load(mediaRef string) error
	// ShowMessage displays a short on-screen notice. Best-effort.
	ShowMessage(text string)
	// Changes delivers observed state changes. The channel is closed
	// when the adapter shuts down.
	Changes() <-chan Change
	// Close releases the player connection.
	Close() error
}
