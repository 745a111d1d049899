package playback

import "time"

// State is a snapshot of what should be playing. The authority owns the only
// writable copy; followers cache the last applied snapshot together with its
// epoch and conform their local player to it.
type State struct {
	// MediaRef is an opaque identifier or URL for the current content.
	MediaRef string
	// Position is the playback position in seconds, monotonic within one MediaRef.
	Position float64
	// Paused reports whether playback is stopped.
	Paused bool
	// Rate is the playback speed multiplier, 1.0 = normal.
	Rate float64
	// Epoch is a version counter bumped on every authoritative change.
	// Snapshots with Epoch <= the last applied epoch are stale and dropped.
	Epoch uint64
}

// PositionAt extrapolates the position forward by elapsed wall time.
// Paused state does not advance; playing state advances at Rate.
func (s State) PositionAt(elapsed time.Duration) float64 {
	if s.Paused {
		return s.Position
	}
	return s.Position + elapsed.Seconds()*s.Rate
}

// Supersedes reports whether this snapshot is newer than appliedEpoch.
func (s State) Supersedes(appliedEpoch uint64) bool {
	return s.Epoch > appliedEpoch
}
