package player

import (
	"sync"

	"github.com/nik012003/voyeurs/internal/playback"
)

// Fake is an in-memory Adapter for tests. Issued commands mutate the held
// state, are recorded, and are observable as OriginAdapter changes;
// EmitLocalChange simulates the local user touching the player.
type Fake struct {
	mu      sync.Mutex
	state   playback.State
	issued  []string
	failAll bool
	changes chan Change
	closed  bool
}

// NewFake creates a fake adapter holding the given initial state.
func NewFake(initial playback.State) *Fake {
	return &Fake{
		state:   initial,
		changes: make(chan Change, 64),
	}
}

// FailCommands makes every subsequent command return ErrUnavailable.
func (f *Fake) FailCommands(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = fail
}

// Issued returns the commands applied so far, in order.
func (f *Fake) Issued() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.issued))
	copy(out, f.issued)
	return out
}

// EmitLocalChange simulates a player-native change (local user input).
func (f *Fake) EmitLocalChange(mutate func(*playback.State)) {
	f.mu.Lock()
	mutate(&f.state)
	state := f.state
	closed := f.closed
	f.mu.Unlock()
	if !closed {
		f.changes <- Change{State: state, Origin: OriginPlayer}
	}
}

func (f *Fake) apply(name string, mutate func(*playback.State)) error {
	f.mu.Lock()
	if f.failAll {
		f.mu.Unlock()
		return ErrUnavailable
	}
	mutate(&f.state)
	f.issued = append(f.issued, name)
	state := f.state
	closed := f.closed
	f.mu.Unlock()
	if !closed {
		select {
		case f.changes <- Change{State: state, Origin: OriginAdapter}:
		default:
		}
	}
	return nil
}

func (f *Fake) State() (playback.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return playback.State{}, ErrUnavailable
	}
	return f.state, nil
}

func (f *Fake) SetPaused(paused bool) error {
	return f.apply("pause", func(s *playback.State) { s.Paused = paused })
}

func (f *Fake) Seek(position float64) error {
	return f.apply("seek", func(s *playback.State) { s.Position = position })
}

func (f *Fake) SetRate(rate float64) error {
	return f.apply("rate", func(s *playback.State) { s.Rate = rate })
}

func (f *Fake) Load(mediaRef string) error {
	return f.apply("load", func(s *playback.State) {
		s.MediaRef = mediaRef
		s.Position = 0
	})
}

func (f *Fake) ShowMessage(text string) {}

func (f *Fake) Changes() <-chan Change {
	return f.changes
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.changes)
	}
	return nil
}
