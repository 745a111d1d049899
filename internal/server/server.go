// Package server implements the authority role: it owns the playback
// state, accepts follower connections, and broadcasts every change.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/nik012003/voyeurs/internal/bridge"
	"github.com/nik012003/voyeurs/internal/config"
	"github.com/nik012003/voyeurs/internal/playback"
	"github.com/nik012003/voyeurs/internal/player"
	"github.com/nik012003/voyeurs/internal/protocol"
	"github.com/nik012003/voyeurs/internal/session"
	"github.com/nik012003/voyeurs/internal/store"
	"github.com/nik012003/voyeurs/internal/transport"
)

// Server is the single authority. All mutations of the playback state go
// through one mutex; broadcasts iterate a snapshot of the session set
// taken under that same lock.
type Server struct {
	cfg     *config.Config
	clock   clockwork.Clock
	adapter player.Adapter
	store   *store.Store      // optional
	bridge  *bridge.Publisher // optional

	mu       sync.Mutex
	state    playback.State
	stateAt  time.Time
	sessions map[uuid.UUID]*session.Session

	listeners []transport.Listener
}

// New creates a server. store and publisher may be nil.
func New(cfg *config.Config, adapter player.Adapter, st *store.Store, pub *bridge.Publisher, clk clockwork.Clock) *Server {
	return &Server{
		cfg:      cfg,
		clock:    clk,
		adapter:  adapter,
		store:    st,
		bridge:   pub,
		sessions: make(map[uuid.UUID]*session.Session),
	}
}

// AddListener registers a transport to accept followers on.
func (s *Server) AddListener(l transport.Listener) {
	s.listeners = append(s.listeners, l)
}

// Run seeds the authoritative state from the local player, then serves
// until the context is cancelled or the local player goes away. The
// authority's player is the single source of truth, so losing it is fatal.
func (s *Server) Run(ctx context.Context) error {
	if err := s.seedState(); err != nil {
		return fmt.Errorf("seed state: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, l := range s.listeners {
		go s.acceptLoop(ctx, l)
	}
	go s.fullStateLoop(ctx)

	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-s.adapter.Changes():
			if !ok {
				return fmt.Errorf("local player gone: %w", player.ErrUnavailable)
			}
			// Only player-native events are authoritative changes;
			// our own resume seek must not echo as a user action.
			if change.Origin != player.OriginPlayer {
				continue
			}
			s.applyLocalChange(change.State)
		}
	}
}

// seedState reads the initial state from the player and, unless disabled,
// restores the stored resume position for the loaded media.
func (s *Server) seedState() error {
	state, err := s.adapter.State()
	if err != nil {
		return err
	}

	if s.store != nil && !s.cfg.Store.Fresh && state.MediaRef != "" {
		if pos, ok, err := s.store.LoadPosition(state.MediaRef); err != nil {
			log.Warn().Err(err).Msg("resume lookup failed")
		} else if ok && pos > state.Position {
			if err := s.adapter.Seek(pos); err != nil {
				log.Warn().Err(err).Msg("resume seek failed")
			} else {
				state.Position = pos
				s.adapter.ShowMessage(fmt.Sprintf("resumed at %.0fs", pos))
			}
		}
	}

	s.mu.Lock()
	state.Epoch = 1
	s.state = state
	s.stateAt = s.clock.Now()
	s.mu.Unlock()

	log.Info().
		Str("media_ref", state.MediaRef).
		Float64("position", state.Position).
		Bool("paused", state.Paused).
		Msg("authoritative state seeded")
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, l transport.Listener) {
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	log.Info().Str("addr", l.Addr()).Msg("accepting followers")
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("accept failed")
			return
		}
		go s.HandleConn(ctx, conn)
	}
}

// HandleConn runs the server side of one follower connection.
func (s *Server) HandleConn(ctx context.Context, conn transport.Conn) {
	sessCfg := session.Config{
		Name:             s.cfg.Name,
		HandshakeTimeout: s.cfg.HandshakeTimeout(),
		PingInterval:     s.cfg.PingInterval(),
		LivenessWindow:   s.cfg.LivenessWindow(),
		SendQueueSize:    s.cfg.Sync.SendQueueSize,
	}

	sess := session.New(conn, session.RoleAuthority, s.clock, sessCfg)
	if err := sess.Handshake(false); err != nil {
		log.Warn().Err(err).Str("remote", conn.RemoteAddr()).Msg("follower handshake failed")
		return
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	count := len(s.sessions)
	s.mu.Unlock()

	sess.Start(ctx, s)

	// Join-in-progress: a new follower always gets the complete state,
	// never a partial delta.
	sess.Send(protocol.FullState{State: s.currentState()})

	s.adapter.ShowMessage(fmt.Sprintf("%s connected", sess.PeerName))
	log.Info().
		Str("session_id", sess.ID.String()).
		Str("peer", sess.PeerName).
		Int("followers", count).
		Msg("follower joined")
}

// HandleMessage implements session.Handler. Followers have nothing
// authoritative to say; stray state messages are logged and dropped.
func (s *Server) HandleMessage(sess *session.Session, msg protocol.Message) error {
	log.Warn().
		Str("session_id", sess.ID.String()).
		Str("type", fmt.Sprintf("%T", msg)).
		Msg("ignoring state message from follower")
	return nil
}

// SessionClosed implements session.Handler.
func (s *Server) SessionClosed(sess *session.Session, reason error) {
	s.mu.Lock()
	_, known := s.sessions[sess.ID]
	delete(s.sessions, sess.ID)
	count := len(s.sessions)
	s.mu.Unlock()

	if known {
		s.adapter.ShowMessage(fmt.Sprintf("%s disconnected", sess.PeerName))
		log.Info().
			Str("session_id", sess.ID.String()).
			Str("peer", sess.PeerName).
			Int("followers", count).
			Msg("follower left")
	}
}

// applyLocalChange turns a local player event into a new authoritative
// epoch and broadcasts it.
func (s *Server) applyLocalChange(state playback.State) {
	s.mu.Lock()
	state.Epoch = s.state.Epoch + 1
	s.state = state
	s.stateAt = s.clock.Now()
	targets := s.snapshotSessionsLocked()
	s.mu.Unlock()

	s.broadcast(targets, protocol.StateDelta{State: state})
	s.persist(state)
	if s.bridge != nil {
		s.bridge.Publish("changed", state)
	}

	log.Debug().
		Uint64("epoch", state.Epoch).
		Float64("position", state.Position).
		Bool("paused", state.Paused).
		Int("followers", len(targets)).
		Msg("authoritative change broadcast")
}

// fullStateLoop periodically re-sends the complete state so recovering or
// slow followers converge without waiting for the next discrete change.
func (s *Server) fullStateLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.FullStateInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			state, targets := s.refreshState()
			if len(targets) == 0 {
				continue
			}
			s.broadcast(targets, protocol.FullState{State: state})
			s.persist(state)
		}
	}
}

// refreshState returns the state for a periodic FullState. While playing
// the position has moved, so the refreshed snapshot is a new epoch; while
// paused the state is unchanged and the current epoch is re-sent, which
// up-to-date followers drop as stale.
func (s *Server) refreshState() (playback.State, []*session.Session) {
	live, err := s.adapter.State()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Paused {
		if err == nil && live.MediaRef == s.state.MediaRef {
			s.state.Position = live.Position
		} else {
			s.state.Position = s.state.PositionAt(s.clock.Since(s.stateAt))
		}
		s.state.Epoch++
		s.stateAt = s.clock.Now()
	}
	return s.state, s.snapshotSessionsLocked()
}

func (s *Server) snapshotSessionsLocked() []*session.Session {
	targets := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		switch sess.State() {
		case session.Synced, session.Degraded:
			targets = append(targets, sess)
		}
	}
	return targets
}

func (s *Server) broadcast(targets []*session.Session, msg protocol.Message) {
	for _, sess := range targets {
		sess.Send(msg)
	}
}

func (s *Server) persist(state playback.State) {
	if s.store == nil {
		return
	}
	if err := s.store.SavePosition(state.MediaRef, state.Position); err != nil {
		log.Warn().Err(err).Msg("failed to persist resume position")
	}
}

// currentState returns the authoritative snapshot with the position
// brought forward to now.
func (s *Server) currentState() playback.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.state
	state.Position = state.PositionAt(s.clock.Since(s.stateAt))
	return state
}

// FollowerCount returns the number of registered sessions.
func (s *Server) FollowerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) shutdown() {
	s.mu.Lock()
	state := s.state
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Close(nil)
	}
	s.persist(state)
	if s.bridge != nil {
		s.bridge.Publish("stopped", state)
	}
	log.Info().Msg("server shut down")
}
