package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

type statusPayload struct {
	State     statusState     `json:"state"`
	Followers []statusSession `json:"followers"`
}

type statusState struct {
	MediaRef string  `json:"mediaRef"`
	Position float64 `json:"position"`
	Paused   bool    `json:"paused"`
	Rate     float64 `json:"rate"`
	Epoch    uint64  `json:"epoch"`
}

type statusSession struct {
	ID            string `json:"id"`
	Peer          string `json:"peer"`
	Remote        string `json:"remote"`
	State         string `json:"state"`
	OneWayDelayMS int64  `json:"oneWayDelayMs"`
}

// ServeStatus exposes a read-only JSON snapshot of the authoritative state
// and the session set, for dashboards and debugging.
func (s *Server) ServeStatus(ctx context.Context, addr string) {
	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)

	srv := &http.Server{
		Addr:    addr,
		Handler: c.Handler(mux),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("status endpoint listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("status endpoint failed")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := s.currentState()

	s.mu.Lock()
	followers := make([]statusSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		followers = append(followers, statusSession{
			ID:            sess.ID.String(),
			Peer:          sess.PeerName,
			Remote:        sess.RemoteAddr(),
			State:         sess.State().String(),
			OneWayDelayMS: sess.Estimator().OneWayDelay().Milliseconds(),
		})
	}
	s.mu.Unlock()

	payload := statusPayload{
		State: statusState{
			MediaRef: state.MediaRef,
			Position: state.Position,
			Paused:   state.Paused,
			Rate:     state.Rate,
			Epoch:    state.Epoch,
		},
		Followers: followers,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode status")
	}
}
