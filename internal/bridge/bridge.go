// Package bridge mirrors authoritative playback transitions onto NATS so
// other systems (overlays, bots, dashboards) can observe the watch session
// without speaking the sync protocol.
package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/nik012003/voyeurs/internal/playback"
)

// Config holds the NATS connection settings.
type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns the stock bridge settings.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "voyeurs.playback",
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
	}
}

// Transition is the published envelope for one authoritative change.
type Transition struct {
	Kind     string  `json:"kind"`
	Epoch    uint64  `json:"epoch"`
	MediaRef string  `json:"mediaRef"`
	Position float64 `json:"position"`
	Paused   bool    `json:"paused"`
	Rate     float64 `json:"rate"`
	At       int64   `json:"at"`
}

// Publisher forwards transitions to NATS. Publishing is best-effort: a
// broker outage never stalls playback sync.
type Publisher struct {
	nc     *nats.Conn
	config Config
}

// NewPublisher connects to NATS.
func NewPublisher(config Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &Publisher{nc: nc, config: config}, nil
}

// Publish sends one transition on <prefix>.<kind>.
func (p *Publisher) Publish(kind string, state playback.State) {
	subject := fmt.Sprintf("%s.%s", p.config.SubjectPrefix, kind)

	payload, err := json.Marshal(Transition{
		Kind:     kind,
		Epoch:    state.Epoch,
		MediaRef: state.MediaRef,
		Position: state.Position,
		Paused:   state.Paused,
		Rate:     state.Rate,
		At:       time.Now().UnixMilli(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal transition")
		return
	}

	if err := p.nc.Publish(subject, payload); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("failed to publish transition")
	}
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
