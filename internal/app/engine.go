package app

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Signal/internal/core"
	"github.com/dkeye/Signal/internal/domain"
)

var ErrAlreadyConnected = errors.New("session already connected")

// Engine runs at most one signaling session at a time. Connect and
// Disconnect never block on the network; progress is reported through
// Subscribe.
type Engine struct {
	variant Variant
	dialer  core.SignalDialer
	media   core.MediaFactory
	source  core.MediaSource
	bus     Bus

	mu  sync.Mutex
	cur *session
}

func NewEngine(variant Variant, dialer core.SignalDialer, media core.MediaFactory, source core.MediaSource) *Engine {
	return &Engine{variant: variant, dialer: dialer, media: media, source: source}
}

func (e *Engine) Variant() Variant { return e.variant }

func (e *Engine) Subscribe(fn func(Notification)) (unsubscribe func()) {
	return e.bus.Subscribe(fn)
}

// Connect validates cfg and starts a fresh session. The session keeps the
// values of ctx but not its cancellation; use Disconnect to end it.
func (e *Engine) Connect(ctx context.Context, cfg domain.SessionConfig) error {
	cfg, err := cfg.Normalize()
	if err != nil {
		return err
	}
	policy, err := PolicyFor(e.variant, cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// A closing session still owns its media and may still publish.
	if e.cur != nil && !e.cur.finished() {
		return ErrAlreadyConnected
	}

	s := newSession(context.WithoutCancel(ctx), cfg, policy, e.media, e.source, &e.bus)
	s.conn = e.dialer.Open(s.ctx, cfg.SignalingURL, s)
	e.cur = s
	go s.run()

	log.Info().
		Str("module", "app").
		Str("session", string(cfg.SessionID)).
		Str("client", string(cfg.ClientID)).
		Str("variant", string(e.variant)).
		Str("run", s.runID).
		Msg("session started")
	return nil
}

// Disconnect asks the live session to tear down. It returns at once and is
// a no-op when nothing is connected.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	s := e.cur
	e.mu.Unlock()
	if s == nil {
		return
	}
	if !s.post(evDisconnect{}) {
		log.Debug().Str("module", "app").Msg("disconnect: no live session")
	}
}

// Wait blocks until the current session, if any, has finished tearing down
// or ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	s := e.cur
	e.mu.Unlock()
	if s == nil {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) State() domain.ConnectionState {
	e.mu.Lock()
	s := e.cur
	e.mu.Unlock()
	if s == nil {
		return domain.StateNew
	}
	return s.State()
}

func (e *Engine) Tracks() domain.TrackSnapshot {
	e.mu.Lock()
	s := e.cur
	e.mu.Unlock()
	if s == nil {
		return domain.TrackSnapshot{Local: []domain.Track{}, Remote: []domain.Track{}}
	}
	return s.tracks.Snapshot()
}

func (e *Engine) SessionID() domain.SessionID {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cur == nil {
		return ""
	}
	return e.cur.cfg.SessionID
}

func newRunID() string { return uuid.NewString()[:8] }
