package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/Signal/internal/core"
	"github.com/dkeye/Signal/internal/domain"
	"github.com/dkeye/Signal/internal/message"
)

// peer is one peer-connection handle owned by the session.
type peer struct {
	name     string
	conn     core.MediaConnection
	receiver bool
	guard    negotiationGuard

	// loop-owned
	negotiated bool
	simulcast  bool
	state      domain.ConnectionState
}

// session is one run of the state machine. Every field below the mailbox is
// owned by the loop goroutine.
type session struct {
	cfg    domain.SessionConfig
	policy Policy
	media  core.MediaFactory
	source core.MediaSource
	bus    *Bus
	logger zerolog.Logger
	runID  string

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	mu      sync.Mutex
	queue   []event
	wake    chan struct{}
	closing chan struct{}
	done    chan struct{}
	once    sync.Once

	state  atomic.Int32
	tracks *domain.TrackSet

	conn             core.SignalConnection
	primary          *peer
	receiver         *peer
	iceServers       []webrtc.ICEServer
	iceTransport     webrtc.ICETransportPolicy
	offerOutstanding bool
	localTracks      []webrtc.TrackLocal
	acquired         bool
}

func newSession(ctx context.Context, cfg domain.SessionConfig, policy Policy,
	media core.MediaFactory, source core.MediaSource, bus *Bus,
) *session {
	ctx, cancel := context.WithCancel(ctx)
	runID := newRunID()
	s := &session{
		cfg:        cfg,
		policy:     policy,
		media:      media,
		source:     source,
		bus:        bus,
		runID:      runID,
		ctx:        ctx,
		cancel:     cancel,
		wake:       make(chan struct{}, 1),
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
		tracks:     domain.NewTrackSet(),
		iceServers: configICE(cfg.ICEServers),
		logger: log.With().
			Str("module", "app").
			Str("session", string(cfg.SessionID)).
			Str("variant", string(policy.Variant)).
			Str("run", runID).
			Logger(),
	}
	s.state.Store(int32(domain.StateNew))
	return s
}

// post queues ev for the loop. It never blocks and reports false once the
// session is closing.
func (s *session) post(ev event) bool {
	s.mu.Lock()
	if s.isClosed() {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// finished reports whether teardown has run to completion.
func (s *session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) isClosed() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

func (s *session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.closing:
			return
		case <-s.wake:
		}
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()
		for _, ev := range batch {
			s.handle(ev)
			if s.isClosed() {
				return
			}
		}
	}
}

// SignalHandler, called from the transport's goroutine.

func (s *session) OnOpen()                { s.post(evOpen{}) }
func (s *session) OnMessage(f core.Frame) { s.post(evFrame{data: f}) }
func (s *session) OnClose(err error)      { s.post(evTransportClosed{err: err}) }
func (s *session) OnError(err error)      { s.post(evTransportError{err: err}) }

func (s *session) State() domain.ConnectionState {
	return domain.ConnectionState(s.state.Load())
}

func (s *session) setState(next domain.ConnectionState) {
	old := domain.ConnectionState(s.state.Swap(int32(next)))
	if old == next {
		return
	}
	s.logger.Info().Stringer("old", old).Stringer("new", next).Msg("state changed")
	s.bus.publish(StateChanged{Old: old, New: next})
}

func (s *session) send(m message.Message) {
	data, err := message.Encode(m)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode")
		return
	}
	if err := s.conn.TrySend(data); err != nil {
		s.logger.Warn().Err(err).Str("type", string(m.Type)).Msg("send dropped")
		return
	}
	s.logger.Debug().Str("type", string(m.Type)).Msg("sent")
}

func (s *session) fail(stage string, err error) {
	s.logger.Error().Err(err).Str("stage", stage).Msg("negotiation failed")
	s.bus.publish(NegotiationFailed{Stage: stage, Err: err})
}

// current reports whether p is still installed; events from replaced
// handles are dropped.
func (s *session) current(p *peer) bool {
	return p != nil && (p == s.primary || p == s.receiver)
}

// aggregate folds the installed handles into one session state: Connected
// once every handle is connected, Connecting otherwise.
func (s *session) aggregate() domain.ConnectionState {
	for _, p := range []*peer{s.primary, s.receiver} {
		if p != nil && p.state != domain.StateConnected {
			return domain.StateConnecting
		}
	}
	return domain.StateConnected
}

func (s *session) configuration() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers:         s.iceServers,
		ICETransportPolicy: s.iceTransport,
	}
}

// acquireMedia fetches local tracks once per session.
func (s *session) acquireMedia() {
	if s.acquired || s.source == nil || !s.cfg.Role.Sends() {
		return
	}
	tracks, err := s.source.Acquire(s.ctx)
	s.acquired = true
	if err != nil {
		s.fail("acquire-media", err)
		return
	}
	s.localTracks = tracks
	for _, t := range tracks {
		s.tracks.AddLocal(domain.Track{ID: t.ID(), StreamID: t.StreamID(), Kind: domain.TrackKind(t.Kind().String())})
	}
}

// newPeer creates a handle, wires its callbacks into the loop and attaches
// local media unless it only receives.
func (s *session) newPeer(name string, receiver bool) (*peer, error) {
	conn, err := s.media.NewConnection(s.configuration())
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	p := &peer{name: name, conn: conn, receiver: receiver}

	conn.OnICECandidate(func(c webrtc.ICECandidateInit) { s.post(evLocalCandidate{p: p, init: c}) })
	conn.OnConnectionStateChange(func(st webrtc.PeerConnectionState) { s.post(evPeerState{p: p, state: st}) })
	conn.OnNegotiationNeeded(func() { s.post(evNegotiationNeeded{p: p}) })
	conn.OnTrack(func(t domain.Track) { s.post(evRemoteTrack{p: p, track: t}) })
	conn.OnTrackEnded(func(id string) { s.post(evTrackEnded{p: p, id: id}) })

	if !receiver {
		for _, t := range s.localTracks {
			if err := conn.AddLocalTrack(t); err != nil {
				s.logger.Error().Err(err).Str("track_id", t.ID()).Msg("attach local track")
			}
		}
	}
	s.logger.Info().Str("peer", name).Int("local_tracks", len(s.localTracks)).Msg("peer connection installed")
	return p, nil
}

func (s *session) primaryName() string {
	if s.policy.DualPeer {
		return "sender"
	}
	return "main"
}

// replace closes old before returning the new handle.
func (s *session) replace(old *peer, name string, receiver bool) (*peer, error) {
	if old != nil {
		s.closePeer(old)
	}
	return s.newPeer(name, receiver)
}

func (s *session) closePeer(p *peer) {
	if err := p.conn.Close(); err != nil {
		s.logger.Warn().Err(err).Str("peer", p.name).Msg("close peer connection")
	}
}

// applySimulcast spreads layers over the first local video transceiver that
// no remote description has fixed yet.
func (s *session) applySimulcast(p *peer, layers []core.Encoding) {
	if p.simulcast || len(layers) == 0 {
		return
	}
	for _, tr := range p.conn.Transceivers() {
		if tr.Kind != domain.KindVideo || tr.TrackID == "" || tr.Committed {
			continue
		}
		if err := p.conn.ApplySimulcast(tr.TrackID, layers); err != nil {
			s.fail("simulcast", err)
			return
		}
		p.simulcast = true
		s.logger.Info().Str("track_id", tr.TrackID).Int("layers", len(layers)).Msg("simulcast applied")
		return
	}
	s.logger.Debug().Msg("simulcast: no uncommitted video track")
}

// teardown releases everything the session owns and reports the end once.
func (s *session) teardown(reason string) {
	s.once.Do(func() {
		s.mu.Lock()
		close(s.closing)
		s.queue = nil
		s.mu.Unlock()
		s.cancel()

		for _, p := range []*peer{s.primary, s.receiver} {
			if p != nil {
				s.closePeer(p)
			}
		}
		s.primary, s.receiver = nil, nil
		if s.conn != nil {
			s.conn.Close()
		}
		if s.acquired && s.source != nil {
			s.source.Release()
		}
		s.localTracks = nil
		if r := s.wg.WaitAndRecover(); r != nil {
			s.logger.Error().Str("panic", r.String()).Msg("negotiation goroutine panicked")
		}
		s.tracks.Reset()

		s.logger.Info().Str("reason", reason).Msg("session closed")
		s.setState(domain.StateDisconnected)
		s.bus.publish(Disconnected{Reason: reason})
	})
}
