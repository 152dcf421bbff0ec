package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Signal/internal/core"
	"github.com/dkeye/Signal/internal/domain"
)

var ErrTrackNotFound = errors.New("local track not attached")

// Connection implements core.MediaConnection over a pion PeerConnection.
type Connection struct {
	pc     *webrtc.PeerConnection
	id     string
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// set after the first successful SetRemoteDescription
	negotiated atomic.Bool

	mu            sync.RWMutex
	onICE         func(webrtc.ICECandidateInit)
	onTrack       func(domain.Track)
	onTrackEnded  func(string)
	onState       func(webrtc.PeerConnectionState)
	onNegotiation func()
}

func newConnection(pc *webrtc.PeerConnection) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()[:8]
	c := &Connection{
		pc:     pc,
		id:     id,
		logger: log.With().Str("module", "webrtc").Str("pc", id).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		c.mu.RLock()
		fn := c.onState
		c.mu.RUnlock()
		if fn != nil {
			fn(s)
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.RLock()
		fn := c.onICE
		c.mu.RUnlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnNegotiationNeeded(func() {
		c.mu.RLock()
		fn := c.onNegotiation
		c.mu.RUnlock()
		if fn != nil {
			fn()
		}
	})

	pc.OnTrack(c.handleTrack)
	return c
}

func (c *Connection) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	t := domain.Track{
		ID:       track.ID(),
		StreamID: track.StreamID(),
		Kind:     domain.TrackKind(track.Kind().String()),
		RID:      track.RID(),
	}
	c.logger.Info().
		Str("kind", string(t.Kind)).
		Str("track_id", t.ID).
		Str("stream_id", t.StreamID).
		Str("rid", t.RID).
		Msg("OnTrack received")

	stats := &TrackStats{}
	c.mu.RLock()
	fn := c.onTrack
	c.mu.RUnlock()
	if fn != nil {
		fn(t)
	}

	go func() {
		logger := c.logger.With().Str("track_id", t.ID).Logger()
		_ = drain(c.ctx, track, stats, &logger)
		logger.Info().Uint64("packets", stats.Packets()).Uint64("bytes", stats.Bytes()).Msg("remote track ended")
		if c.ctx.Err() != nil {
			return
		}
		c.mu.RLock()
		ended := c.onTrackEnded
		c.mu.RUnlock()
		if ended != nil {
			ended(t.ID)
		}
	}()
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *Connection) SetLocalDescription(d webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(d)
}

// SetRemoteDescription rejects unparsable SDP before it reaches pion.
func (c *Connection) SetRemoteDescription(d webrtc.SessionDescription) error {
	sections, err := Inspect(d.SDP)
	if err != nil {
		return err
	}
	if err := c.pc.SetRemoteDescription(d); err != nil {
		return err
	}
	c.negotiated.Store(true)
	for _, s := range sections {
		c.logger.Debug().Str("mid", s.Mid).Str("kind", s.Kind).Str("direction", s.Direction).Strs("rids", s.RIDs).Msg("remote media")
	}
	return nil
}

func (c *Connection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) SetConfiguration(cfg webrtc.Configuration) error {
	return c.pc.SetConfiguration(cfg)
}

// AddLocalTrack attaches a local track and drains its RTCP so the sender's
// interceptors keep running.
func (c *Connection) AddLocalTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	go readRTCP(sender)
	return nil
}

func readRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

type codecTrack interface {
	webrtc.TrackLocal
	Codec() webrtc.RTPCodecCapability
}

// ApplySimulcast replaces the sender of trackID with a send-only transceiver
// carrying one RID-tagged track per layer.
func (c *Connection) ApplySimulcast(trackID string, layers []core.Encoding) error {
	if len(layers) == 0 {
		return nil
	}
	var (
		base   codecTrack
		sender *webrtc.RTPSender
	)
	for _, tr := range c.pc.GetTransceivers() {
		s := tr.Sender()
		if s == nil || s.Track() == nil || s.Track().ID() != trackID {
			continue
		}
		ct, ok := s.Track().(codecTrack)
		if !ok {
			return fmt.Errorf("track %s: codec unknown", trackID)
		}
		base, sender = ct, s
		break
	}
	if base == nil {
		return fmt.Errorf("%w: %s", ErrTrackNotFound, trackID)
	}
	if err := c.pc.RemoveTrack(sender); err != nil {
		return fmt.Errorf("remove %s: %w", trackID, err)
	}

	var tr *webrtc.RTPTransceiver
	for i, l := range layers {
		rid := l.RID
		if rid == "" {
			rid = fmt.Sprintf("r%d", i)
		}
		t, err := webrtc.NewTrackLocalStaticRTP(base.Codec(), base.ID(), base.StreamID(), webrtc.WithRTPStreamID(rid))
		if err != nil {
			return err
		}
		if tr == nil {
			tr, err = c.pc.AddTransceiverFromTrack(t, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendonly})
			if err != nil {
				return fmt.Errorf("simulcast transceiver: %w", err)
			}
			go readRTCP(tr.Sender())
		} else if err := tr.Sender().AddEncoding(t); err != nil {
			return fmt.Errorf("simulcast layer %s: %w", rid, err)
		}
		c.logger.Info().
			Str("track_id", trackID).
			Str("rid", rid).
			Bool("active", l.Active).
			Float64("scale_down", l.ScaleResolutionDownBy).
			Int("max_bitrate", l.MaxBitrate).
			Msg("simulcast layer")
	}
	return nil
}

func (c *Connection) Transceivers() []core.TransceiverInfo {
	negotiated := c.negotiated.Load()
	trs := c.pc.GetTransceivers()
	out := make([]core.TransceiverInfo, 0, len(trs))
	for _, tr := range trs {
		info := core.TransceiverInfo{
			Mid:  tr.Mid(),
			Kind: domain.TrackKind(tr.Kind().String()),
		}
		if s := tr.Sender(); s != nil && s.Track() != nil {
			info.TrackID = s.Track().ID()
		}
		info.Committed = negotiated && info.Mid != ""
		out = append(out, info)
	}
	return out
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Connection) OnTrack(fn func(domain.Track)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Connection) OnTrackEnded(fn func(string)) {
	c.mu.Lock()
	c.onTrackEnded = fn
	c.mu.Unlock()
}

func (c *Connection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Connection) OnNegotiationNeeded(fn func()) {
	c.mu.Lock()
	c.onNegotiation = fn
	c.mu.Unlock()
}

func (c *Connection) Close() error {
	c.cancel()
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return err
	}
	c.logger.Info().Msg("closed")
	return nil
}
