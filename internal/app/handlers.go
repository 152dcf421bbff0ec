package app

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Signal/internal/core"
	"github.com/dkeye/Signal/internal/domain"
	"github.com/dkeye/Signal/internal/message"
)

type event any

type (
	evOpen              struct{}
	evFrame             struct{ data core.Frame }
	evTransportClosed   struct{ err error }
	evTransportError    struct{ err error }
	evDisconnect        struct{}
	evNegotiationNeeded struct{ p *peer }
)

type evLocalCandidate struct {
	p    *peer
	init webrtc.ICECandidateInit
}

type evPeerState struct {
	p     *peer
	state webrtc.PeerConnectionState
}

type evRemoteTrack struct {
	p     *peer
	track domain.Track
}

type evTrackEnded struct {
	p  *peer
	id string
}

// evOfferCreated carries an offer back to the loop together with the
// guard release that the loop must run.
type evOfferCreated struct {
	p       *peer
	typ     message.Type
	desc    webrtc.SessionDescription
	err     error
	release func()
}

func (s *session) handle(ev event) {
	switch ev := ev.(type) {
	case evOpen:
		s.onOpen()
	case evFrame:
		s.onFrame(ev.data)
	case evTransportClosed:
		s.teardown(fmt.Sprintf("transport closed: %v", ev.err))
	case evTransportError:
		s.teardown(fmt.Sprintf("transport error: %v", ev.err))
	case evDisconnect:
		s.teardown("disconnect")
	case evLocalCandidate:
		s.onLocalCandidate(ev.p, ev.init)
	case evPeerState:
		s.onPeerState(ev.p, ev.state)
	case evNegotiationNeeded:
		s.onNegotiationNeeded(ev.p)
	case evRemoteTrack:
		s.onRemoteTrack(ev.p, ev.track)
	case evTrackEnded:
		s.onTrackEnded(ev.p, ev.id)
	case evOfferCreated:
		s.onOfferCreated(ev)
	}
}

func (s *session) onOpen() {
	s.setState(domain.StateConnecting)
	s.acquireMedia()

	var offerSDP string
	if s.policy.OfferInConnect {
		p, err := s.newPeer("main", false)
		if err != nil {
			s.fail("create-peer", err)
		} else {
			s.primary = p
			desc, err := p.conn.CreateOffer()
			if err != nil {
				s.fail("create-offer", err)
			} else {
				offerSDP = desc.SDP
			}
		}
	}

	m, err := s.policy.registerMessage(s.cfg, offerSDP)
	if err != nil {
		s.logger.Error().Err(err).Msg("build register message")
		s.teardown(err.Error())
		return
	}
	s.send(m)
}

func (s *session) onFrame(data core.Frame) {
	m, err := message.Decode(data)
	if err != nil {
		if errors.Is(err, message.ErrMalformed) {
			s.logger.Error().Err(err).Msg("signaling error")
		} else {
			s.logger.Warn().Err(err).Msg("signaling message ignored")
		}
		return
	}
	s.logger.Debug().Str("type", string(m.Type)).Msg("received")

	switch m.Type {
	case message.TypeAccept:
		s.onAccept(m)
	case message.TypeReject:
		reason := "reject"
		if m.Reason != "" {
			reason = "reject: " + m.Reason
		}
		s.teardown(reason)
	case message.TypeOffer:
		s.onOffer(m)
	case message.TypeAnswer:
		s.onAnswer(m)
	case message.TypeUpdate:
		s.onUpdate(m)
	case message.TypeCandidate:
		s.onCandidate(m)
	case message.TypePing:
		s.send(message.Message{Type: message.TypePong})
	case message.TypeNotify, message.TypeBye:
		s.logger.Info().Str("type", string(m.Type)).RawJSON("frame", data).Msg("server notice")
	default:
		if !m.Known() {
			s.logger.Info().Str("type", string(m.Type)).Msg("unknown signal")
			return
		}
		s.logger.Debug().Str("type", string(m.Type)).Msg("unexpected signal ignored")
	}
}

func (s *session) onAccept(m message.Message) {
	if s.State() != domain.StateConnecting {
		s.logger.Warn().Stringer("state", s.State()).Msg("accept outside connecting, ignored")
		return
	}
	if s.policy.ICEFromAccept && len(m.ICEServers) > 0 {
		s.iceServers = toPionICE(m.ICEServers)
	}
	if s.primary == nil {
		p, err := s.newPeer(s.primaryName(), false)
		if err != nil {
			s.fail("create-peer", err)
			return
		}
		s.primary = p
	} else if err := s.primary.conn.SetConfiguration(s.configuration()); err != nil {
		s.logger.Warn().Err(err).Msg("apply ice servers")
	}
	if m.PeerExists() {
		s.startOffer(s.primary, message.TypeOffer)
	}
}

// onOffer answers an inbound offer. The target handle is the receiver in
// dual-peer sessions and the main handle otherwise.
func (s *session) onOffer(m message.Message) {
	if s.policy.ICEFromOffer && m.Config != nil {
		if len(m.Config.ICEServers) > 0 {
			s.iceServers = toPionICE(m.Config.ICEServers)
		}
		if m.Config.ICETransportPolicy != "" {
			s.iceTransport = webrtc.NewICETransportPolicy(m.Config.ICETransportPolicy)
		}
	}
	if m.ConnectionID != "" {
		s.logger = s.logger.With().Str("connection_id", m.ConnectionID).Logger()
	}

	var p *peer
	switch {
	case s.policy.DualPeer:
		np, err := s.replace(s.receiver, "receiver", true)
		if err != nil {
			s.fail("create-peer", err)
			return
		}
		s.receiver, p = np, np
	case s.policy.RecreateOnOffer || s.primary == nil:
		np, err := s.replace(s.primary, s.primaryName(), false)
		if err != nil {
			s.fail("create-peer", err)
			return
		}
		s.primary, p = np, np
	default:
		p = s.primary
		if err := p.conn.SetConfiguration(s.configuration()); err != nil {
			s.logger.Warn().Err(err).Msg("apply offer config")
		}
	}

	if s.policy.SimulcastFromOffer && len(m.Encodings) > 0 {
		s.applySimulcast(p, encodings(m.Encodings))
	}
	if !s.answer(p, m, message.TypeAnswer) || !s.policy.DualPeer {
		return
	}

	// The remote side sends to us; make sure our own sending handle
	// offers back if it has not yet.
	if s.primary == nil {
		np, err := s.newPeer(s.primaryName(), false)
		if err != nil {
			s.fail("create-peer", err)
			return
		}
		s.primary = np
	}
	if !s.primary.negotiated && !s.offerOutstanding {
		s.startOffer(s.primary, message.TypeOffer)
	}
}

func (s *session) answer(p *peer, m message.Message, reply message.Type) bool {
	desc, err := m.Description()
	if err != nil {
		s.logger.Warn().Err(err).Msg("offer without description")
		return false
	}
	if err := p.conn.SetRemoteDescription(desc); err != nil {
		s.fail("set-remote", err)
		return false
	}
	p.negotiated = true
	answer, err := p.conn.CreateAnswer()
	if err != nil {
		s.fail("create-answer", err)
		return false
	}
	if err := p.conn.SetLocalDescription(answer); err != nil {
		s.fail("set-local", err)
		return false
	}
	s.send(message.Message{Type: reply, SDP: localSDP(p, answer)})
	return true
}

func (s *session) onAnswer(m message.Message) {
	p := s.primary
	if p == nil || !s.offerOutstanding {
		s.logger.Warn().Msg("answer without outstanding offer, ignored")
		return
	}
	desc, err := m.Description()
	if err != nil {
		return
	}
	if err := p.conn.SetRemoteDescription(desc); err != nil {
		s.fail("set-remote", err)
		return
	}
	s.offerOutstanding = false
	p.negotiated = true
}

func (s *session) onUpdate(m message.Message) {
	if !s.policy.AnswerUpdate || s.primary == nil {
		s.logger.Debug().Msg("update ignored")
		return
	}
	s.answer(s.primary, m, message.TypeUpdate)
}

// onCandidate routes a remote candidate. In dual-peer sessions the peer
// field names the remote side that gathered it, so a sender candidate
// belongs to our receiver and the other way round.
func (s *session) onCandidate(m message.Message) {
	init, ok := m.CandidateInit()
	if !ok {
		s.logger.Warn().Msg("candidate without payload, ignored")
		return
	}
	var targets []*peer
	switch {
	case !s.policy.DualPeer:
		targets = []*peer{s.primary}
	case m.Peer == message.PeerSender:
		targets = []*peer{s.receiver}
	case m.Peer == message.PeerReceiver:
		targets = []*peer{s.primary}
	default:
		targets = []*peer{s.receiver, s.primary}
	}
	for _, p := range targets {
		if p == nil {
			continue
		}
		if err := p.conn.AddICECandidate(init); err != nil {
			s.logger.Warn().Err(err).Str("peer", p.name).Str("event", "candidate_add_failed").Msg("remote candidate rejected")
			continue
		}
		return
	}
	s.logger.Debug().Msg("candidate before peer connection, dropped")
}

func (s *session) onLocalCandidate(p *peer, init webrtc.ICECandidateInit) {
	if !s.current(p) {
		return
	}
	side := message.PeerSender
	if p.receiver {
		side = message.PeerReceiver
	}
	s.send(s.policy.candidateMessage(init, side))
}

// onPeerState records the handle's mapped state and republishes the
// aggregate. A failed or closed handle is dropped on its own; the session
// ends once no handle is left.
func (s *session) onPeerState(p *peer, st webrtc.PeerConnectionState) {
	if !s.current(p) {
		return
	}
	next, ok := domain.MapPeerState(st)
	if !ok {
		return
	}
	p.state = next
	if next == domain.StateConnected {
		s.offerOutstanding = false
	}
	if next != domain.StateDisconnected {
		s.setState(s.aggregate())
		return
	}

	s.logger.Warn().Str("peer", p.name).Stringer("peer_state", st).Msg("peer connection lost")
	s.closePeer(p)
	if p == s.primary {
		s.primary = nil
		s.offerOutstanding = false
	} else {
		s.receiver = nil
	}
	if s.primary != nil || s.receiver != nil {
		s.setState(s.aggregate())
		return
	}
	s.setState(domain.StateDisconnected)
	s.teardown(fmt.Sprintf("peer connection %s", st))
}

// onNegotiationNeeded is honoured only after the handle finished its first
// exchange; earlier bursts come from attaching the initial tracks.
func (s *session) onNegotiationNeeded(p *peer) {
	if !s.current(p) || p.receiver {
		return
	}
	if !p.negotiated {
		s.logger.Debug().Str("peer", p.name).Msg("negotiation needed before first exchange, ignored")
		return
	}
	s.startOffer(p, s.policy.RenegotiationType)
}

func (s *session) onRemoteTrack(p *peer, t domain.Track) {
	if !s.current(p) {
		return
	}
	if s.policy.ToggleRemote {
		if s.tracks.ToggleRemote(t) {
			s.bus.publish(TrackAdded{Track: t})
		} else {
			s.bus.publish(TrackRemoved{TrackID: t.ID})
		}
		return
	}
	if s.tracks.AddRemote(t) {
		s.bus.publish(TrackAdded{Track: t})
	}
}

func (s *session) onTrackEnded(p *peer, id string) {
	if !s.current(p) {
		return
	}
	if s.tracks.RemoveRemote(id) {
		s.bus.publish(TrackRemoved{TrackID: id})
	}
}

func encodings(in []message.Encoding) []core.Encoding {
	out := make([]core.Encoding, 0, len(in))
	for _, e := range in {
		out = append(out, core.Encoding{
			RID:                   e.RID,
			Active:                e.Active == nil || *e.Active,
			ScaleResolutionDownBy: e.ScaleResolutionDownBy,
			MaxBitrate:            e.MaxBitrate,
		})
	}
	return out
}
