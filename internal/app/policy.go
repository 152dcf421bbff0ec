package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Signal/internal/core"
	"github.com/dkeye/Signal/internal/domain"
	"github.com/dkeye/Signal/internal/message"
)

type Variant string

const (
	VariantAyame Variant = "ayame"
	VariantSora  Variant = "sora"
	VariantP2P   Variant = "p2p"
)

var ErrUnknownVariant = errors.New("unknown signaling variant")

func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(s)); v {
	case VariantAyame, VariantSora, VariantP2P:
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
}

type CandidateWire int

const (
	// {"ice":{candidate,sdpMid,sdpMLineIndex}}
	CandidateICE CandidateWire = iota
	// {"candidate":"..."}
	CandidateBare
	// {"ice":{...},"peer":"sender|receiver"}
	CandidatePeer
)

// Policy is the per-dialect parameter set the engine applies at each
// transition. There is one engine; dialects only differ here.
type Policy struct {
	Variant      Variant
	RegisterType message.Type

	// ICE servers come from accept (Ayame) or from the offer config (Sora);
	// when neither is set only the configured defaults are used.
	ICEFromAccept bool
	ICEFromOffer  bool

	// DualPeer keeps a sending and a receiving handle side by side.
	DualPeer bool
	// OfferInConnect puts a capability offer into the connect message.
	OfferInConnect bool
	// RecreateOnOffer replaces the handle on every inbound offer. When
	// false the handle is reused and reconfigured.
	RecreateOnOffer bool

	RenegotiationType message.Type
	// AnswerUpdate answers an inbound update with an update.
	AnswerUpdate bool
	Candidates   CandidateWire

	// SimulcastFromOffer applies the layers listed in an inbound offer.
	SimulcastFromOffer bool
	// SimulcastLocal applies DefaultLayers before the first local offer.
	SimulcastLocal bool

	// ToggleRemote reduces track notifications with the toggle rule instead
	// of an idempotent add.
	ToggleRemote bool
}

func PolicyFor(v Variant, cfg domain.SessionConfig) (Policy, error) {
	switch v {
	case VariantAyame:
		return Policy{
			Variant:           v,
			RegisterType:      message.TypeRegister,
			ICEFromAccept:     true,
			RecreateOnOffer:   true,
			RenegotiationType: message.TypeOffer,
			Candidates:        CandidateICE,
			ToggleRemote:      cfg.Multistream,
		}, nil
	case VariantSora:
		return Policy{
			Variant:            v,
			RegisterType:       message.TypeConnect,
			ICEFromOffer:       true,
			OfferInConnect:     true,
			RenegotiationType:  message.TypeUpdate,
			AnswerUpdate:       cfg.Multistream,
			Candidates:         CandidateBare,
			SimulcastFromOffer: cfg.Simulcast,
			ToggleRemote:       cfg.Multistream,
		}, nil
	case VariantP2P:
		return Policy{
			Variant:           v,
			RegisterType:      message.TypeRegister,
			DualPeer:          true,
			RecreateOnOffer:   true,
			RenegotiationType: message.TypeOffer,
			Candidates:        CandidatePeer,
			SimulcastLocal:    cfg.Simulcast,
			ToggleRemote:      true,
		}, nil
	}
	return Policy{}, fmt.Errorf("%w: %q", ErrUnknownVariant, v)
}

// DefaultLayers are the encodings used when simulcast is requested locally.
var DefaultLayers = []core.Encoding{
	{RID: "r0", Active: true, ScaleResolutionDownBy: 4},
	{RID: "r1", Active: true, ScaleResolutionDownBy: 2},
	{RID: "r2", Active: true, ScaleResolutionDownBy: 1},
}

// registerMessage builds the first message sent once the socket opens.
// offerSDP is only used by dialects that carry a capability offer.
func (p Policy) registerMessage(cfg domain.SessionConfig, offerSDP string) (message.Message, error) {
	if p.RegisterType == message.TypeRegister {
		return message.Message{
			Type:     message.TypeRegister,
			RoomID:   string(cfg.SessionID),
			ClientID: string(cfg.ClientID),
			Key:      cfg.Credential,
			Role:     string(cfg.Role),
		}, nil
	}

	role := cfg.Role
	if role == domain.RoleNone {
		role = domain.RoleSendRecv
	}
	m := message.Message{
		Type:         message.TypeConnect,
		ChannelID:    string(cfg.SessionID),
		SoraClientID: string(cfg.ClientID),
		Role:         string(role),
		Multistream:  message.Bool(cfg.Multistream),
		Spotlight:    cfg.Spotlight,
		Video:        mediaOption(cfg.Video),
		Audio:        mediaOption(cfg.Audio),
		SDP:          offerSDP,
		SoraClient:   "Signal",
		Environment:  "go",
	}
	if cfg.Simulcast {
		m.Simulcast = message.Bool(true)
	}
	meta := cfg.Metadata
	if cfg.Credential != "" {
		meta = make(map[string]any, len(cfg.Metadata)+1)
		for k, v := range cfg.Metadata {
			meta[k] = v
		}
		if _, ok := meta["signaling_key"]; !ok {
			meta["signaling_key"] = cfg.Credential
		}
	}
	if len(meta) > 0 {
		raw, err := json.Marshal(meta)
		if err != nil {
			return message.Message{}, fmt.Errorf("metadata: %w", err)
		}
		m.Metadata = raw
	}
	return m, nil
}

func mediaOption(s domain.MediaSpec) *message.MediaOption {
	if s.Enabled == nil && s.Codec == "" && s.BitRate == 0 {
		return nil
	}
	enabled := s.Enabled == nil || *s.Enabled
	return &message.MediaOption{Enabled: enabled, CodecType: s.Codec, BitRate: s.BitRate}
}

// candidateMessage wraps a local candidate in the dialect's wire form.
// peer names which of our handles gathered it.
func (p Policy) candidateMessage(init webrtc.ICECandidateInit, peer string) message.Message {
	switch p.Candidates {
	case CandidateBare:
		return message.Message{Type: message.TypeCandidate, Candidate: init.Candidate}
	case CandidatePeer:
		return message.Message{Type: message.TypeCandidate, ICE: message.ICEFromPion(init), Peer: peer}
	}
	return message.Message{Type: message.TypeCandidate, ICE: message.ICEFromPion(init)}
}

func toPionICE(servers []message.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, webrtc.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return out
}

func configICE(servers []domain.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, webrtc.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return out
}
