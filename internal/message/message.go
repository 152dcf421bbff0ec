// Package message is the wire model shared by the Ayame, Sora and P2P
// signaling dialects. One struct covers every type; fields that do not apply
// to a type stay at their zero value and are omitted on the wire.
package message

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

type Type string

const (
	TypeRegister  Type = "register"
	TypeConnect   Type = "connect"
	TypeAccept    Type = "accept"
	TypeReject    Type = "reject"
	TypeOffer     Type = "offer"
	TypeAnswer    Type = "answer"
	TypeCandidate Type = "candidate"
	TypeUpdate    Type = "update"
	TypePing      Type = "ping"
	TypePong      Type = "pong"
	TypeNotify    Type = "notify"
	TypeBye       Type = "bye"
)

// P2P candidate routing: which of the sender's two peer connections produced it.
const (
	PeerSender   = "sender"
	PeerReceiver = "receiver"
)

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type ICE struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Config is the peer connection configuration carried by a Sora offer.
type Config struct {
	ICEServers         []ICEServer `json:"iceServers,omitempty"`
	ICETransportPolicy string      `json:"iceTransportPolicy,omitempty"`
}

type Encoding struct {
	RID                   string  `json:"rid,omitempty"`
	Active                *bool   `json:"active,omitempty"`
	ScaleResolutionDownBy float64 `json:"scaleResolutionDownBy,omitempty"`
	MaxBitrate            int     `json:"maxBitrate,omitempty"`
}

// MediaOption is `true`/`false` or `{"codec_type":..,"bit_rate":..}`.
type MediaOption struct {
	Enabled   bool
	CodecType string
	BitRate   int
}

type mediaOptionObject struct {
	CodecType string `json:"codec_type,omitempty"`
	BitRate   int    `json:"bit_rate,omitempty"`
}

func (o MediaOption) MarshalJSON() ([]byte, error) {
	if !o.Enabled || (o.CodecType == "" && o.BitRate == 0) {
		return json.Marshal(o.Enabled)
	}
	return json.Marshal(mediaOptionObject{CodecType: o.CodecType, BitRate: o.BitRate})
}

func (o *MediaOption) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*o = MediaOption{Enabled: b}
		return nil
	}
	var obj mediaOptionObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("media option: %w", err)
	}
	*o = MediaOption{Enabled: true, CodecType: obj.CodecType, BitRate: obj.BitRate}
	return nil
}

type Message struct {
	Type Type `json:"type"`

	// Ayame register
	RoomID   string `json:"roomId,omitempty"`
	ClientID string `json:"clientId,omitempty"`
	Key      string `json:"key,omitempty"`

	// Sora connect
	ChannelID    string          `json:"channel_id,omitempty"`
	Role         string          `json:"role,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	Multistream  *bool           `json:"multistream,omitempty"`
	Simulcast    *bool           `json:"simulcast,omitempty"`
	Spotlight    int             `json:"spotlight,omitempty"`
	Video        *MediaOption    `json:"video,omitempty"`
	Audio        *MediaOption    `json:"audio,omitempty"`
	SoraClient   string          `json:"sora_client,omitempty"`
	Environment  string          `json:"environment,omitempty"`
	SoraClientID string          `json:"client_id,omitempty"`
	ConnectionID string          `json:"connection_id,omitempty"`

	// accept
	ICEServers    []ICEServer `json:"iceServers,omitempty"`
	IsExistClient *bool       `json:"isExistClient,omitempty"`
	IsExistUser   *bool       `json:"isExistUser,omitempty"`

	// reject
	Reason string `json:"reason,omitempty"`

	// offer / answer / update / candidate
	SDP       string     `json:"sdp,omitempty"`
	ICE       *ICE       `json:"ice,omitempty"`
	Candidate string     `json:"candidate,omitempty"`
	Peer      string     `json:"peer,omitempty"`
	Config    *Config    `json:"config,omitempty"`
	Encodings []Encoding `json:"encodings,omitempty"`
}

// Known reports whether the type is one this client understands.
func (m Message) Known() bool {
	switch m.Type {
	case TypeRegister, TypeConnect, TypeAccept, TypeReject, TypeOffer, TypeAnswer,
		TypeCandidate, TypeUpdate, TypePing, TypePong, TypeNotify, TypeBye:
		return true
	}
	return false
}

// PeerExists reports the accept flag under either of its names.
func (m Message) PeerExists() bool {
	return (m.IsExistClient != nil && *m.IsExistClient) || (m.IsExistUser != nil && *m.IsExistUser)
}

// CandidateInit extracts the trickled candidate from either wire form.
func (m Message) CandidateInit() (webrtc.ICECandidateInit, bool) {
	if m.ICE != nil && m.ICE.Candidate != "" {
		return webrtc.ICECandidateInit{
			Candidate:     m.ICE.Candidate,
			SDPMid:        m.ICE.SDPMid,
			SDPMLineIndex: m.ICE.SDPMLineIndex,
		}, true
	}
	if m.Candidate != "" {
		return webrtc.ICECandidateInit{Candidate: m.Candidate}, true
	}
	return webrtc.ICECandidateInit{}, false
}

func ICEFromPion(init webrtc.ICECandidateInit) *ICE {
	return &ICE{
		Candidate:     init.Candidate,
		SDPMid:        init.SDPMid,
		SDPMLineIndex: init.SDPMLineIndex,
	}
}

// Description builds the session description for an offer/answer/update.
// An update always carries an offer from the server side.
func (m Message) Description() (webrtc.SessionDescription, error) {
	switch m.Type {
	case TypeOffer, TypeUpdate:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: m.SDP}, nil
	case TypeAnswer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP}, nil
	}
	return webrtc.SessionDescription{}, fmt.Errorf("%w: %q carries no description", ErrMissingField, m.Type)
}

func Bool(b bool) *bool { return &b }
