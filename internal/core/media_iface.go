package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Signal/internal/domain"
)

//go:generate mockgen -destination=mock/media_mock.go -package=mock_core github.com/dkeye/Signal/internal/core MediaSource

// Encoding is one simulcast layer requested by the server.
type Encoding struct {
	RID                   string
	Active                bool
	ScaleResolutionDownBy float64
	MaxBitrate            int
}

// TransceiverInfo is a read-only view of a transceiver. Committed is false
// until a remote description has fixed its direction.
type TransceiverInfo struct {
	Mid       string
	Kind      domain.TrackKind
	TrackID   string
	Committed bool
}

type MediaConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	// LocalDescription returns the current local SDP.
	LocalDescription() *webrtc.SessionDescription
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	SetConfiguration(webrtc.Configuration) error

	// AddLocalTrack attaches a local track to the underlying PeerConnection.
	AddLocalTrack(webrtc.TrackLocal) error
	// ApplySimulcast re-attaches the local track trackID as a send-only
	// transceiver carrying one encoding per layer.
	ApplySimulcast(trackID string, layers []Encoding) error
	Transceivers() []TransceiverInfo

	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(domain.Track))
	// OnTrackEnded fires when a remote track stops delivering media.
	OnTrackEnded(func(trackID string))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnNegotiationNeeded(func())

	// Close should stop all underlying media resources.
	Close() error
}

// MediaFactory creates peer connections.
type MediaFactory interface {
	NewConnection(cfg webrtc.Configuration) (MediaConnection, error)
}

// MediaSource hands out local capture tracks. Release stops capture.
type MediaSource interface {
	Acquire(ctx context.Context) ([]webrtc.TrackLocal, error)
	Release()
}
