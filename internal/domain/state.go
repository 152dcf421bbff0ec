package domain

import "github.com/pion/webrtc/v4"

// ConnectionState is the session-level view of the peer connection.
type ConnectionState int

const (
	StateNew ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MapPeerState collapses the engine's peer connection states. failed and
// closed become Disconnected; disconnected and unknown are transient and
// report ok=false so the caller keeps the previous state.
func MapPeerState(s webrtc.PeerConnectionState) (ConnectionState, bool) {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return StateNew, true
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return StateConnected, true
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		return StateDisconnected, true
	}
	return 0, false
}
