// Package domain holds the session configuration and its validation, the
// connection state model and the track bookkeeping shared by the engine.
package domain

import (
	"errors"
	"net/url"

	"github.com/google/uuid"
)

const (
	MaxSessionIDLen = 255
	MaxClientIDLen  = 255
)

var (
	ErrSessionIDEmpty   = errors.New("session id empty")
	ErrSessionIDTooLong = errors.New("session id too long")
	ErrClientIDTooLong  = errors.New("client id too long")
	ErrSignalingURL     = errors.New("signaling url must be ws:// or wss://")
	ErrUnknownRole      = errors.New("unknown role")
)

type (
	SessionID string
	ClientID  string
)

// Role is what the peer asks the server for. Sora uses the direction names,
// older servers the publisher/subscriber family.
type Role string

const (
	RoleNone       Role = ""
	RoleSendRecv   Role = "sendrecv"
	RoleSendOnly   Role = "sendonly"
	RoleRecvOnly   Role = "recvonly"
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
	RoleGroup      Role = "group"
	RoleGroupSub   Role = "groupsub"
)

func (r Role) Valid() bool {
	switch r {
	case RoleNone, RoleSendRecv, RoleSendOnly, RoleRecvOnly,
		RolePublisher, RoleSubscriber, RoleGroup, RoleGroupSub:
		return true
	}
	return false
}

// Sends reports whether local media is attached for this role.
func (r Role) Sends() bool {
	switch r {
	case RoleRecvOnly, RoleSubscriber, RoleGroupSub:
		return false
	}
	return true
}

// MediaSpec is the video/audio request. Enabled nil means "server default".
type MediaSpec struct {
	Enabled *bool
	Codec   string
	BitRate int
}

// ICEServer mirrors the accept/offer payload entry.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// SessionConfig is what the UI hands over on connect.
type SessionConfig struct {
	SignalingURL string
	SessionID    SessionID
	ClientID     ClientID
	Credential   string
	Role         Role
	Multistream  bool
	Simulcast    bool
	Spotlight    int
	Video        MediaSpec
	Audio        MediaSpec
	Metadata     map[string]any
	ICEServers   []ICEServer
}

// Normalize validates the config and fills a random client id when none is set.
func (c SessionConfig) Normalize() (SessionConfig, error) {
	if len(c.SessionID) == 0 {
		return c, ErrSessionIDEmpty
	}
	if len(c.SessionID) > MaxSessionIDLen {
		return c, ErrSessionIDTooLong
	}
	if len(c.ClientID) > MaxClientIDLen {
		return c, ErrClientIDTooLong
	}
	if !c.Role.Valid() {
		return c, ErrUnknownRole
	}
	u, err := url.Parse(c.SignalingURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return c, ErrSignalingURL
	}
	if c.ClientID == "" {
		c.ClientID = ClientID(uuid.NewString())
	}
	return c, nil
}
