package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformed    = errors.New("malformed signaling message")
	ErrMissingField = errors.New("signaling message missing field")
	ErrEmptyType    = errors.New("signaling message has no type")
)

func Encode(m Message) ([]byte, error) {
	if m.Type == "" {
		return nil, ErrEmptyType
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return b, nil
}

// Decode parses one text frame. Unknown types decode without error; check
// Known() on the result.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if err := m.validate(); err != nil {
		return m, err
	}
	return m, nil
}

func (m Message) validate() error {
	switch m.Type {
	case TypeOffer, TypeAnswer, TypeUpdate:
		if m.SDP == "" {
			return fmt.Errorf("%w: %s without sdp", ErrMissingField, m.Type)
		}
	case TypeCandidate:
		if _, ok := m.CandidateInit(); !ok {
			return fmt.Errorf("%w: candidate without payload", ErrMissingField)
		}
	case TypeRegister:
		if m.RoomID == "" {
			return fmt.Errorf("%w: register without roomId", ErrMissingField)
		}
	case TypeConnect:
		if m.ChannelID == "" {
			return fmt.Errorf("%w: connect without channel_id", ErrMissingField)
		}
	}
	return nil
}
