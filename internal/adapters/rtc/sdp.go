package rtc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

var ErrInvalidSDP = errors.New("invalid sdp")

type MediaSection struct {
	Mid       string
	Kind      string
	Direction string
	RIDs      []string
}

// Inspect parses a session description and lists its media sections.
func Inspect(raw string) ([]MediaSection, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSDP, err)
	}
	out := make([]MediaSection, 0, len(sd.MediaDescriptions))
	for _, md := range sd.MediaDescriptions {
		sec := MediaSection{Kind: md.MediaName.Media}
		for _, a := range md.Attributes {
			switch a.Key {
			case "mid":
				sec.Mid = a.Value
			case "sendrecv", "sendonly", "recvonly", "inactive":
				sec.Direction = a.Key
			case "rid":
				if f := strings.Fields(a.Value); len(f) > 0 {
					sec.RIDs = append(sec.RIDs, f[0])
				}
			}
		}
		out = append(out, sec)
	}
	return out, nil
}
