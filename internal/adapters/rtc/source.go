package rtc

import (
	"context"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// StaticSource hands out sample tracks the host application writes into.
// It owns no capture device.
type StaticSource struct {
	streamID   string
	audio      bool
	video      bool
	videoCodec string

	mu     sync.Mutex
	tracks []*webrtc.TrackLocalStaticSample
}

func NewStaticSource(streamID string, audio, video bool, videoCodec string) *StaticSource {
	return &StaticSource{streamID: streamID, audio: audio, video: video, videoCodec: videoCodec}
}

func videoCapability(codec string) webrtc.RTPCodecCapability {
	switch strings.ToUpper(codec) {
	case "VP9":
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000}
	case "H264":
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000}
	case "AV1":
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeAV1, ClockRate: 90000}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
}

func (s *StaticSource) Acquire(ctx context.Context) ([]webrtc.TrackLocal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tracks == nil {
		if s.audio {
			t, err := webrtc.NewTrackLocalStaticSample(
				webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
				"audio", s.streamID)
			if err != nil {
				return nil, err
			}
			s.tracks = append(s.tracks, t)
		}
		if s.video {
			t, err := webrtc.NewTrackLocalStaticSample(videoCapability(s.videoCodec), "video", s.streamID)
			if err != nil {
				s.tracks = nil
				return nil, err
			}
			s.tracks = append(s.tracks, t)
		}
		log.Info().Str("module", "media").Str("stream_id", s.streamID).Int("tracks", len(s.tracks)).Msg("local media acquired")
	}

	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out, nil
}

// Tracks returns the live sample tracks so the host can write media.
func (s *StaticSource) Tracks() []*webrtc.TrackLocalStaticSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*webrtc.TrackLocalStaticSample(nil), s.tracks...)
}

func (s *StaticSource) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracks != nil {
		log.Info().Str("module", "media").Str("stream_id", s.streamID).Msg("local media released")
	}
	s.tracks = nil
}
