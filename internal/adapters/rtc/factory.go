package rtc

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Signal/internal/core"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// Factory builds peer connections from one shared pion API: default codecs,
// the default interceptor chain plus periodic PLI for received video.
type Factory struct {
	api *webrtc.API
}

func NewFactory(logger zerolog.Logger) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("pli interceptor: %w", err)
	}
	i.Add(pli)

	s := webrtc.SettingEngine{LoggerFactory: LoggerFactory{Base: logger}}

	return &Factory{api: webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(s),
	)}, nil
}

func (f *Factory) NewConnection(cfg webrtc.Configuration) (core.MediaConnection, error) {
	pc, err := f.api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := newConnection(pc)
	log.Info().Str("module", "webrtc").Str("pc", c.id).Int("ice_servers", len(cfg.ICEServers)).Msg("peer connection created")
	return c, nil
}
