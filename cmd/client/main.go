package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Signal/internal/adapters/http"
	"github.com/dkeye/Signal/internal/adapters/rtc"
	"github.com/dkeye/Signal/internal/adapters/ws"
	"github.com/dkeye/Signal/internal/app"
	"github.com/dkeye/Signal/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	variant, err := app.ParseVariant(cfg.Variant)
	if err != nil {
		log.Fatal().Err(err).Msg("bad variant")
	}
	factory, err := rtc.NewFactory(log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc setup")
	}
	session := cfg.Session()
	source := rtc.NewStaticSource(
		"signal-"+string(session.SessionID),
		session.Audio.Enabled == nil || *session.Audio.Enabled,
		session.Video.Enabled == nil || *session.Video.Enabled,
		session.Video.Codec,
	)
	dialer := ws.NewDialer(ws.Config{
		ReadLimit:        cfg.WS.ReadLimit,
		WriteTimeout:     cfg.WS.WriteTimeout,
		HandshakeTimeout: cfg.WS.HandshakeTimeout,
		SendBuffer:       cfg.WS.SendBuffer,
	})
	engine := app.NewEngine(variant, dialer, factory, source)

	ended := make(chan struct{}, 1)
	engine.Subscribe(newConsole(ended).observe)

	var srv *http.Server
	if cfg.Listen != "" {
		srv = &http.Server{
			Addr:    cfg.Listen,
			Handler: router.SetupRouter(cfg, engine),
		}
		go func() {
			log.Info().Str("addr", cfg.Listen).Msg("control API started")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("server error")
			}
		}()
	}

	if session.SessionID != "" {
		if err := engine.Connect(ctx, session); err != nil {
			log.Error().Err(err).Msg("connect")
			if srv == nil {
				return
			}
		}
	} else if srv == nil {
		log.Fatal().Msg("nothing to do: set session_id or listen")
	}

	// Without a control API the process lives as long as its one session.
	var sessionEnded <-chan struct{}
	if srv == nil {
		sessionEnded = ended
	}
	select {
	case <-ctx.Done():
	case <-sessionEnded:
	}

	log.Info().Msg("Shutting down")
	engine.Disconnect()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := engine.Wait(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("session did not close in time")
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
	}
	log.Info().Msg("Client exited gracefully")
}
