package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Signal/internal/app"
	"github.com/dkeye/Signal/internal/config"
	"github.com/dkeye/Signal/internal/domain"
)

// Controller is the engine surface the control API drives.
type Controller interface {
	Connect(ctx context.Context, cfg domain.SessionConfig) error
	Disconnect()
	State() domain.ConnectionState
	Tracks() domain.TrackSnapshot
	SessionID() domain.SessionID
	Subscribe(fn func(app.Notification)) (unsubscribe func())
}

// connectRequest overrides the configured session for one connect.
type connectRequest struct {
	SignalingURL string `json:"signaling_url"`
	SessionID    string `json:"session_id"`
	ClientID     string `json:"client_id"`
	Credential   string `json:"credential"`
	Role         string `json:"role"`
	Multistream  *bool  `json:"multistream"`
	Simulcast    *bool  `json:"simulcast"`
}

func (r connectRequest) apply(cfg domain.SessionConfig) domain.SessionConfig {
	if r.SignalingURL != "" {
		cfg.SignalingURL = r.SignalingURL
	}
	if r.SessionID != "" {
		cfg.SessionID = domain.SessionID(r.SessionID)
	}
	if r.ClientID != "" {
		cfg.ClientID = domain.ClientID(r.ClientID)
	}
	if r.Credential != "" {
		cfg.Credential = r.Credential
	}
	if r.Role != "" {
		cfg.Role = domain.Role(r.Role)
	}
	if r.Multistream != nil {
		cfg.Multistream = *r.Multistream
	}
	if r.Simulcast != nil {
		cfg.Simulcast = *r.Simulcast
	}
	return cfg
}

func SetupRouter(cfg *config.Config, ctrl Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	log.Info().Str("module", "adapters.http").Str("variant", cfg.Variant).Msg("router setup")

	api := r.Group("/api")

	api.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"session_id": ctrl.SessionID(),
			"state":      ctrl.State(),
			"tracks":     ctrl.Tracks(),
		})
	})

	api.POST("/connect", func(c *gin.Context) {
		var req connectRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		err := ctrl.Connect(c.Request.Context(), req.apply(cfg.Session()))
		switch {
		case errors.Is(err, app.ErrAlreadyConnected):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		case err != nil:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Info().Str("module", "adapters.http").Str("session", string(ctrl.SessionID())).Msg("connect requested")
		c.JSON(http.StatusAccepted, gin.H{"session_id": ctrl.SessionID(), "state": ctrl.State()})
	})

	api.POST("/disconnect", func(c *gin.Context) {
		ctrl.Disconnect()
		log.Info().Str("module", "adapters.http").Msg("disconnect requested")
		c.Status(http.StatusAccepted)
	})

	api.GET("/events", func(c *gin.Context) {
		streamEvents(c, ctrl)
	})

	return r
}
