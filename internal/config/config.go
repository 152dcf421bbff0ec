package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dkeye/Signal/internal/domain"
)

type MediaConfig struct {
	Enabled *bool  `mapstructure:"enabled"`
	Codec   string `mapstructure:"codec"`
	BitRate int    `mapstructure:"bit_rate"`
}

type ICEServerConfig struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type WSConfig struct {
	ReadLimit        int64         `mapstructure:"read_limit"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	SendBuffer       int           `mapstructure:"send_buffer"`
}

type Config struct {
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`
	// Listen is the control API address; empty disables it.
	Listen string `mapstructure:"listen"`

	SignalingURL string            `mapstructure:"signaling_url"`
	Variant      string            `mapstructure:"variant"`
	SessionID    string            `mapstructure:"session_id"`
	ClientID     string            `mapstructure:"client_id"`
	Credential   string            `mapstructure:"credential"`
	Role         string            `mapstructure:"role"`
	Multistream  bool              `mapstructure:"multistream"`
	Simulcast    bool              `mapstructure:"simulcast"`
	Spotlight    int               `mapstructure:"spotlight"`
	Metadata     map[string]any    `mapstructure:"metadata"`
	Video        MediaConfig       `mapstructure:"video"`
	Audio        MediaConfig       `mapstructure:"audio"`
	ICEServers   []ICEServerConfig `mapstructure:"ice_servers"`
	WS           WSConfig          `mapstructure:"ws"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (default dev). A .env file is
// loaded first without overriding the environment, and SIGNAL_* variables
// override file values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("SIGNAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("listen", "")
	v.SetDefault("signaling_url", "")
	v.SetDefault("variant", "ayame")
	v.SetDefault("session_id", "")
	v.SetDefault("client_id", "")
	v.SetDefault("credential", "")
	v.SetDefault("role", "")
	v.SetDefault("multistream", false)
	v.SetDefault("simulcast", false)
	v.SetDefault("spotlight", 0)
	v.SetDefault("video.codec", "")
	v.SetDefault("video.bit_rate", 0)
	v.SetDefault("audio.codec", "")
	v.SetDefault("audio.bit_rate", 0)
	v.SetDefault("ws.read_limit", 1<<20)
	v.SetDefault("ws.write_timeout", "5s")
	v.SetDefault("ws.handshake_timeout", "10s")
	v.SetDefault("ws.send_buffer", 32)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Str("variant", cfg.Variant).
		Str("listen", cfg.Listen).
		Msg("config ready")
	return &cfg, nil
}

// Session converts the connect-time part of the config.
func (c *Config) Session() domain.SessionConfig {
	ice := make([]domain.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		ice = append(ice, domain.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return domain.SessionConfig{
		SignalingURL: c.SignalingURL,
		SessionID:    domain.SessionID(c.SessionID),
		ClientID:     domain.ClientID(c.ClientID),
		Credential:   c.Credential,
		Role:         domain.Role(c.Role),
		Multistream:  c.Multistream,
		Simulcast:    c.Simulcast,
		Spotlight:    c.Spotlight,
		Video:        domain.MediaSpec{Enabled: c.Video.Enabled, Codec: c.Video.Codec, BitRate: c.Video.BitRate},
		Audio:        domain.MediaSpec{Enabled: c.Audio.Enabled, Codec: c.Audio.Codec, BitRate: c.Audio.BitRate},
		Metadata:     c.Metadata,
		ICEServers:   ice,
	}
}
