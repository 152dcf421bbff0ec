package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/Signal/internal/domain"
)

const testYAML = `
mode: debug
signaling_url: wss://ayame.example/signaling
variant: sora
session_id: room-1
role: sendonly
multistream: true
metadata:
  signaling_key: abc
video:
  codec: VP9
  bit_rate: 800
audio:
  enabled: false
ice_servers:
  - urls: ["stun:stun.example:3478"]
  - urls: ["turn:turn.example:3478"]
    username: u
    credential: p
ws:
  write_timeout: 2s
`

func writeConfig(t *testing.T, env, body string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config", "config."+env+".yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", env)
}

func TestLoad_FileAndDefaults(t *testing.T) {
	writeConfig(t, "test", testYAML)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "debug" || cfg.Variant != "sora" || cfg.LogLevel != "info" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.WS.WriteTimeout != 2*time.Second || cfg.WS.HandshakeTimeout != 10*time.Second || cfg.WS.ReadLimit != 1<<20 {
		t.Fatalf("ws=%+v", cfg.WS)
	}
	if len(cfg.ICEServers) != 2 || cfg.ICEServers[1].Username != "u" {
		t.Fatalf("ice=%+v", cfg.ICEServers)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	writeConfig(t, "test", testYAML)
	t.Setenv("SIGNAL_SESSION_ID", "room-2")
	t.Setenv("SIGNAL_WS_SEND_BUFFER", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SessionID != "room-2" {
		t.Fatalf("session_id=%q, want room-2", cfg.SessionID)
	}
	if cfg.WS.SendBuffer != 8 {
		t.Fatalf("send_buffer=%d, want 8", cfg.WS.SendBuffer)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "absent")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "release" || cfg.Variant != "ayame" || cfg.WS.SendBuffer != 32 {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestConfig_Session(t *testing.T) {
	writeConfig(t, "test", testYAML)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	s := cfg.Session()
	if s.SessionID != "room-1" || s.Role != domain.RoleSendOnly || !s.Multistream {
		t.Fatalf("session=%+v", s)
	}
	if s.Audio.Enabled == nil || *s.Audio.Enabled {
		t.Fatalf("audio enabled=%v, want false", s.Audio.Enabled)
	}
	if s.Video.Enabled != nil || s.Video.Codec != "VP9" || s.Video.BitRate != 800 {
		t.Fatalf("video=%+v", s.Video)
	}
	if s.Metadata["signaling_key"] != "abc" {
		t.Fatalf("metadata=%v", s.Metadata)
	}
	if len(s.ICEServers) != 2 || s.ICEServers[0].URLs[0] != "stun:stun.example:3478" {
		t.Fatalf("ice=%+v", s.ICEServers)
	}
	if _, err := s.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
}
