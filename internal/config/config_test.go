package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-livetalk/pkg/audioio"
	"github.com/teslashibe/go-livetalk/pkg/transport"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Transport != transport.BackendWebSocket {
		t.Errorf("transport = %q", cfg.Transport)
	}
	if cfg.Input.SampleRate != 16000 || cfg.Output.SampleRate != 24000 {
		t.Errorf("unexpected rates in %v / %v", cfg.Input.SampleRate, cfg.Output.SampleRate)
	}
	if cfg.CloseTimeout != 2*time.Second {
		t.Errorf("close timeout = %v", cfg.CloseTimeout)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "livetalk.yaml")
	content := `
transport: genai
session:
  voice: Puck
  system_instruction: Be brief.
input:
  backend: mock
  frame_size: 2048
http:
  addr: ":9090"
log:
  level: debug
close_timeout: 500ms
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Transport != transport.BackendGenAI {
		t.Errorf("transport = %q, want genai", cfg.Transport)
	}
	if cfg.Session.Voice != "Puck" || cfg.Session.SystemInstruction != "Be brief." {
		t.Errorf("session = %+v", cfg.Session)
	}
	// Unset fields keep their defaults.
	if cfg.Session.Model != transport.DefaultModel {
		t.Errorf("model = %q, want default", cfg.Session.Model)
	}
	if cfg.Input.Backend != audioio.BackendMock || cfg.Input.FrameSize != 2048 || cfg.Input.SampleRate != 16000 {
		t.Errorf("input = %+v", cfg.Input)
	}
	if cfg.HTTP.Addr != ":9090" || cfg.Log.Level != "debug" {
		t.Errorf("http/log = %+v / %+v", cfg.HTTP, cfg.Log)
	}
	if cfg.CloseTimeout != 500*time.Millisecond {
		t.Errorf("close timeout = %v", cfg.CloseTimeout)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("transport: [unterminated"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid yaml")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Run("gemini key wins", func(t *testing.T) {
		t.Setenv(EnvAPIKey, "gemini-key")
		t.Setenv(EnvGoogleAPIKey, "google-key")
		t.Setenv(EnvAddr, ":7000")

		cfg := DefaultConfig()
		cfg.ApplyEnv()

		if cfg.APIKey != "gemini-key" {
			t.Errorf("api key = %q", cfg.APIKey)
		}
		if cfg.HTTP.Addr != ":7000" {
			t.Errorf("addr = %q", cfg.HTTP.Addr)
		}
	})

	t.Run("google key fallback", func(t *testing.T) {
		t.Setenv(EnvAPIKey, "")
		t.Setenv(EnvGoogleAPIKey, "google-key")

		cfg := DefaultConfig()
		cfg.ApplyEnv()

		if cfg.APIKey != "google-key" {
			t.Errorf("api key = %q", cfg.APIKey)
		}
	})

	t.Run("file value kept", func(t *testing.T) {
		t.Setenv(EnvAPIKey, "")
		t.Setenv(EnvGoogleAPIKey, "")

		cfg := DefaultConfig()
		cfg.APIKey = "from-file"
		cfg.ApplyEnv()

		if cfg.APIKey != "from-file" {
			t.Errorf("api key = %q", cfg.APIKey)
		}
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.APIKey = "key"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing key", func(c *Config) { c.APIKey = "" }, true},
		{"bad transport", func(c *Config) { c.Transport = "carrier-pigeon" }, true},
		{"bad input", func(c *Config) { c.Input.SampleRate = 0 }, true},
		{"bad output backend", func(c *Config) { c.Output.Backend = "alsa" }, true},
		{"empty addr", func(c *Config) { c.HTTP.Addr = "" }, true},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, true},
		{"zero close timeout", func(c *Config) { c.CloseTimeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	cfg := valid()
	cfg.APIKey = ""
	if err := cfg.Validate(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Expected ErrMissingAPIKey, got %v", err)
	}
}
