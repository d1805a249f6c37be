package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sensorgames.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	mc := cfg.ToMotionConfig()
	if mc.Threshold != 15 || mc.MinIntervalMs != 100 || mc.CooldownMs != 100 {
		t.Fatalf("motion defaults = %+v", mc)
	}
}

func TestParseConfig_OverridesDefaults(t *testing.T) {
	cfg, err := parseConfig([]byte(`
motion:
  source: udp
  udp_listen: "127.0.0.1:5000"
  threshold: 12.5
  ranks:
    bands:
      - {min: 10, label: fast}
      - {min: 5, label: ok}
    default: slow
audio:
  file: /srv/clips/cheer.wav
  analyser:
    smoothing: 0.5
logging:
  level: debug
`))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Motion.Source != motionSourceUDP || cfg.Motion.UDPListen != "127.0.0.1:5000" || cfg.Motion.Threshold != 12.5 {
		t.Fatalf("motion = %+v", cfg.Motion)
	}
	// Unset fields keep their defaults.
	if cfg.Motion.CooldownMS != 100 || cfg.Audio.Analyser.FFTSize != 512 || cfg.Audio.FrameRate != 60 {
		t.Fatalf("defaults lost: motion=%+v audio=%+v", cfg.Motion, cfg.Audio)
	}
	if got := cfg.Motion.Ranks.Classify(7); got != "ok" {
		t.Fatalf("custom ranks classify(7)=%q", got)
	}
	if got := cfg.Audio.Ranks.Classify(100); got != "메가 오렌지" {
		t.Fatalf("audio ranks should keep defaults, classify(100)=%q", got)
	}
	if sc := cfg.ToAudioSourceConfig(); sc.File != "/srv/clips/cheer.wav" || sc.Analyser.Smoothing != 0.5 {
		t.Fatalf("audio source config = %+v", sc)
	}
}

func TestParseConfig_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"unknown field", "motion:\n  treshold: 3\n"},
		{"trailing document", "logging:\n  level: info\n---\nlogging:\n  level: debug\n"},
		{"wrong type", "audio:\n  frame_rate: fast\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseConfig([]byte(tt.in)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mut     func(*Config)
		wantErr string
	}{
		{"bad source", func(c *Config) { c.Motion.Source = "bluetooth" }, "motion.source"},
		{"empty device", func(c *Config) { c.Motion.Device = "" }, "motion.device"},
		{"udp without listen", func(c *Config) { c.Motion.Source = "udp"; c.Motion.UDPListen = "" }, "motion.udp_listen"},
		{"zero threshold", func(c *Config) { c.Motion.Threshold = 0 }, "motion.threshold"},
		{"zero sample gate", func(c *Config) { c.Motion.MinIntervalMS = 0 }, "motion.min_interval_ms"},
		{"zero cooldown", func(c *Config) { c.Motion.CooldownMS = 0 }, "motion.cooldown_ms"},
		{"ascending ranks", func(c *Config) { c.Motion.Ranks.Bands[1].Min = 200 }, "motion.ranks"},
		{"no audio input", func(c *Config) { c.Audio.Command = nil }, "audio.command"},
		{"frame rate", func(c *Config) { c.Audio.FrameRate = 0 }, "audio.frame_rate"},
		{"analyser", func(c *Config) { c.Audio.Analyser.FFTSize = 300 }, "audio.analyser"},
		{"empty audio ranks default", func(c *Config) { c.Audio.Ranks.Default = "" }, "audio.ranks"},
		{"empty socket", func(c *Config) { c.IPC.SocketPath = "" }, "ipc.socket_path"},
		{"empty listen", func(c *Config) { c.HTTP.Listen = "" }, "http.listen"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mut(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := writeConfig(t, `
http:
  listen: ":9000"
ipc:
  socket_path: /run/from-file.sock
logging:
  level: warn
motion:
  device: /dev/input/event3
`)
	environ := []string{
		"SENSORGAMES_HTTP_LISTEN=:9100",
		"SENSORGAMES_LOG_LEVEL=debug",
		"SENSORGAMES_AUDIO_FILE=/tmp/clip.wav",
		"SENSORGAMES_LOG_FORMAT=json",
		"UNRELATED=1",
	}
	args := []string{"-config", path, "-log-level", "error", "-motion-device", "/dev/input/event9"}

	cfg, exit, err := loadConfig(args, environ)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if exit {
		t.Fatalf("unexpected exit")
	}

	tests := []struct {
		field, got, want string
	}{
		{"http.listen (env over file)", cfg.HTTP.Listen, ":9100"},
		{"ipc.socket_path (file)", cfg.IPC.SocketPath, "/run/from-file.sock"},
		{"logging.level (flag over env)", cfg.Logging.Level, "error"},
		{"motion.device (flag over file)", cfg.Motion.Device, "/dev/input/event9"},
		{"audio.file (env)", cfg.Audio.File, "/tmp/clip.wav"},
		{"logging.format (env)", cfg.Logging.Format, logFormatJSON},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.field, tt.got, tt.want)
		}
	}
}

func TestLoadConfig_UnsetFlagsDoNotOverride(t *testing.T) {
	path := writeConfig(t, "motion:\n  threshold: 22\n")
	cfg, _, err := loadConfig([]string{"-config", path}, []string{})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Motion.Threshold != 22 {
		t.Fatalf("threshold=%v, want 22 from file", cfg.Motion.Threshold)
	}
}

func TestLoadConfig_InvalidEnv(t *testing.T) {
	_, _, err := loadConfig(nil, []string{"SENSORGAMES_LOG_LEVEL=shouty"})
	if err == nil || !strings.Contains(err.Error(), "logging.level") {
		t.Fatalf("got %v, want logging.level error", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	for _, in := range []string{"error", "WARN", "warning", "info", "Debug"} {
		if _, err := parseLogLevel(in); err != nil {
			t.Errorf("parseLogLevel(%q): %v", in, err)
		}
	}
	if _, err := parseLogLevel("trace"); err == nil {
		t.Errorf("parseLogLevel(trace) should fail")
	}
}
