package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"sensorgames/internal/audio"
	"sensorgames/internal/game"
)

// Config is the top-level YAML configuration for the sensorgames daemon.
//
// Keep defaults and validation centralized so the rest of the code can
// assume a well-formed config.
type Config struct {
	Motion  MotionConfig  `yaml:"motion"`
	Audio   AudioConfig   `yaml:"audio"`
	IPC     IPCConfig     `yaml:"ipc"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

// MotionConfig selects the accelerometer and tunes the shake detector.
type MotionConfig struct {
	Source string `yaml:"source"` // "evdev" or "udp"

	// evdev
	Device string  `yaml:"device"`
	Scale  float64 `yaml:"scale,omitempty"` // 0 = use the device's axis resolution

	// udp
	UDPListen string `yaml:"udp_listen"`

	Threshold     float64 `yaml:"threshold"`
	MinIntervalMS int64   `yaml:"min_interval_ms"`
	CooldownMS    int64   `yaml:"cooldown_ms"`

	Ranks game.RankTable `yaml:"ranks"`
}

// AudioConfig selects the PCM input and tunes the analyser.
type AudioConfig struct {
	Command   []string `yaml:"command"`
	File      string   `yaml:"file,omitempty"` // overrides command when set
	Loop      bool     `yaml:"loop,omitempty"`
	FrameRate int      `yaml:"frame_rate"`

	Analyser audio.AnalyserConfig `yaml:"analyser"`

	Ranks game.RankTable `yaml:"ranks"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

const (
	motionSourceEvdev = "evdev"
	motionSourceUDP   = "udp"
)

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	mc := game.DefaultMotionConfig()
	return Config{
		Motion: MotionConfig{
			Source:        motionSourceEvdev,
			Device:        "/dev/input/event0",
			UDPListen:     ":4210",
			Threshold:     mc.Threshold,
			MinIntervalMS: mc.MinIntervalMs,
			CooldownMS:    mc.CooldownMs,
			Ranks:         game.StepRanks(),
		},
		Audio: AudioConfig{
			Command:   audio.DefaultCommand(),
			FrameRate: audio.DefaultFrameRate,
			Analyser:  audio.DefaultAnalyserConfig(),
			Ranks:     game.SizeRanks(),
		},
		IPC: IPCConfig{
			SocketPath: defaultSocketPath,
		},
		HTTP: HTTPConfig{
			Listen: defaultHTTPListen,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logFormatText,
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the
// defaults. Unknown fields are rejected via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Ensure there's no trailing garbage (only whitespace/comments are allowed after the document).
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// EnvOverrides are read from SENSORGAMES_* environment variables. Empty
// values are ignored.
type EnvOverrides struct {
	LogLevel     string `env:"LOG_LEVEL"`
	LogFormat    string `env:"LOG_FORMAT"`
	HTTPListen   string `env:"HTTP_LISTEN"`
	IPCSocket    string `env:"IPC_SOCKET"`
	MotionDevice string `env:"MOTION_DEVICE"`
	AudioFile    string `env:"AUDIO_FILE"`
}

const envPrefix = "SENSORGAMES_"

// ParseEnvOverrides loads overrides from environ (os.Environ() format),
// or from the process environment when environ is nil.
func ParseEnvOverrides(environ []string) (EnvOverrides, error) {
	var o EnvOverrides
	opts := env.Options{Prefix: envPrefix}
	if environ != nil {
		opts.Environment = envMap(environ)
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return EnvOverrides{}, fmt.Errorf("parse env: %w", err)
	}
	return o, nil
}

func envMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			m[k] = v
		}
	}
	return m
}

// Apply merges non-empty environment values into cfg.
func (o EnvOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Logging.Format = o.LogFormat
	}
	if o.HTTPListen != "" {
		cfg.HTTP.Listen = o.HTTPListen
	}
	if o.IPCSocket != "" {
		cfg.IPC.SocketPath = o.IPCSocket
	}
	if o.MotionDevice != "" {
		cfg.Motion.Device = o.MotionDevice
	}
	if o.AudioFile != "" {
		cfg.Audio.File = o.AudioFile
	}
}

// FlagOverrides applies overrides from flags on top of file and
// environment config. Each override is only applied if its pointer is
// non-nil, even when it points at a zero value.
type FlagOverrides struct {
	MotionSource    *string
	MotionDevice    *string
	MotionUDPListen *string
	MotionThreshold *float64

	AudioFile *string

	IPCSocketPath *string
	HTTPListen    *string

	LogLevel *string
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is ignored.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.MotionSource != nil {
		cfg.Motion.Source = *o.MotionSource
	}
	if o.MotionDevice != nil {
		cfg.Motion.Device = *o.MotionDevice
	}
	if o.MotionUDPListen != nil {
		cfg.Motion.UDPListen = *o.MotionUDPListen
	}
	if o.MotionThreshold != nil {
		cfg.Motion.Threshold = *o.MotionThreshold
	}

	if o.AudioFile != nil {
		cfg.Audio.File = *o.AudioFile
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPListen != nil {
		cfg.HTTP.Listen = *o.HTTPListen
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults, file, environment and flag overrides are applied.
func (c *Config) Validate() error {
	// Motion
	switch c.Motion.Source {
	case motionSourceEvdev:
		if c.Motion.Device == "" {
			return errors.New("motion.device must not be empty when motion.source is evdev")
		}
	case motionSourceUDP:
		if c.Motion.UDPListen == "" {
			return errors.New("motion.udp_listen must not be empty when motion.source is udp")
		}
	default:
		return fmt.Errorf("motion.source must be %q or %q", motionSourceEvdev, motionSourceUDP)
	}
	if c.Motion.Scale < 0 {
		return errors.New("motion.scale must be >= 0")
	}
	if c.Motion.Threshold <= 0 {
		return errors.New("motion.threshold must be > 0")
	}
	if c.Motion.MinIntervalMS <= 0 {
		return errors.New("motion.min_interval_ms must be > 0")
	}
	if c.Motion.CooldownMS <= 0 {
		return errors.New("motion.cooldown_ms must be > 0")
	}
	if err := c.Motion.Ranks.Validate(); err != nil {
		return fmt.Errorf("motion.ranks: %w", err)
	}

	// Audio
	if c.Audio.File == "" && len(c.Audio.Command) == 0 {
		return errors.New("audio.command must not be empty when audio.file is unset")
	}
	if c.Audio.FrameRate <= 0 || c.Audio.FrameRate > 1000 {
		return errors.New("audio.frame_rate must be between 1 and 1000")
	}
	if err := c.Audio.Analyser.Validate(); err != nil {
		return fmt.Errorf("audio.analyser: %w", err)
	}
	if err := c.Audio.Ranks.Validate(); err != nil {
		return fmt.Errorf("audio.ranks: %w", err)
	}

	// Surfaces
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.HTTP.Listen == "" {
		return errors.New("http.listen must not be empty")
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case logFormatText, logFormatJSON:
	default:
		return fmt.Errorf("logging.format must be %q or %q", logFormatText, logFormatJSON)
	}

	return nil
}

// ToMotionConfig converts the file config into detector settings.
func (c *Config) ToMotionConfig() game.MotionConfig {
	return game.MotionConfig{
		Threshold:     c.Motion.Threshold,
		MinIntervalMs: c.Motion.MinIntervalMS,
		CooldownMs:    c.Motion.CooldownMS,
	}
}

// ToAudioSourceConfig converts the file config into source settings.
func (c *Config) ToAudioSourceConfig() audio.SourceConfig {
	return audio.SourceConfig{
		Command:   c.Audio.Command,
		File:      ExpandPath(c.Audio.File),
		Loop:      c.Audio.Loop,
		FrameRate: c.Audio.FrameRate,
		Analyser:  c.Audio.Analyser,
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
