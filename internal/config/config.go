// Package config handles platform configuration
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	apperrors "github.com/GriffinCanCode/good-listener/backend/sod/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/sod/pkg/sod"
)

// Config holds service settings. Field tags name the environment variables.
type Config struct {
	HTTPAddr             string   `envconfig:"HTTP_ADDR" default:":8000"`
	GRPCAddr             string   `envconfig:"GRPC_ADDR" default:":50052"`
	SampleRate           int      `envconfig:"SAMPLE_RATE" default:"16000"`
	Sensitivity          int      `envconfig:"SOD_SENSITIVITY" default:"16384"`
	OnsetGapMillis       int      `envconfig:"SOD_ONSET_GAP_MS" default:"400"`
	PresetFile           string   `envconfig:"SOD_PRESET_FILE"`
	Preset               string   `envconfig:"SOD_PRESET"`
	Profile              bool     `envconfig:"SOD_PROFILE" default:"false"`
	MaxSilenceFrames     int      `envconfig:"MAX_SILENCE_FRAMES" default:"50"`
	CaptureEnabled       bool     `envconfig:"CAPTURE_ENABLED" default:"true"`
	CaptureSystemAudio   bool     `envconfig:"CAPTURE_SYSTEM_AUDIO" default:"true"`
	ExcludedAudioDevices []string `envconfig:"EXCLUDED_AUDIO_DEVICES" default:"iphone,teams"`
	OnsetLogPath         string   `envconfig:"ONSET_LOG_PATH" default:"sod.db"`
	OnsetHistory         int      `envconfig:"ONSET_HISTORY" default:"100"`
	LogLevel             string   `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat            string   `envconfig:"LOG_FORMAT" default:"text"`

	// Detector is resolved from the fields above by Load.
	Detector sod.Config `ignored:"true"`
	// Presets holds the built-in presets overlaid with PresetFile.
	Presets map[string]sod.Config `ignored:"true"`
}

// Load reads an optional .env file, then the environment, then resolves
// the detector tuning and validates the result.
func Load(envPath string) (*Config, error) {
	if err := loadDotEnv(envPath); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "load .env")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "parse environment")
	}
	for i, d := range cfg.ExcludedAudioDevices {
		cfg.ExcludedAudioDevices[i] = strings.TrimSpace(d)
	}

	presets, err := cfg.loadPresets()
	if err != nil {
		return nil, err
	}
	cfg.Presets = presets

	det, err := cfg.resolveDetector()
	if err != nil {
		return nil, err
	}
	cfg.Detector = det

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv loads path (".env" when empty) if it exists. Existing
// environment variables win.
func loadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// loadPresets merges the built-in presets with PresetFile. File entries
// shadow built-ins of the same name.
func (c *Config) loadPresets() (map[string]sod.Config, error) {
	presets := map[string]sod.Config{}
	for _, p := range sod.Presets() {
		presets[p.Name] = p.Config
	}
	if c.PresetFile == "" {
		return presets, nil
	}
	fromFile, err := LoadPresets(c.PresetFile)
	if err != nil {
		return nil, err
	}
	for name, p := range fromFile {
		presets[name] = p
	}
	return presets, nil
}

// LookupPreset finds a preset by name. Without loaded presets only the
// built-ins are searched.
func (c *Config) LookupPreset(name string) (sod.Config, bool) {
	if c.Presets == nil {
		return sod.LookupPreset(name)
	}
	p, ok := c.Presets[name]
	return p, ok
}

// resolveDetector picks the tuning: a named preset when set, otherwise the
// explicit sensitivity and gap.
func (c *Config) resolveDetector() (sod.Config, error) {
	if c.Preset != "" {
		p, ok := c.LookupPreset(c.Preset)
		if !ok {
			return sod.Config{}, apperrors.Newf(apperrors.CodeConfigMissing, "unknown preset %q", c.Preset)
		}
		return p, nil
	}

	gap, err := sod.GapFromMillis(c.OnsetGapMillis)
	if err != nil {
		return sod.Config{}, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "SOD_ONSET_GAP_MS")
	}
	return sod.Config{Sensitivity: c.Sensitivity, OnsetGap: gap}, nil
}

// Validate checks settings the detector and capture depend on.
func (c *Config) Validate() error {
	if c.SampleRate != sod.SampleRate {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "SAMPLE_RATE must be %d, got %d", sod.SampleRate, c.SampleRate)
	}
	if err := c.Detector.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeConfigInvalid, "detector settings")
	}
	if c.MaxSilenceFrames <= 0 {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "MAX_SILENCE_FRAMES must be positive, got %d", c.MaxSilenceFrames)
	}
	if c.OnsetHistory <= 0 {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "ONSET_HISTORY must be positive, got %d", c.OnsetHistory)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// ParseLevel maps LOG_LEVEL onto slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "LOG_LEVEL %q", s)
	}
	return l, nil
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// presetFile is the YAML layout of a preset file:
//
//	presets:
//	  meeting:
//	    sensitivity: 20000
//	    onset_gap_ms: 300
type presetFile struct {
	Presets map[string]struct {
		Sensitivity *int `yaml:"sensitivity"`
		OnsetGapMS  *int `yaml:"onset_gap_ms"`
	} `yaml:"presets"`
}

// LoadPresets reads and validates a YAML preset file. Omitted fields take
// the default tuning.
func LoadPresets(path string) (map[string]sod.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeConfigMissing, "read preset file %s", path)
	}
	var pf presetFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "parse preset file %s", path)
	}

	out := make(map[string]sod.Config, len(pf.Presets))
	for name, p := range pf.Presets {
		cfg := sod.DefaultConfig()
		if p.Sensitivity != nil {
			cfg.Sensitivity = *p.Sensitivity
		}
		if p.OnsetGapMS != nil {
			cfg.OnsetGap = time.Duration(*p.OnsetGapMS) * time.Millisecond
		}
		if err := cfg.Validate(); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "preset %q", name)
		}
		out[name] = cfg
	}
	return out, nil
}

// Summary returns loggable key/value pairs.
func (c *Config) Summary() []any {
	return []any{
		"http", c.HTTPAddr,
		"grpc", c.GRPCAddr,
		"sensitivity", c.Detector.Sensitivity,
		"onset_gap", c.Detector.OnsetGap,
		"capture", c.CaptureEnabled,
		"onset_log", c.OnsetLogPath,
	}
}

func (c *Config) String() string {
	return fmt.Sprintf("sod(sensitivity=%d gap=%v)", c.Detector.Sensitivity, c.Detector.OnsetGap)
}
