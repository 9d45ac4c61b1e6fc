package sod

import (
	"fmt"
	"slices"
	"time"
)

// Config holds detector tuning.
type Config struct {
	// Sensitivity ranges 0 (least) to MaxSensitivity (most).
	Sensitivity int `json:"sensitivity" yaml:"sensitivity"`
	// OnsetGap must be one of OnsetGaps.
	OnsetGap time.Duration `json:"onset_gap" yaml:"onset_gap"`
}

// DefaultConfig returns the wake-word tuning: nominal sensitivity, 400ms gap.
func DefaultConfig() Config {
	return Config{Sensitivity: NominalSensitivity, OnsetGap: OnsetGap400ms}
}

// Validate reports ResultBadConfig for unsupported values.
func (c Config) Validate() error {
	if c.Sensitivity < MinSensitivity || c.Sensitivity > MaxSensitivity {
		return fmt.Errorf("sensitivity %d outside %d..%d: %w", c.Sensitivity, MinSensitivity, MaxSensitivity, ResultBadConfig)
	}
	if !IsSupportedGap(c.OnsetGap) {
		return fmt.Errorf("onset gap %v not supported: %w", c.OnsetGap, ResultBadConfig)
	}
	return nil
}

// IsSupportedGap reports whether d is one of OnsetGaps.
func IsSupportedGap(d time.Duration) bool {
	return slices.Contains(OnsetGaps, d)
}

// GapFromMillis converts a millisecond gap setting, rejecting unsupported values.
func GapFromMillis(ms int) (time.Duration, error) {
	d := time.Duration(ms) * time.Millisecond
	if !IsSupportedGap(d) {
		return 0, fmt.Errorf("onset gap %dms not supported: %w", ms, ResultBadConfig)
	}
	return d, nil
}

// threshold maps sensitivity linearly onto the required SNR in dB.
func (c Config) threshold() float64 {
	return maxThresholdDB - (maxThresholdDB-minThresholdDB)*float64(c.Sensitivity)/MaxSensitivity
}

// Preset is a named configuration.
type Preset struct {
	Name   string
	Config Config
}

// Presets returns the built-in tunings.
func Presets() []Preset {
	return []Preset{
		{Name: "wakeword", Config: Config{Sensitivity: NominalSensitivity, OnsetGap: OnsetGap400ms}},
		{Name: "conversational", Config: Config{Sensitivity: NominalSensitivity, OnsetGap: OnsetGap200ms}},
		{Name: "eager", Config: Config{Sensitivity: 24576, OnsetGap: OnsetGap0ms}},
	}
}

// LookupPreset finds a built-in preset by name.
func LookupPreset(name string) (Config, bool) {
	for _, p := range Presets() {
		if p.Name == name {
			return p.Config, true
		}
	}
	return Config{}, false
}
