package sod

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"min sensitivity", Config{Sensitivity: 0, OnsetGap: OnsetGap0ms}, false},
		{"max sensitivity", Config{Sensitivity: MaxSensitivity, OnsetGap: OnsetGap1000ms}, false},
		{"negative sensitivity", Config{Sensitivity: -1, OnsetGap: OnsetGap400ms}, true},
		{"sensitivity too high", Config{Sensitivity: MaxSensitivity + 1, OnsetGap: OnsetGap400ms}, true},
		{"unsupported gap", Config{Sensitivity: NominalSensitivity, OnsetGap: 250 * time.Millisecond}, true},
		{"negative gap", Config{Sensitivity: NominalSensitivity, OnsetGap: -time.Millisecond}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ResultBadConfig)
				_, nerr := New(tt.cfg)
				assert.ErrorIs(t, nerr, ResultBadConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestGapFromMillis(t *testing.T) {
	for _, ms := range []int{0, 100, 200, 300, 400, 500, 1000} {
		d, err := GapFromMillis(ms)
		require.NoError(t, err)
		assert.Equal(t, time.Duration(ms)*time.Millisecond, d)
	}
	_, err := GapFromMillis(600)
	assert.ErrorIs(t, err, ResultBadConfig)
}

func TestThresholdMapping(t *testing.T) {
	assert.InDelta(t, maxThresholdDB, Config{Sensitivity: 0}.threshold(), 1e-9)
	assert.InDelta(t, minThresholdDB, Config{Sensitivity: MaxSensitivity}.threshold(), 1e-9)
	assert.InDelta(t, 13.5, Config{Sensitivity: NominalSensitivity}.threshold(), 0.01)
}

func TestPresets(t *testing.T) {
	for _, p := range Presets() {
		assert.NoError(t, p.Config.Validate(), p.Name)
	}
	cfg, ok := LookupPreset("wakeword")
	require.True(t, ok)
	assert.Equal(t, DefaultConfig(), cfg)

	_, ok = LookupPreset("missing")
	assert.False(t, ok)
}

func TestResultErrors(t *testing.T) {
	seen := map[uint32]bool{}
	for _, r := range Results {
		assert.NotEqual(t, "UNKNOWN", r.Name())
		assert.Contains(t, r.Error(), "sod: ")
		assert.False(t, seen[r.Code()], "duplicate code %x", r.Code())
		seen[r.Code()] = true
	}
	assert.Equal(t, uint32(0x0A01), ResultBadArgument.Code())

	wrapped := errors.Join(errors.New("ctx"), ResultBadFrame)
	var r Result
	require.ErrorAs(t, wrapped, &r)
	assert.Equal(t, ResultBadFrame, r)

	assert.Equal(t, "UNKNOWN", Result(0xFFFF).Name())
	assert.Contains(t, Result(0xFFFF).Error(), "0xffff")
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "detected", StatusDetected.String())
	assert.Equal(t, "input_data_processed", StatusInputDataProcessed.String())
	assert.Equal(t, "invalid", StatusInvalid.String())
	assert.Equal(t, "max", StatusMax.String())
}
