package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/GriffinCanCode/good-listener/backend/sod/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/sod/pkg/sod"
)

var envVars = []string{
	"HTTP_ADDR", "GRPC_ADDR", "SAMPLE_RATE", "SOD_SENSITIVITY", "SOD_ONSET_GAP_MS",
	"SOD_PRESET_FILE", "SOD_PRESET", "SOD_PROFILE", "MAX_SILENCE_FRAMES",
	"CAPTURE_ENABLED", "CAPTURE_SYSTEM_AUDIO", "EXCLUDED_AUDIO_DEVICES",
	"ONSET_LOG_PATH", "ONSET_HISTORY", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv unsets every variable Load reads and restores them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range envVars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}

func noDotEnv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(noDotEnv(t))
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, ":50052", cfg.GRPCAddr)
	assert.Equal(t, 16000, cfg.SampleRate)
	assert.Equal(t, sod.DefaultConfig(), cfg.Detector)
	assert.Equal(t, 50, cfg.MaxSilenceFrames)
	assert.True(t, cfg.CaptureEnabled)
	assert.True(t, cfg.CaptureSystemAudio)
	assert.Equal(t, []string{"iphone", "teams"}, cfg.ExcludedAudioDevices)
	assert.Equal(t, "sod.db", cfg.OnsetLogPath)
	assert.Equal(t, 100, cfg.OnsetHistory)
	assert.False(t, cfg.Profile)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadWithEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("SOD_SENSITIVITY", "32767")
	t.Setenv("SOD_ONSET_GAP_MS", "100")
	t.Setenv("SOD_PROFILE", "true")
	t.Setenv("CAPTURE_ENABLED", "false")
	t.Setenv("EXCLUDED_AUDIO_DEVICES", "zoom, webex")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load(noDotEnv(t))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, sod.Config{Sensitivity: 32767, OnsetGap: 100 * time.Millisecond}, cfg.Detector)
	assert.True(t, cfg.Profile)
	assert.False(t, cfg.CaptureEnabled)
	assert.Equal(t, []string{"zoom", "webex"}, cfg.ExcludedAudioDevices)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"sample rate", "SAMPLE_RATE", "48000"},
		{"unsupported gap", "SOD_ONSET_GAP_MS", "150"},
		{"sensitivity too high", "SOD_SENSITIVITY", "40000"},
		{"negative sensitivity", "SOD_SENSITIVITY", "-1"},
		{"not a number", "SOD_SENSITIVITY", "loud"},
		{"silence frames", "MAX_SILENCE_FRAMES", "0"},
		{"history", "ONSET_HISTORY", "-5"},
		{"log level", "LOG_LEVEL", "chatty"},
		{"log format", "LOG_FORMAT", "xml"},
		{"unknown preset", "SOD_PRESET", "whisper"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)

			_, err := Load(noDotEnv(t))
			require.Error(t, err)
			assert.True(t,
				apperrors.IsCode(err, apperrors.CodeConfigInvalid) || apperrors.IsCode(err, apperrors.CodeConfigMissing),
				"unexpected error %v", err)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SOD_SENSITIVITY=20000\nHTTP_ADDR=:7000\n"), 0o600))
	t.Setenv("HTTP_ADDR", ":7001")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 20000, cfg.Detector.Sensitivity)
	assert.Equal(t, ":7001", cfg.HTTPAddr, "environment wins over .env")
}

func TestBuiltinPreset(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOD_PRESET", "eager")
	t.Setenv("SOD_SENSITIVITY", "1")

	cfg, err := Load(noDotEnv(t))
	require.NoError(t, err)

	want, ok := sod.LookupPreset("eager")
	require.True(t, ok)
	assert.Equal(t, want, cfg.Detector)
}

func TestPresetFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	body := `presets:
  meeting:
    sensitivity: 20000
    onset_gap_ms: 300
  quiet:
    sensitivity: 30000
  eager:
    onset_gap_ms: 1000
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	presets, err := LoadPresets(path)
	require.NoError(t, err)
	require.Len(t, presets, 3)
	assert.Equal(t, sod.Config{Sensitivity: 20000, OnsetGap: 300 * time.Millisecond}, presets["meeting"])
	assert.Equal(t, sod.Config{Sensitivity: 30000, OnsetGap: sod.DefaultConfig().OnsetGap}, presets["quiet"])

	clearEnv(t)
	t.Setenv("SOD_PRESET_FILE", path)
	t.Setenv("SOD_PRESET", "eager")

	cfg, err := Load(noDotEnv(t))
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.Detector.OnsetGap, "file presets shadow built-ins")
}

func TestLoadKeepsPresets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("presets:\n  room:\n    sensitivity: 30000\n"), 0o600))

	clearEnv(t)
	t.Setenv("SOD_PRESET_FILE", path)

	cfg, err := Load(noDotEnv(t))
	require.NoError(t, err)
	assert.Equal(t, sod.DefaultConfig(), cfg.Detector, "a preset file alone does not pick a preset")

	room, ok := cfg.LookupPreset("room")
	require.True(t, ok)
	assert.Equal(t, 30000, room.Sensitivity)
	_, ok = cfg.LookupPreset("eager")
	assert.True(t, ok)
	_, ok = cfg.LookupPreset("whisper")
	assert.False(t, ok)

	bare := &Config{}
	_, ok = bare.LookupPreset("eager")
	assert.True(t, ok, "built-ins without Load")
}

func TestPresetFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadPresets(filepath.Join(dir, "nope.yaml"))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConfigMissing))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("presets: [1, 2"), 0o600))
	_, err = LoadPresets(bad)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConfigInvalid))

	gap := filepath.Join(dir, "gap.yaml")
	require.NoError(t, os.WriteFile(gap, []byte("presets:\n  odd:\n    onset_gap_ms: 250\n"), 0o600))
	_, err = LoadPresets(gap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `preset "odd"`)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{LogLevel: "warn", LogFormat: "json"}
	logger := cfg.NewLogger()
	require.NotNil(t, logger)
	assert.False(t, logger.Enabled(t.Context(), slog.LevelInfo))
	assert.True(t, logger.Enabled(t.Context(), slog.LevelWarn))
}
