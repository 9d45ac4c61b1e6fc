package server

import (
	"encoding/json"
	"time"

	"github.com/GriffinCanCode/good-listener/backend/sod/internal/orchestrator/events"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/orchestrator/onset"
	"github.com/GriffinCanCode/good-listener/backend/sod/pkg/sod"
)

// Message types.
const (
	TypeReady   = "ready"
	TypeOnset   = "onset"
	TypeSegment = "segment"
	TypeReset   = "reset"
	TypeConfig  = "config"
	TypeError   = "error"
)

// Message is the envelope shared by every text message.
type Message struct {
	Type    string `json:"type"`
	TraceID string `json:"trace_id,omitempty"`
}

// ReadyMessage greets a new connection with its stream ID.
type ReadyMessage struct {
	Type   string         `json:"type"`
	Stream string         `json:"stream"`
	Config ConfigResponse `json:"config"`
}

// OnsetMessage reports a confirmed onset.
type OnsetMessage struct {
	Type         string    `json:"type"`
	Stream       string    `json:"stream"`
	Source       string    `json:"source"`
	Frame        int64     `json:"frame"`
	StartFrame   int64     `json:"start_frame"`
	AtMS         int64     `json:"at_ms"`
	StartMS      int64     `json:"start_ms"`
	WindowFromMS int64     `json:"window_from_ms"`
	WindowToMS   int64     `json:"window_to_ms"`
	LevelDB      float64   `json:"level_db"`
	FloorDB      float64   `json:"floor_db"`
	DetectedAt   time.Time `json:"detected_at"`
}

func newOnsetMessage(ev onset.Event) OnsetMessage {
	from, to := ev.Window()
	return OnsetMessage{
		Type:         TypeOnset,
		Stream:       ev.StreamID,
		Source:       ev.Source,
		Frame:        ev.Onset.Frame,
		StartFrame:   ev.Onset.StartFrame,
		AtMS:         ev.Onset.At().Milliseconds(),
		StartMS:      ev.Onset.StartAt().Milliseconds(),
		WindowFromMS: from.Milliseconds(),
		WindowToMS:   to.Milliseconds(),
		LevelDB:      ev.Onset.Level,
		FloorDB:      ev.Onset.Floor,
		DetectedAt:   ev.DetectedAt,
	}
}

// SegmentMessage reports a closed speech segment.
type SegmentMessage struct {
	Type string `json:"type"`
	events.SegmentInfo
}

// ErrorMessage reports a rejected message on the socket.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConfigResponse is the detector tuning as exposed over the API.
type ConfigResponse struct {
	Type        string `json:"type,omitempty"`
	Sensitivity int    `json:"sensitivity"`
	OnsetGapMS  int64  `json:"onset_gap_ms"`
	Version     uint64 `json:"version"`
}

func newConfigResponse(cfg sod.Config, version uint64) ConfigResponse {
	return ConfigResponse{
		Sensitivity: cfg.Sensitivity,
		OnsetGapMS:  cfg.OnsetGap.Milliseconds(),
		Version:     version,
	}
}

// ConfigRequest changes the detector tuning. A preset is applied first;
// explicit fields override it; unset fields keep their current value.
type ConfigRequest struct {
	Preset      string `json:"preset,omitempty"`
	Sensitivity *int   `json:"sensitivity,omitempty"`
	OnsetGapMS  *int   `json:"onset_gap_ms,omitempty"`
}

// ErrorResponse is the body of a failed REST call.
type ErrorResponse struct {
	Error  string          `json:"error"`
	Code   string          `json:"code"`
	Detail json.RawMessage `json:"detail,omitempty"`
}
