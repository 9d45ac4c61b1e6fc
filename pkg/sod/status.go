package sod

// Status is the outcome of processing one frame.
type Status int

const (
	// StatusInvalid is never returned for a successfully processed frame.
	StatusInvalid Status = iota
	// StatusDetected reports a speech onset. Only returned when the caller
	// asked for a trigger check.
	StatusDetected
	// StatusInputDataProcessed acknowledges that the frame was consumed and
	// no onset is being reported.
	StatusInputDataProcessed
	// StatusMax bounds the enumeration.
	StatusMax
)

func (s Status) String() string {
	switch s {
	case StatusInvalid:
		return "invalid"
	case StatusDetected:
		return "detected"
	case StatusInputDataProcessed:
		return "input_data_processed"
	default:
		return "max"
	}
}
