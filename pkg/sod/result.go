package sod

import "fmt"

// Result is a detector error code. The zero value is success and is never
// returned as an error.
type Result uint32

// resultModule tags every code so it can travel inside wider result spaces.
const resultModule Result = 0x0A00

// Result codes
const (
	ResultSuccess     Result = 0
	ResultBadArgument Result = resultModule | iota
	ResultBadConfig
	ResultBadFrame
	ResultInvalidHandle
	ResultAlreadyClosed
)

var resultInfo = map[Result]struct{ name, msg string }{
	ResultSuccess:       {"SUCCESS", "success"},
	ResultBadArgument:   {"BAD_ARGUMENT", "bad argument"},
	ResultBadConfig:     {"BAD_CONFIG", "unsupported configuration"},
	ResultBadFrame:      {"BAD_FRAME", "frame must be 160 mono 16-bit samples"},
	ResultInvalidHandle: {"INVALID_HANDLE", "detector is closed"},
	ResultAlreadyClosed: {"ALREADY_CLOSED", "detector already closed"},
}

// Results lists all failure codes in declaration order.
var Results = []Result{
	ResultBadArgument,
	ResultBadConfig,
	ResultBadFrame,
	ResultInvalidHandle,
	ResultAlreadyClosed,
}

// Error implements the error interface.
func (r Result) Error() string {
	if info, ok := resultInfo[r]; ok {
		return "sod: " + info.msg
	}
	return fmt.Sprintf("sod: result 0x%04x", uint32(r))
}

// Name returns the symbolic name of the code.
func (r Result) Name() string {
	if info, ok := resultInfo[r]; ok {
		return info.name
	}
	return "UNKNOWN"
}

// Code returns the numeric value.
func (r Result) Code() uint32 { return uint32(r) }
