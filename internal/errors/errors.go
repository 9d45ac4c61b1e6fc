// Package errors provides unified error handling with structured codes.
// Codes travel over gRPC as a google.rpc.ErrorInfo detail and over HTTP as
// the "code" field of error bodies.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/GriffinCanCode/good-listener/backend/sod/pkg/sod"
)

// Domain tags ErrorInfo details produced by this service.
const Domain = "sod.good-listener"

// Code classifies an AppError.
type Code int32

const (
	CodeUnspecified Code = iota
	CodeUnknown
	CodeInternal
	CodeInvalidArgument
	CodeNotFound
	CodeUnavailable
	CodeTimeout
	CodeCancelled
	CodeRateLimited
	CodeAudioInvalidFormat
	CodeAudioEmptyInput
	CodeAudioDeviceFailed
	CodeSODBadConfig
	CodeSODBadFrame
	CodeSODClosed
	CodeStorageFailed
	CodeStorageBusy
	CodeConfigInvalid
	CodeConfigMissing
)

var codeNames = map[Code]string{
	CodeUnspecified:        "ERROR_CODE_UNSPECIFIED",
	CodeUnknown:            "UNKNOWN",
	CodeInternal:           "INTERNAL",
	CodeInvalidArgument:    "INVALID_ARGUMENT",
	CodeNotFound:           "NOT_FOUND",
	CodeUnavailable:        "UNAVAILABLE",
	CodeTimeout:            "TIMEOUT",
	CodeCancelled:          "CANCELLED",
	CodeRateLimited:        "RATE_LIMITED",
	CodeAudioInvalidFormat: "AUDIO_INVALID_FORMAT",
	CodeAudioEmptyInput:    "AUDIO_EMPTY_INPUT",
	CodeAudioDeviceFailed:  "AUDIO_DEVICE_FAILED",
	CodeSODBadConfig:       "SOD_BAD_CONFIG",
	CodeSODBadFrame:        "SOD_BAD_FRAME",
	CodeSODClosed:          "SOD_CLOSED",
	CodeStorageFailed:      "STORAGE_FAILED",
	CodeStorageBusy:        "STORAGE_BUSY",
	CodeConfigInvalid:      "CONFIG_INVALID",
	CodeConfigMissing:      "CONFIG_MISSING",
}

var codesByName = func() map[string]Code {
	m := make(map[string]Code, len(codeNames))
	for c, n := range codeNames {
		m[n] = c
	}
	return m
}()

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("CODE_%d", int32(c))
}

// ParseCode maps a code name back to its Code.
func ParseCode(name string) (Code, bool) {
	c, ok := codesByName[name]
	return c, ok
}

// grpcCodeMap maps error codes to gRPC status codes.
var grpcCodeMap = map[Code]codes.Code{
	CodeUnspecified:        codes.Unknown,
	CodeUnknown:            codes.Unknown,
	CodeInternal:           codes.Internal,
	CodeInvalidArgument:    codes.InvalidArgument,
	CodeNotFound:           codes.NotFound,
	CodeUnavailable:        codes.Unavailable,
	CodeTimeout:            codes.DeadlineExceeded,
	CodeCancelled:          codes.Canceled,
	CodeRateLimited:        codes.ResourceExhausted,
	CodeAudioInvalidFormat: codes.InvalidArgument,
	CodeAudioEmptyInput:    codes.InvalidArgument,
	CodeAudioDeviceFailed:  codes.Unavailable,
	CodeSODBadConfig:       codes.InvalidArgument,
	CodeSODBadFrame:        codes.InvalidArgument,
	CodeSODClosed:          codes.FailedPrecondition,
	CodeStorageFailed:      codes.Internal,
	CodeStorageBusy:        codes.Unavailable,
	CodeConfigInvalid:      codes.InvalidArgument,
	CodeConfigMissing:      codes.FailedPrecondition,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// HTTPStatus returns the HTTP status for the error.
func (e *AppError) HTTPStatus() int {
	switch e.GRPCCode() {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ToProto converts to a google.rpc.ErrorInfo detail.
func (e *AppError) ToProto() *errdetails.ErrorInfo {
	info := &errdetails.ErrorInfo{Reason: e.Code.String(), Domain: Domain}
	if len(e.Metadata) > 0 {
		info.Metadata = e.Metadata
	}
	return info
}

// DetailJSON renders the ErrorInfo detail as protobuf JSON.
func (e *AppError) DetailJSON() []byte {
	b, err := protojson.Marshal(e.ToProto())
	if err != nil {
		return []byte("{}")
	}
	return b
}

// GRPCStatus returns a gRPC status with the ErrorInfo attached.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Error())
	if withDetail, err := st.WithDetails(e.ToProto()); err == nil {
		return withDetail
	}
	return st
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromSOD classifies a detector error. Errors that are already AppErrors
// pass through unchanged.
func FromSOD(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	var r sod.Result
	if !stderrors.As(err, &r) {
		return Wrap(err, CodeInternal, "detector failure")
	}
	code := CodeInternal
	switch r {
	case sod.ResultBadConfig:
		code = CodeSODBadConfig
	case sod.ResultBadFrame:
		code = CodeSODBadFrame
	case sod.ResultBadArgument:
		code = CodeInvalidArgument
	case sod.ResultInvalidHandle, sod.ResultAlreadyClosed:
		code = CodeSODClosed
	}
	return Wrap(err, code, r.Error()).WithMetadata("sod_result", fmt.Sprintf("0x%04x", r.Code()))
}

// FromGRPCError extracts an AppError from a gRPC error if present.
func FromGRPCError(err error) *AppError {
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: CodeUnknown, Message: err.Error(), Cause: err}
	}

	for _, detail := range st.Details() {
		info, ok := detail.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != Domain {
			continue
		}
		code, known := ParseCode(info.GetReason())
		if !known {
			code = CodeUnknown
		}
		return &AppError{Code: code, Message: st.Message(), Metadata: info.GetMetadata()}
	}

	// Fallback: map gRPC code to our error code
	return &AppError{Code: grpcToErrorCode(st.Code()), Message: st.Message()}
}

// grpcToErrorCode maps gRPC codes back to our error codes (best effort).
func grpcToErrorCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return CodeInvalidArgument
	case codes.NotFound:
		return CodeNotFound
	case codes.Unavailable:
		return CodeUnavailable
	case codes.DeadlineExceeded:
		return CodeTimeout
	case codes.Canceled:
		return CodeCancelled
	case codes.Internal:
		return CodeInternal
	case codes.FailedPrecondition:
		return CodeConfigMissing
	case codes.ResourceExhausted:
		return CodeRateLimited
	default:
		return CodeUnknown
	}
}

// IsCode checks if an error carries a specific error code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case CodeUnavailable, CodeTimeout, CodeRateLimited, CodeStorageBusy, CodeAudioDeviceFailed:
		return true
	default:
		return false
	}
}
