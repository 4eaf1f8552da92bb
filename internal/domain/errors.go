package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the invocation core and the storage backends.
// Wrap them with NewDomainError or WrapOp; match with errors.Is.
var (
	ErrConfig        = fmt.Errorf("configuration error")
	ErrRequest       = fmt.Errorf("request error")
	ErrResponse      = fmt.Errorf("response error")
	ErrSerialization = fmt.Errorf("serialization error")
	ErrTransport     = fmt.Errorf("transport error")
	ErrService       = fmt.Errorf("service error")
	ErrInternal      = fmt.Errorf("internal error")
)

// Finer-grained sentinels. Each one wraps exactly one error kind above.
var (
	ErrUnsupportedModel  = fmt.Errorf("unsupported model: %w", ErrRequest)
	ErrEmptyPrompt       = fmt.Errorf("prompt must not be empty: %w", ErrRequest)
	ErrFilterUnsupported = fmt.Errorf("filter not supported by backend: %w", ErrRequest)
	ErrNoStorage         = fmt.Errorf("No storage backend configured: %w", ErrConfig)
	ErrCircuitOpen       = fmt.Errorf("circuit open: %w", ErrTransport)
	ErrRateLimit         = fmt.Errorf("rate limit exceeded: %w", ErrService)
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "TextClient.Generate")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ServiceError is returned when the remote service explicitly rejected a call.
// Code and Message carry the vendor's values when available.
type ServiceError struct {
	Code       string
	Message    string
	StatusCode int
}

func (e *ServiceError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("service error: %s: %s", e.Code, e.Message)
	case e.Code != "":
		return fmt.Sprintf("service error: %s", e.Code)
	case e.StatusCode != 0:
		return fmt.Sprintf("service error: status %d: %s", e.StatusCode, e.Message)
	default:
		return "service error: " + e.Message
	}
}

// Is lets errors.Is(err, ErrService) match, and ErrRateLimit for throttling codes.
func (e *ServiceError) Is(target error) bool {
	switch target {
	case ErrService:
		return true
	case ErrRateLimit:
		return e.throttled()
	}
	return false
}

func (e *ServiceError) throttled() bool {
	switch e.Code {
	case "ThrottlingException", "TooManyRequestsException":
		return true
	}
	return e.StatusCode == 429
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
// Nothing in this module retries; callers decide.
func IsRetryableError(err error) bool {
	if errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTransport) {
		return true
	}
	var se *ServiceError
	if errors.As(err, &se) {
		switch se.Code {
		case "ModelNotReadyException", "ServiceUnavailableException", "InternalServerException":
			return true
		}
		return se.StatusCode >= 500
	}
	return false
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeConfig           ErrorCode = "CONFIG"
	CodeRequest          ErrorCode = "REQUEST"
	CodeUnsupportedModel ErrorCode = "UNSUPPORTED_MODEL"
	CodeEmptyPrompt      ErrorCode = "EMPTY_PROMPT"
	CodeFilter           ErrorCode = "FILTER_UNSUPPORTED"
	CodeNoStorage        ErrorCode = "NO_STORAGE"
	CodeResponse         ErrorCode = "RESPONSE"
	CodeSerialization    ErrorCode = "SERIALIZATION"
	CodeTransport        ErrorCode = "TRANSPORT"
	CodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	CodeService          ErrorCode = "SERVICE"
	CodeRateLimit        ErrorCode = "RATE_LIMIT"
	CodeInternal         ErrorCode = "INTERNAL"
)

// specificCodes are checked before kindCodes so that a narrow sentinel wins
// over the kind it wraps.
var specificCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrUnsupportedModel, CodeUnsupportedModel},
	{ErrEmptyPrompt, CodeEmptyPrompt},
	{ErrFilterUnsupported, CodeFilter},
	{ErrNoStorage, CodeNoStorage},
	{ErrCircuitOpen, CodeCircuitOpen},
	{ErrRateLimit, CodeRateLimit},
}

var kindCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrConfig, CodeConfig},
	{ErrRequest, CodeRequest},
	{ErrResponse, CodeResponse},
	{ErrSerialization, CodeSerialization},
	{ErrTransport, CodeTransport},
	{ErrService, CodeService},
	{ErrInternal, CodeInternal},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, c := range specificCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	for _, c := range kindCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
