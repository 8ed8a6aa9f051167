package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Error codes. Each one maps to a single HTTP status.
const (
	CodeUnknown      = 0
	CodeValidation   = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeConflict     = 409
	CodeRateLimited  = 429
	CodeInternal     = 500
)

// Reason codes carried alongside Code so clients can tell rejections apart.
const (
	ReasonOutOfRange            = "out_of_range"
	ReasonNullIsland            = "null_island"
	ReasonFallbackLocation      = "fallback_location"
	ReasonEmptyMessage          = "empty_message"
	ReasonMessageTooLong        = "message_too_long"
	ReasonInvalidStatus         = "invalid_status"
	ReasonInvalidAttachment     = "invalid_attachment"
	ReasonActiveEmergencyExists = "active_emergency_exists"
	ReasonEmergencyInactive     = "emergency_inactive"
	ReasonNotParticipant        = "not_participant"
	ReasonNotCreator            = "not_creator"
	ReasonRateLimited           = "rate_limited"
)

// Error represents a coded error with stack trace
type Error struct {
	Code    int        `json:"code"`
	Reason  string     `json:"reason,omitempty"`
	Message string     `json:"message"`
	Err     error      `json:"-"`
	Stack   string     `json:"stack,omitempty"`
	Context []KeyValue `json:"context,omitempty"`
}

// KeyValue represents a key-value pair for context
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

// Unwrap implements the errors.Wrapper interface
func (e *Error) Unwrap() error {
	return e.Err
}

// WithCode creates a new error with code
func WithCode(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Stack:   captureStack(),
	}
}

// WithCodef creates a new error with code and formatted message
func WithCodef(code int, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(),
	}
}

func withReason(code int, reason, message string) *Error {
	return &Error{
		Code:    code,
		Reason:  reason,
		Message: message,
		Stack:   captureStack(),
	}
}

// Validation reports malformed or out-of-range input.
func Validation(reason, message string) *Error {
	return withReason(CodeValidation, reason, message)
}

func Unauthorized(message string) *Error {
	return withReason(CodeUnauthorized, "", message)
}

// Forbidden reports a caller that is authenticated but not allowed to act.
func Forbidden(reason, message string) *Error {
	return withReason(CodeForbidden, reason, message)
}

func NotFound(message string) *Error {
	return withReason(CodeNotFound, "", message)
}

// Conflict reports a request that contradicts current state.
func Conflict(reason, message string) *Error {
	return withReason(CodeConflict, reason, message)
}

func RateLimited(message string) *Error {
	return withReason(CodeRateLimited, ReasonRateLimited, message)
}

// Internal wraps an unexpected failure, usually from storage.
func Internal(err error, message string) *Error {
	return &Error{
		Code:    CodeInternal,
		Message: message,
		Err:     err,
		Stack:   captureStack(),
	}
}

// Wrap wraps an error with message
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:    GetCode(err),
		Reason:  GetReason(err),
		Message: message,
		Err:     err,
		Stack:   captureStack(),
	}
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:    GetCode(err),
		Reason:  GetReason(err),
		Message: fmt.Sprintf(format, args...),
		Err:     err,
		Stack:   captureStack(),
	}
}

// New creates a new error
func New(message string) *Error {
	return &Error{
		Message: message,
		Stack:   captureStack(),
	}
}

// Errorf creates a new formatted error
func Errorf(format string, args ...interface{}) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(),
	}
}

// WithContext returns a copy of e with one more context pair.
func (e *Error) WithContext(key, value string) *Error {
	if e == nil {
		return nil
	}

	newErr := *e
	newErr.Context = make([]KeyValue, len(e.Context), len(e.Context)+1)
	copy(newErr.Context, e.Context)
	newErr.Context = append(newErr.Context, KeyValue{Key: key, Value: value})
	return &newErr
}

// ContextValue returns the first context value stored under key.
func (e *Error) ContextValue(key string) string {
	if e == nil {
		return ""
	}
	for _, kv := range e.Context {
		if kv.Key == key {
			return kv.Value
		}
	}
	return ""
}

// captureStack captures the current stack trace
func captureStack() string {
	buf := make([]byte, 1024)
	n := runtime.Stack(buf, false)
	stack := string(buf[:n])

	// drop the goroutine header and the captureStack/constructor frames
	lines := strings.Split(stack, "\n")
	if len(lines) > 6 {
		stack = strings.Join(lines[6:], "\n")
	}

	return strings.TrimSpace(stack)
}

// GetCode returns the first non-zero code in the chain.
func GetCode(err error) int {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return CodeUnknown
		}
		if e.Code != CodeUnknown {
			return e.Code
		}
		err = e.Err
	}
	return CodeUnknown
}

// GetReason returns the first non-empty reason in the chain.
func GetReason(err error) string {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return ""
		}
		if e.Reason != "" {
			return e.Reason
		}
		err = e.Err
	}
	return ""
}

// GetMessage returns the error message
func GetMessage(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Error()
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// GetStack returns the error stack trace
func GetStack(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Stack
	}
	return ""
}

// HTTPStatus maps err to a response status. Unknown errors are 500.
func HTTPStatus(err error) int {
	switch GetCode(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// IsCode reports whether err carries code anywhere in its chain.
func IsCode(err error, code int) bool {
	return GetCode(err) == code
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Cause returns the underlying error
func Cause(err error) error {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Err != nil {
			err = e.Err
		} else {
			return err
		}
	}
	return err
}

// Format implements fmt.Formatter
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s", e.Error())
			if e.Err != nil && e.Message != "" {
				fmt.Fprintf(s, ": %v", e.Err)
			}
			if e.Stack != "" {
				fmt.Fprintf(s, "\n%s", e.Stack)
			}
			return
		}
		fallthrough
	case 's':
		fmt.Fprintf(s, "%s", e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
