// Package apperror provides coded application errors for the deck codec,
// backends and the job orchestrator. Codes map onto gRPC statuses so the
// job service boundary can be carried over gRPC by an outer transport.
package apperror

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents a specific application error code.
type ErrorCode string

const (
	// Deck codec
	CodeDeckSyntax         ErrorCode = "DECK_SYNTAX"
	CodeIncludeFailed      ErrorCode = "INCLUDE_FAILED"
	CodeUnsupportedKeyword ErrorCode = "UNSUPPORTED_KEYWORD"
	CodeUnitSystem         ErrorCode = "UNIT_SYSTEM"

	// Validation
	CodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	CodeInvalidGrid      ErrorCode = "INVALID_GRID"
	CodeInvalidWell      ErrorCode = "INVALID_WELL"
	CodeInvalidFluid     ErrorCode = "INVALID_FLUID"
	CodeInvalidSchedule  ErrorCode = "INVALID_SCHEDULE"
	CodeGridTooLarge     ErrorCode = "GRID_TOO_LARGE"

	// Infrastructure (subprocess lifecycle)
	CodeInfrastructure  ErrorCode = "INFRASTRUCTURE"
	CodeBinaryNotFound  ErrorCode = "BINARY_NOT_FOUND"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeCancelled       ErrorCode = "CANCELLED"
	CodeNonZeroExit     ErrorCode = "NON_ZERO_EXIT"
	CodeDataUnavailable ErrorCode = "DATA_UNAVAILABLE"
	CodeCorruptOutput   ErrorCode = "CORRUPT_OUTPUT"

	// Comparison
	CodeComparisonInapplicable ErrorCode = "COMPARISON_INAPPLICABLE"

	// Orchestration
	CodeBackendNotFound  ErrorCode = "BACKEND_NOT_FOUND"
	CodeDuplicateBackend ErrorCode = "DUPLICATE_BACKEND"
	CodeCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"
	CodeJobNotFound      ErrorCode = "JOB_NOT_FOUND"
	CodeJobNotTerminal   ErrorCode = "JOB_NOT_TERMINAL"
	CodeShuttingDown     ErrorCode = "SHUTTING_DOWN"

	// General
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeInvalidArgument   ErrorCode = "INVALID_ARGUMENT"
	CodeNilInput          ErrorCode = "NIL_INPUT"
	CodeFormatUnsupported ErrorCode = "FORMAT_UNSUPPORTED"
	CodeUnimplemented     ErrorCode = "UNIMPLEMENTED"
)

// Error carries a code, a message, the offending request field (if any),
// structured details such as deck line/column, and the underlying cause.
type Error struct {
	Code    ErrorCode
	Message string
	Field   string
	Details map[string]any
	Cause   error
}

// Error implements the error interface. The cause, when present, is appended
// so that infrastructure failures reach the job state verbatim.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field: %s)", msg, e.Field)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the wrapped error, allowing for error chain introspection.
func (e *Error) Unwrap() error {
	return e.Cause
}

// GRPCStatus converts the application error into a gRPC status.Status.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.grpcCode(), e.Message)
}

// grpcCode maps an ErrorCode to an appropriate gRPC codes.Code.
func (e *Error) grpcCode() codes.Code {
	switch e.Code {
	case CodeDeckSyntax, CodeUnsupportedKeyword, CodeUnitSystem,
		CodeValidationFailed, CodeInvalidGrid, CodeInvalidWell, CodeInvalidFluid,
		CodeInvalidSchedule, CodeGridTooLarge, CodeInvalidArgument, CodeNilInput,
		CodeFormatUnsupported:
		return codes.InvalidArgument

	case CodeBackendNotFound, CodeJobNotFound, CodeNotFound, CodeIncludeFailed:
		return codes.NotFound

	case CodeDuplicateBackend:
		return codes.AlreadyExists

	case CodeJobNotTerminal, CodeComparisonInapplicable:
		return codes.FailedPrecondition

	case CodeCapacityExceeded:
		return codes.ResourceExhausted

	case CodeTimeout:
		return codes.DeadlineExceeded

	case CodeCancelled:
		return codes.Canceled

	case CodeBinaryNotFound, CodeShuttingDown:
		return codes.Unavailable

	case CodeDataUnavailable, CodeCorruptOutput:
		return codes.DataLoss

	case CodeNonZeroExit:
		return codes.Aborted

	case CodeUnimplemented:
		return codes.Unimplemented

	default:
		return codes.Internal
	}
}

// New creates a new application error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]any),
	}
}

// Newf is New with fmt.Sprintf formatting of the message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new application error that wraps an existing error,
// providing additional context with a code and message.
func Wrap(cause error, code ErrorCode, message string) *Error {
	e := New(code, message)
	e.Cause = cause
	return e
}

// WithDetails adds a key-value pair to the error's details map and returns the modified error.
func (e *Error) WithDetails(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithField sets the field associated with the error and returns the modified error.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// Is checks if the given error is an application error with a matching ErrorCode.
// It uses errors.As to unwrap the error chain.
func Is(err error, code ErrorCode) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Code extracts the ErrorCode from an error. If the error is not an *Error,
// it returns CodeInternal.
func Code(err error) ErrorCode {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// IsInfrastructure reports whether err belongs to the subprocess failure family
// (missing binary, timeout, cancellation, non-zero exit).
func IsInfrastructure(err error) bool {
	switch Code(err) {
	case CodeInfrastructure, CodeBinaryNotFound, CodeTimeout, CodeCancelled, CodeNonZeroExit:
		return true
	}
	return false
}

// ToGRPC converts an application error or any other error into a gRPC error status.
func ToGRPC(err error) error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.GRPCStatus().Err()
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	return status.Error(codes.Internal, err.Error())
}

// Predefined errors for common scenarios.
var (
	ErrNilRequest = New(CodeNilInput, "simulation request is nil")
	ErrNoWells    = New(CodeInvalidWell, "at least one well is required")
)

// ValidationErrors aggregates the results of several validation checks so
// that every violation is reported at once.
type ValidationErrors struct {
	Errors []*Error
}

// NewValidationErrors creates an empty collection.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{Errors: make([]*Error, 0)}
}

// Add appends an error to the collection.
func (v *ValidationErrors) Add(err *Error) {
	v.Errors = append(v.Errors, err)
}

// AddError creates and adds a new application error.
func (v *ValidationErrors) AddError(code ErrorCode, message string) {
	v.Add(New(code, message))
}

// AddErrorWithField creates and adds an error bound to a request field.
func (v *ValidationErrors) AddErrorWithField(code ErrorCode, message, field string) {
	v.Add(New(code, message).WithField(field))
}

// HasErrors reports whether anything was collected.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Err returns the collection as a single CodeValidationFailed error, or nil
// when there are no errors.
func (v *ValidationErrors) Err() error {
	if !v.HasErrors() {
		return nil
	}
	return New(CodeValidationFailed, fmt.Sprintf("%d validation error(s)", len(v.Errors))).
		WithDetails("errors", v.Messages())
}

// Messages returns the bare messages of all collected errors, the form
// backends return from Validate.
func (v *ValidationErrors) Messages() []string {
	messages := make([]string, len(v.Errors))
	for i, err := range v.Errors {
		messages[i] = err.Message
	}
	return messages
}
