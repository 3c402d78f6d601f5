// Package diag holds the error taxonomy and diagnostics carrier shared by
// every reader, writer and backend in the toolkit.
package diag

import (
	"fmt"

	"github.com/pkg/errors"
)

// Severity is the level of a collected diagnostic.
type Severity int

const (
	Trace Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Trace:
		return "trace"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// SyntaxError means a textual format failed to parse.
type SyntaxError struct {
	Message  string
	Location string
}

func (e *SyntaxError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("syntax error: %s", e.Message)
	}
	return fmt.Sprintf("syntax error at %s: %s", e.Location, e.Message)
}

// IoError wraps an underlying byte-I/O failure with optional source context.
type IoError struct {
	Inner error
	URL   string
}

func (e *IoError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("io error (%s): %v", e.URL, e.Inner)
	}
	return fmt.Sprintf("io error: %v", e.Inner)
}

func (e *IoError) Unwrap() error { return e.Inner }

// NewIoError wraps cause with stack context via pkg/errors and attaches url.
func NewIoError(cause error, url string) *IoError {
	return &IoError{Inner: errors.WithStack(cause), URL: url}
}

// InvalidMagicHead means the format-identifying magic bytes did not match.
type InvalidMagicHead struct {
	Got      []byte
	Expected []byte
}

func (e *InvalidMagicHead) Error() string {
	return fmt.Sprintf("invalid magic: got % x, expected % x", e.Got, e.Expected)
}

// InvalidRange means a requested byte range falls outside the source.
type InvalidRange struct {
	ActualLength   int64
	ExpectedLength int64
}

func (e *InvalidRange) Error() string {
	return fmt.Sprintf("invalid range: need %d bytes, have %d", e.ExpectedLength, e.ActualLength)
}

// InvalidInstruction means the machine-code encoder cannot emit the requested combination.
type InvalidInstruction struct {
	Mnemonic     string
	Architecture string
	Reason       string
}

func (e *InvalidInstruction) Error() string {
	return fmt.Sprintf("invalid instruction %s on %s: %s", e.Mnemonic, e.Architecture, e.Reason)
}

// UnsupportedArchitecture means a backend was asked for a CPU it does not support.
type UnsupportedArchitecture struct {
	Arch string
}

func (e *UnsupportedArchitecture) Error() string {
	return fmt.Sprintf("unsupported architecture: %s", e.Arch)
}

// UnsupportedTarget means no backend scored above zero for a requested triple.
type UnsupportedTarget struct {
	Target string
}

func (e *UnsupportedTarget) Error() string {
	return fmt.Sprintf("unsupported target: %s", e.Target)
}

// InvalidData means a structural invariant was violated.
type InvalidData struct {
	Message string
}

func (e *InvalidData) Error() string {
	return fmt.Sprintf("invalid data: %s", e.Message)
}

// StageError means a pipeline stage detected accumulated error-severity
// diagnostics without a fatal failure, and short-circuited.
type StageError struct {
	CallerLocation string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage halted at %s due to collected errors", e.CallerLocation)
}

// CustomError is the catch-all for backend-specific conditions.
type CustomError struct {
	Message string
}

func (e *CustomError) Error() string { return e.Message }

// ErrUnreachable indicates a logic-error assertion; its presence indicates a bug.
var ErrUnreachable = errors.New("unreachable: internal invariant violated")
