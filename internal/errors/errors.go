// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrWorkerNotReady   = errors.New("worker not ready")
	ErrWorkerTerminated = errors.New("worker terminated")
	ErrWorkerTimeout    = errors.New("worker response timed out")
	ErrWorkerStartup    = errors.New("worker failed to start")
	ErrInsufficientBars = errors.New("insufficient bars")
	ErrNoPreviousClose  = errors.New("no previous close")
	ErrNoBars           = errors.New("no bars found")
	ErrTemplateNotFound = errors.New("exit template not found")
	ErrSignalRejected   = errors.New("signal rejected")
	ErrDatabaseError    = errors.New("database error")
	ErrConfigInvalid    = errors.New("invalid configuration")
)

// WorkerError represents a failure of a detector worker process.
type WorkerError struct {
	Ticker  string
	State   string
	Message string
	Err     error
}

func (e *WorkerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker error [%s/%s]: %s: %v", e.Ticker, e.State, e.Message, e.Err)
	}
	return fmt.Sprintf("worker error [%s/%s]: %s", e.Ticker, e.State, e.Message)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// NewWorkerError creates a new WorkerError.
func NewWorkerError(ticker, state, message string, err error) *WorkerError {
	return &WorkerError{
		Ticker:  ticker,
		State:   state,
		Message: message,
		Err:     err,
	}
}

// ProtocolError represents a scan channel wire protocol failure.
type ProtocolError struct {
	RequestID string
	Message   string
	Err       error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error [%s]: %s: %v", e.RequestID, e.Message, e.Err)
	}
	return fmt.Sprintf("protocol error [%s]: %s", e.RequestID, e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(requestID, message string, err error) *ProtocolError {
	return &ProtocolError{
		RequestID: requestID,
		Message:   message,
		Err:       err,
	}
}

// DataError represents a market-data availability error for one ticker/day.
type DataError struct {
	DataType string
	Ticker   string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Ticker, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Ticker, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, ticker, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Ticker:   ticker,
		Message:  message,
		Err:      err,
	}
}

// SimulationError represents an exit-engine invariant violation. Reportable
// for visibility even when a degenerate outcome is still emitted.
type SimulationError struct {
	Ticker   string
	Date     string
	Template string
	Message  string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation error [%s %s/%s]: %s", e.Ticker, e.Date, e.Template, e.Message)
}

// NewSimulationError creates a new SimulationError.
func NewSimulationError(ticker, date, template, message string) *SimulationError {
	return &SimulationError{
		Ticker:   ticker,
		Date:     date,
		Template: template,
		Message:  message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
