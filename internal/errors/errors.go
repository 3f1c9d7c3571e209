// Package errors provides custom error types for the protocol engine.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrConnectionLost   = errors.New("connection lost")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrTimeout          = errors.New("command timed out")
	ErrPolicyBlocked    = errors.New("blocked by dispatch policy")
	ErrCancelled        = errors.New("command cancelled")
	ErrRejected         = errors.New("rejected by server")
	ErrInvalidSymbol    = errors.New("invalid symbol")
	ErrInvalidOrder     = errors.New("invalid order")
	ErrUnknownOrder     = errors.New("unknown order id")
	ErrNotSubscribed    = errors.New("not subscribed")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrDatabaseError    = errors.New("database error")
)

// ConnectionError represents a transport-level failure.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection error [%s]: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("connection error [%s]", e.Op)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(op string, err error) *ConnectionError {
	return &ConnectionError{Op: op, Err: err}
}

// CommandError represents a failure surfaced for a specific command.
type CommandError struct {
	Command string
	Reason  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command error [%s]: %s: %v", e.Command, e.Reason, e.Err)
	}
	return fmt.Sprintf("command error [%s]: %s", e.Command, e.Reason)
}

func (e *CommandError) Unwrap() error { return e.Err }

// NewCommandError creates a new CommandError.
func NewCommandError(command, reason string, err error) *CommandError {
	return &CommandError{Command: command, Reason: reason, Err: err}
}

// ParseError represents a malformed or unrecognized protocol line. It is
// logged and never fails the read loop.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s: %q", e.Reason, e.Line)
}

// NewParseError creates a new ParseError.
func NewParseError(line, reason string) *ParseError {
	return &ParseError{Line: line, Reason: reason}
}

// OrderError represents an error related to order operations.
type OrderError struct {
	OrderID string
	Symbol  string
	Action  string
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] %s %s: %s: %v", e.OrderID, e.Action, e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%s] %s %s: %s", e.OrderID, e.Action, e.Symbol, e.Reason)
}

func (e *OrderError) Unwrap() error { return e.Err }

// NewOrderError creates a new OrderError.
func NewOrderError(orderID, symbol, action, reason string, err error) *OrderError {
	return &OrderError{OrderID: orderID, Symbol: symbol, Action: action, Reason: reason, Err: err}
}

// LocateError represents a failed or refused locate operation.
type LocateError struct {
	Symbol  string
	Shares  int64
	Reasons []string
	Err     error
}

func (e *LocateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("locate error [%s x%d]: %v: %v", e.Symbol, e.Shares, e.Reasons, e.Err)
	}
	return fmt.Sprintf("locate error [%s x%d]: %v", e.Symbol, e.Shares, e.Reasons)
}

func (e *LocateError) Unwrap() error { return e.Err }

// NewLocateError creates a new LocateError.
func NewLocateError(symbol string, shares int64, reasons []string, err error) *LocateError {
	return &LocateError{Symbol: symbol, Shares: shares, Reasons: reasons, Err: err}
}

// RiskError represents a risk guard violation.
type RiskError struct {
	Rule    string
	Current float64
	Limit   float64
	Message string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk violation [%s]: %s (current: %.2f, limit: %.2f)", e.Rule, e.Message, e.Current, e.Limit)
}

// NewRiskError creates a new RiskError.
func NewRiskError(rule string, current, limit float64, message string) *RiskError {
	return &RiskError{Rule: rule, Current: current, Limit: limit, Message: message}
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
