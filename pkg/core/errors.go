package core

import "fmt"

// ConversionError reports a failed conversion of a conditional order into
// an executable one. Reason embeds the offending values.
type ConversionError struct {
	OrderID string
	Reason  string
	Err     error
}

func (e *ConversionError) Error() string {
	if e.OrderID == "" {
		return fmt.Sprintf("conversion failed: %s", e.Reason)
	}
	return fmt.Sprintf("conversion of order %s failed: %s", e.OrderID, e.Reason)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// NewConversionError creates a ConversionError with a formatted reason
func NewConversionError(orderID string, err error, format string, args ...interface{}) *ConversionError {
	return &ConversionError{
		OrderID: orderID,
		Reason:  fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// ExecutionError reports a failure to admit or process an order inside
// the execution engine, usually wrapping a ConversionError.
type ExecutionError struct {
	OrderID string
	Reason  string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution of order %s failed: %s", e.OrderID, e.Reason)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError creates an ExecutionError wrapping the given cause
func NewExecutionError(orderID string, err error, format string, args ...interface{}) *ExecutionError {
	return &ExecutionError{
		OrderID: orderID,
		Reason:  fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// LifecycleError reports an invalid lifecycle operation: unknown order id,
// disallowed status transition, or an operation forbidden by the order's
// current flags.
type LifecycleError struct {
	OrderID string
	From    Status
	To      Status
	Reason  string
}

func (e *LifecycleError) Error() string {
	if e.From != "" || e.To != "" {
		return fmt.Sprintf("lifecycle error for order %s: %s (transition %s -> %s)", e.OrderID, e.Reason, e.From, e.To)
	}
	return fmt.Sprintf("lifecycle error for order %s: %s", e.OrderID, e.Reason)
}

// NewLifecycleError creates a LifecycleError with a formatted reason
func NewLifecycleError(orderID string, from, to Status, format string, args ...interface{}) *LifecycleError {
	return &LifecycleError{
		OrderID: orderID,
		From:    from,
		To:      to,
		Reason:  fmt.Sprintf(format, args...),
	}
}
