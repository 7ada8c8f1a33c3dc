package cashback

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the cashback service.
var (
	ErrValidation           = errors.New("validation failed")
	ErrDuplicateTransaction = errors.New("duplicate external code")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrNotFound             = errors.New("not found")
	ErrAlreadyProcessed     = errors.New("batch already processed")
	ErrConsistencyAnomaly   = errors.New("consistency anomaly")
	ErrUnauthorized         = errors.New("actor not authorized")

	ErrInvalidCustomerID    = errors.New("invalid customer id")
	ErrInvalidStoreID       = errors.New("invalid store id")
	ErrInvalidBatchID       = errors.New("invalid batch id")
	ErrInvalidTransactionID = errors.New("invalid transaction id")
	ErrInvalidExternalCode  = errors.New("invalid external code")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidStatus        = errors.New("invalid status")
	ErrInvalidMovementKind  = errors.New("invalid movement kind")
	ErrInvalidParty         = errors.New("invalid commission party")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
