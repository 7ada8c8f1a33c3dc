package cashback

import (
	"context"

	"github.com/shopspring/decimal"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation     string
	CustomerID    CustomerID
	StoreID       StoreID
	TransactionID TransactionID
	BatchID       BatchID
	Amount        decimal.Decimal
	Status        string
	Error         error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// EventKind enumerates post-commit domain events.
type EventKind string

const (
	EventTransactionCreated EventKind = "transaction_created"
	EventBalanceCredited    EventKind = "balance_credited"
	EventBalanceUsed        EventKind = "balance_used"
	EventBatchCreated       EventKind = "batch_created"
	EventBatchApproved      EventKind = "batch_approved"
	EventBatchRejected      EventKind = "batch_rejected"
)

// Event is the payload handed to the notification collaborator after a
// mutating unit has committed. Delivery failure is invisible to the core.
type Event struct {
	Kind          EventKind
	CustomerID    string
	StoreID       string
	TransactionID string
	BatchID       string
	Amount        decimal.Decimal
}

// EventSink consumes domain events asynchronously.
type EventSink interface {
	Publish(ctx context.Context, event Event)
}

// WithEventSink wires the notification collaborator.
func WithEventSink(sink EventSink) ServiceOption {
	return func(service *Service) {
		service.events = sink
	}
}
