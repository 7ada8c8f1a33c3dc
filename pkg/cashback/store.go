package cashback

import (
	"context"

	"github.com/shopspring/decimal"
)

// MovementInput is a movement to append. The store assigns the row id.
type MovementInput struct {
	CustomerID         CustomerID
	StoreID            StoreID
	Kind               MovementKind
	Amount             decimal.Decimal
	BalanceBefore      decimal.Decimal
	BalanceAfter       decimal.Decimal
	Description        string
	OriginTransaction  *TransactionID
	ConsumedByTransact *TransactionID
	BatchID            *BatchID
	CreatedUnixUTC     int64
}

// ReserveMovementInput is an operator-reserve movement to append.
type ReserveMovementInput struct {
	Kind              MovementKind
	Amount            decimal.Decimal
	BalanceBefore     decimal.Decimal
	BalanceAfter      decimal.Decimal
	Description       string
	OriginTransaction *TransactionID
	BatchID           *BatchID
	CreatedUnixUTC    int64
}

// BatchInput is a settlement request to insert together with its links.
type BatchInput struct {
	ID             BatchID
	StoreID        StoreID
	DeclaredTotal  decimal.Decimal
	Method         string
	Reference      string
	TransactionIDs []TransactionID
	CreatedUnixUTC int64
}

// MovementSums are the signed aggregates of a movement log slice.
type MovementSums struct {
	Credited decimal.Decimal
	Used     decimal.Decimal
}

// Store is the persistence contract used by Service. Every method invoked
// through WithTx sees the same database transaction; the Settlement Engine is
// the only writer of transaction, commission, balance, and reserve state.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	// Balances and movements.
	GetBalance(ctx context.Context, customerID CustomerID, storeID StoreID) (Balance, error)
	GetBalanceForUpdate(ctx context.Context, customerID CustomerID, storeID StoreID) (Balance, error)
	SaveBalance(ctx context.Context, balance Balance) error
	AppendMovement(ctx context.Context, movement MovementInput) (string, error)
	ListMovements(ctx context.Context, customerID CustomerID, storeID StoreID, beforeUnixUTC int64, limit int) ([]Movement, error)
	SumMovements(ctx context.Context, customerID CustomerID, storeID StoreID) (MovementSums, error)

	// Transactions and commissions.
	InsertTransaction(ctx context.Context, transaction Transaction, commissions []CommissionRecord) error
	GetTransaction(ctx context.Context, transactionID TransactionID) (Transaction, error)
	GetTransactionsForUpdate(ctx context.Context, storeID StoreID, transactionIDs []TransactionID) ([]Transaction, error)
	UpdateTransactionStatus(ctx context.Context, transactionIDs []TransactionID, from TransactionStatus, to TransactionStatus, updatedUnixUTC int64) (int64, error)
	UpdateTransactionBatch(ctx context.Context, transactionIDs []TransactionID, batchID *BatchID) error
	UpdateCommissionStatus(ctx context.Context, transactionIDs []TransactionID, to TransactionStatus, updatedUnixUTC int64) error
	ListCommissions(ctx context.Context, transactionID TransactionID) ([]CommissionRecord, error)
	ListTransactionsByStatus(ctx context.Context, storeID StoreID, statuses []TransactionStatus) ([]Transaction, error)

	// Settlement batches.
	InsertBatch(ctx context.Context, batch BatchInput) error
	GetBatch(ctx context.Context, batchID BatchID) (Batch, error)
	GetBatchForUpdate(ctx context.Context, batchID BatchID) (Batch, error)
	UpdateBatchStatus(ctx context.Context, batchID BatchID, from BatchStatus, to BatchStatus, note string, processedUnixUTC int64) error
	ListBatchTransactions(ctx context.Context, batchID BatchID) ([]Transaction, error)
	ListUncreditedBatchTransactions(ctx context.Context, batchID BatchID) ([]Transaction, error)
	MarkBatchTransactionCredited(ctx context.Context, batchID BatchID, transactionID TransactionID, creditedUnixUTC int64) error

	// Operator reserve.
	GetReserve(ctx context.Context) (ReserveBalance, error)
	GetReserveForUpdate(ctx context.Context) (ReserveBalance, error)
	SaveReserve(ctx context.Context, reserve ReserveBalance) error
	AppendReserveMovement(ctx context.Context, movement ReserveMovementInput) (string, error)
	ListReserveMovements(ctx context.Context, beforeUnixUTC int64, limit int) ([]ReserveMovement, error)
	SumReserveMovements(ctx context.Context) (MovementSums, error)
}

// Registry is the read-only store and customer directory the ledger consults
// before accepting a sale. It never writes ledger state.
type Registry interface {
	IsStoreApproved(ctx context.Context, storeID StoreID) (bool, error)
	IsCustomerActive(ctx context.Context, customerID CustomerID) (bool, error)
	StoreFastLane(ctx context.Context, storeID StoreID) (bool, error)
	StoreTotalPercent(ctx context.Context, storeID StoreID) (decimal.Decimal, bool, error)
	CashbackConfig(ctx context.Context) (CashbackConfig, error)
}
