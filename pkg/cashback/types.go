package cashback

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CustomerID identifies a buying customer.
type CustomerID struct {
	value string
}

// StoreID identifies a partner store.
type StoreID struct {
	value string
}

// TransactionID identifies a ledger transaction.
type TransactionID struct {
	value string
}

// BatchID identifies a settlement request.
type BatchID struct {
	value string
}

// ExternalCode is the store-scoped reference of an external sale.
type ExternalCode struct {
	value string
}

// NewCustomerID validates and normalizes a customer id.
func NewCustomerID(raw string) (CustomerID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CustomerID{}, fmt.Errorf("%w: empty value", ErrInvalidCustomerID)
	}
	return CustomerID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id CustomerID) String() string {
	return id.value
}

// NewStoreID validates and normalizes a store id.
func NewStoreID(raw string) (StoreID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return StoreID{}, fmt.Errorf("%w: empty value", ErrInvalidStoreID)
	}
	return StoreID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id StoreID) String() string {
	return id.value
}

// NewTransactionID validates and normalizes a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string {
	return id.value
}

// NewBatchID validates and normalizes a batch id.
func NewBatchID(raw string) (BatchID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BatchID{}, fmt.Errorf("%w: empty value", ErrInvalidBatchID)
	}
	return BatchID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BatchID) String() string {
	return id.value
}

// NewExternalCode validates and normalizes an external reference code.
func NewExternalCode(raw string) (ExternalCode, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ExternalCode{}, fmt.Errorf("%w: empty value", ErrInvalidExternalCode)
	}
	return ExternalCode{value: trimmed}, nil
}

// String returns the normalized code.
func (code ExternalCode) String() string {
	return code.value
}

// NewAmount validates a strictly positive money amount, normalized to cents.
func NewAmount(raw decimal.Decimal) (decimal.Decimal, error) {
	if raw.Cmp(decimal.Zero) <= 0 {
		return decimal.Zero, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return raw.Round(moneyScale), nil
}

// TransactionStatus defines the transaction lifecycle.
type TransactionStatus string

const (
	TransactionPending        TransactionStatus = "pending"
	TransactionPaymentPending TransactionStatus = "payment_pending"
	TransactionApproved       TransactionStatus = "approved"
	TransactionCanceled       TransactionStatus = "canceled"
)

// String returns the stored representation.
func (status TransactionStatus) String() string {
	return string(status)
}

// ParseTransactionStatus maps a stored value back to a status.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	switch TransactionStatus(raw) {
	case TransactionPending, TransactionPaymentPending, TransactionApproved, TransactionCanceled:
		return TransactionStatus(raw), nil
	}
	return "", fmt.Errorf("%w: transaction status %q", ErrInvalidStatus, raw)
}

// BatchStatus defines the settlement request lifecycle.
type BatchStatus string

const (
	BatchPending  BatchStatus = "pending"
	BatchApproved BatchStatus = "approved"
	BatchRejected BatchStatus = "rejected"
)

// String returns the stored representation.
func (status BatchStatus) String() string {
	return string(status)
}

// ParseBatchStatus maps a stored value back to a status.
func ParseBatchStatus(raw string) (BatchStatus, error) {
	switch BatchStatus(raw) {
	case BatchPending, BatchApproved, BatchRejected:
		return BatchStatus(raw), nil
	}
	return "", fmt.Errorf("%w: batch status %q", ErrInvalidStatus, raw)
}

// MovementKind enumerates balance movement kinds.
type MovementKind string

const (
	MovementCredit   MovementKind = "credit"
	MovementUse      MovementKind = "use"
	MovementReversal MovementKind = "reversal"
)

// String returns the stored representation.
func (kind MovementKind) String() string {
	return string(kind)
}

// ParseMovementKind maps a stored value back to a kind.
func ParseMovementKind(raw string) (MovementKind, error) {
	switch MovementKind(raw) {
	case MovementCredit, MovementUse, MovementReversal:
		return MovementKind(raw), nil
	}
	return "", fmt.Errorf("%w: movement kind %q", ErrInvalidMovementKind, raw)
}

// Party enumerates commission beneficiaries.
type Party string

const (
	PartyOperator Party = "operator"
	PartyStore    Party = "store"
)

// String returns the stored representation.
func (party Party) String() string {
	return string(party)
}

// ParseParty maps a stored value back to a party.
func ParseParty(raw string) (Party, error) {
	switch Party(raw) {
	case PartyOperator, PartyStore:
		return Party(raw), nil
	}
	return "", fmt.Errorf("%w: party %q", ErrInvalidParty, raw)
}

// Role enumerates acting principals.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStore    Role = "store"
	RoleAdmin    Role = "admin"
)

// Actor is the authenticated principal invoking a core operation.
type Actor struct {
	ID   string
	Role Role
}

// Split is the cashback division of a single sale.
type Split struct {
	Total         decimal.Decimal
	ClientShare   decimal.Decimal
	OperatorShare decimal.Decimal
	StoreShare    decimal.Decimal
}

// Transaction is one recorded purchase.
type Transaction struct {
	ID             TransactionID
	CustomerID     CustomerID
	StoreID        StoreID
	GrossAmount    decimal.Decimal
	NetAmount      decimal.Decimal
	BalanceUsed    decimal.Decimal
	TotalCashback  decimal.Decimal
	ClientShare    decimal.Decimal
	OperatorShare  decimal.Decimal
	StoreShare     decimal.Decimal
	ExternalCode   ExternalCode
	Status         TransactionStatus
	Description    string
	BatchID        *BatchID
	OccurredUnix   int64
	CreatedUnixUTC int64
}

// SettlementDue is the amount a batch must declare for this transaction.
func (transaction Transaction) SettlementDue() decimal.Decimal {
	return transaction.ClientShare.Add(transaction.OperatorShare)
}

// CommissionRecord is one beneficiary line of a transaction's cashback.
type CommissionRecord struct {
	TransactionID TransactionID
	Party         Party
	BasisAmount   decimal.Decimal
	Amount        decimal.Decimal
	Status        TransactionStatus
}

// Balance is the materialized per-(customer, store) projection.
type Balance struct {
	CustomerID    CustomerID
	StoreID       StoreID
	Available     decimal.Decimal
	TotalCredited decimal.Decimal
	TotalUsed     decimal.Decimal
	UpdatedUnix   int64
}

// Movement is one immutable line in the balance log.
type Movement struct {
	ID                 string
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

// Batch is a store's settlement request over its pending transactions.
type Batch struct {
	ID             BatchID
	StoreID        StoreID
	DeclaredTotal  decimal.Decimal
	Status         BatchStatus
	Method         string
	Reference      string
	Note           string
	TransactionIDs []TransactionID
	CreatedUnixUTC int64
	ProcessedUnix  int64
}

// ReserveBalance is the operator-side projection.
type ReserveBalance struct {
	Available     decimal.Decimal
	TotalCredited decimal.Decimal
	TotalUsed     decimal.Decimal
	UpdatedUnix   int64
}

// ReserveMovement is one immutable line in the operator reserve log.
type ReserveMovement struct {
	ID                string
	Kind              MovementKind
	Amount            decimal.Decimal
	BalanceBefore     decimal.Decimal
	BalanceAfter      decimal.Decimal
	Description       string
	OriginTransaction *TransactionID
	BatchID           *BatchID
	CreatedUnixUTC    int64
}

// CashbackConfig is the platform-wide percentage configuration.
type CashbackConfig struct {
	TotalPercent    decimal.Decimal
	ClientPercent   decimal.Decimal
	OperatorPercent decimal.Decimal
	MinimumGross    decimal.Decimal
}

// Validate checks that the configured percentages are coherent.
func (config CashbackConfig) Validate() error {
	if config.TotalPercent.Cmp(decimal.Zero) <= 0 || config.TotalPercent.Cmp(oneHundred) > 0 {
		return fmt.Errorf("%w: total percent out of range", ErrInvalidServiceConfig)
	}
	if config.ClientPercent.Cmp(decimal.Zero) < 0 || config.OperatorPercent.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("%w: negative share percent", ErrInvalidServiceConfig)
	}
	if !config.ClientPercent.Add(config.OperatorPercent).Equal(config.TotalPercent) {
		return fmt.Errorf("%w: client and operator percents must sum to total", ErrInvalidServiceConfig)
	}
	if config.MinimumGross.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("%w: negative minimum gross", ErrInvalidServiceConfig)
	}
	return nil
}
