package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Balance represents the balances table, the materialized projection per
// (customer, store) pair.
type Balance struct {
	CustomerID    string          `gorm:"primaryKey"`
	StoreID       string          `gorm:"primaryKey"`
	Available     decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	TotalCredited decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	TotalUsed     decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	UpdatedAt     time.Time       `gorm:"not null"`
}

func (Balance) TableName() string { return "balances" }

// Movement mirrors the movements table. Rows are append-only.
type Movement struct {
	MovementID              string          `gorm:"type:uuid;primaryKey"`
	CustomerID              string          `gorm:"not null;index:idx_movements_pair_created,priority:1"`
	StoreID                 string          `gorm:"not null;index:idx_movements_pair_created,priority:2"`
	Kind                    string          `gorm:"not null"`
	Amount                  decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	BalanceBefore           decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	BalanceAfter            decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	Description             string          `gorm:""`
	OriginTransactionID     *string         `gorm:"index"`
	ConsumedByTransactionID *string         `gorm:"index"`
	BatchID                 *string         `gorm:""`
	CreatedAt               time.Time       `gorm:"not null;index:idx_movements_pair_created,priority:3"`
}

func (Movement) TableName() string { return "movements" }

func (movement *Movement) BeforeCreate(tx *gorm.DB) error {
	if movement.MovementID == "" {
		movement.MovementID = uuid.NewString()
	}
	return nil
}

// Transaction mirrors the transactions table.
type Transaction struct {
	TransactionID string          `gorm:"type:uuid;primaryKey"`
	CustomerID    string          `gorm:"not null;index"`
	StoreID       string          `gorm:"not null;index:idx_transactions_store_code,unique,priority:1;index:idx_transactions_store_status,priority:1"`
	GrossAmount   decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	NetAmount     decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	BalanceUsed   decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	TotalCashback decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	ClientShare   decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	OperatorShare decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	StoreShare    decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	ExternalCode  string          `gorm:"not null;index:idx_transactions_store_code,unique,priority:2"`
	Status        string          `gorm:"not null;index:idx_transactions_store_status,priority:2"`
	Description   string          `gorm:""`
	BatchID       *string         `gorm:"index"`
	OccurredAt    time.Time       `gorm:"not null"`
	CreatedAt     time.Time       `gorm:"not null"`
	UpdatedAt     time.Time       `gorm:"not null"`
}

func (Transaction) TableName() string { return "transactions" }

// Commission mirrors the commission_records table, one row per beneficiary
// party with a nonzero amount.
type Commission struct {
	CommissionID  string          `gorm:"type:uuid;primaryKey"`
	TransactionID string          `gorm:"type:uuid;not null;index"`
	Party         string          `gorm:"not null"`
	BasisAmount   decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	Status        string          `gorm:"not null"`
	CreatedAt     time.Time       `gorm:"not null"`
	UpdatedAt     time.Time       `gorm:"not null"`
}

func (Commission) TableName() string { return "commission_records" }

func (commission *Commission) BeforeCreate(tx *gorm.DB) error {
	if commission.CommissionID == "" {
		commission.CommissionID = uuid.NewString()
	}
	return nil
}

// Batch mirrors the payment_batches table.
type Batch struct {
	BatchID        string          `gorm:"type:uuid;primaryKey"`
	StoreID        string          `gorm:"not null;index"`
	DeclaredTotal  decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	Status         string          `gorm:"not null"`
	PaymentDetails datatypes.JSON  `gorm:"not null"`
	Note           string          `gorm:""`
	CreatedAt      time.Time       `gorm:"not null"`
	ProcessedAt    *time.Time      `gorm:""`
}

func (Batch) TableName() string { return "payment_batches" }

// BatchTransaction links a batch to a bundled transaction and tracks whether
// its post-approval crediting has happened.
type BatchTransaction struct {
	BatchID       string     `gorm:"type:uuid;primaryKey"`
	TransactionID string     `gorm:"type:uuid;primaryKey"`
	CreditedAt    *time.Time `gorm:""`
}

func (BatchTransaction) TableName() string { return "batch_transactions" }

// Reserve mirrors the admin_reserve table; a single well-known row holds the
// platform-wide projection.
type Reserve struct {
	ReserveID     string          `gorm:"primaryKey"`
	Available     decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	TotalCredited decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	TotalUsed     decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	UpdatedAt     time.Time       `gorm:"not null"`
}

func (Reserve) TableName() string { return "admin_reserve" }

// ReserveMovement mirrors the admin_reserve_movements table.
type ReserveMovement struct {
	MovementID          string          `gorm:"type:uuid;primaryKey"`
	Kind                string          `gorm:"not null"`
	Amount              decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	BalanceBefore       decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	BalanceAfter        decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	Description         string          `gorm:""`
	OriginTransactionID *string         `gorm:"index"`
	BatchID             *string         `gorm:""`
	CreatedAt           time.Time       `gorm:"not null;index"`
}

func (ReserveMovement) TableName() string { return "admin_reserve_movements" }

func (movement *ReserveMovement) BeforeCreate(tx *gorm.DB) error {
	if movement.MovementID == "" {
		movement.MovementID = uuid.NewString()
	}
	return nil
}

// Models lists every table for AutoMigrate.
func Models() []interface{} {
	return []interface{}{
		&Balance{},
		&Movement{},
		&Transaction{},
		&Commission{},
		&Batch{},
		&BatchTransaction{},
		&Reserve{},
		&ReserveMovement{},
	}
}
