// Package gormregistry is the store/customer registry the ledger core
// consumes. The core only sees the narrow cashback.Registry interface; the
// tables here belong to the enrollment surface, not to the ledger.
package gormregistry

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/perqly/cashback/pkg/cashback"
)

// Customer represents the customers table.
type Customer struct {
	CustomerID string    `gorm:"primaryKey"`
	Name       string    `gorm:"not null"`
	Active     bool      `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (Customer) TableName() string { return "customers" }

// Store represents the stores table. TotalPercent, when set, overrides the
// platform-wide cashback percentage for this store's sales.
type Store struct {
	StoreID      string           `gorm:"primaryKey"`
	Name         string           `gorm:"not null"`
	Approved     bool             `gorm:"not null"`
	FastLane     bool             `gorm:"not null"`
	TotalPercent *decimal.Decimal `gorm:"type:decimal(6,2)"`
	CreatedAt    time.Time        `gorm:"not null"`
}

func (Store) TableName() string { return "stores" }

// Registry implements cashback.Registry over GORM lookups plus configured
// percentage defaults.
type Registry struct {
	db     *gorm.DB
	config cashback.CashbackConfig
}

// New wires a Registry.
func New(db *gorm.DB, config cashback.CashbackConfig) (*Registry, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Registry{db: db, config: config}, nil
}

// Models lists registry tables for AutoMigrate.
func Models() []interface{} {
	return []interface{}{&Customer{}, &Store{}}
}

func (registry *Registry) IsStoreApproved(ctx context.Context, storeID cashback.StoreID) (bool, error) {
	store, err := registry.getStore(ctx, storeID)
	if err != nil {
		return false, err
	}
	return store.Approved, nil
}

func (registry *Registry) IsCustomerActive(ctx context.Context, customerID cashback.CustomerID) (bool, error) {
	var customer Customer
	err := registry.db.WithContext(ctx).Where("customer_id = ?", customerID.String()).Take(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, cashback.WrapError("registry", "customer", "get", err)
	}
	return customer.Active, nil
}

func (registry *Registry) StoreFastLane(ctx context.Context, storeID cashback.StoreID) (bool, error) {
	store, err := registry.getStore(ctx, storeID)
	if err != nil {
		return false, err
	}
	return store.FastLane, nil
}

func (registry *Registry) StoreTotalPercent(ctx context.Context, storeID cashback.StoreID) (decimal.Decimal, bool, error) {
	store, err := registry.getStore(ctx, storeID)
	if err != nil {
		return decimal.Zero, false, err
	}
	if store.TotalPercent == nil {
		return decimal.Zero, false, nil
	}
	return *store.TotalPercent, true, nil
}

func (registry *Registry) CashbackConfig(ctx context.Context) (cashback.CashbackConfig, error) {
	return registry.config, nil
}

func (registry *Registry) getStore(ctx context.Context, storeID cashback.StoreID) (Store, error) {
	var store Store
	err := registry.db.WithContext(ctx).Where("store_id = ?", storeID.String()).Take(&store).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Store{}, nil
	}
	if err != nil {
		return Store{}, cashback.WrapError("registry", "store", "get", err)
	}
	return store, nil
}
