package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/perqly/cashback/pkg/cashback"
)

const (
	reserveRowID = "platform"

	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19

	errorOperationStore    = "store"
	errorSubjectBalance    = "balance"
	errorSubjectMovement   = "movement"
	errorSubjectTxn        = "transaction"
	errorSubjectCommission = "commission"
	errorSubjectBatch      = "batch"
	errorSubjectReserve    = "reserve"
	errorCodeCreate        = "create"
	errorCodeDuplicate     = "duplicate"
	errorCodeGet           = "get"
	errorCodeInvalid       = "invalid"
	errorCodeList          = "list"
	errorCodeSave          = "save"
	errorCodeSum           = "sum"
	errorCodeUpdate        = "update"
)

// Store implements cashback.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a database transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore cashback.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetBalance(ctx context.Context, customerID cashback.CustomerID, storeID cashback.StoreID) (cashback.Balance, error) {
	var row Balance
	err := store.db.WithContext(ctx).
		Where("customer_id = ? AND store_id = ?", customerID.String(), storeID.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cashback.Balance{
			CustomerID:    customerID,
			StoreID:       storeID,
			Available:     decimal.Zero,
			TotalCredited: decimal.Zero,
			TotalUsed:     decimal.Zero,
		}, nil
	}
	if err != nil {
		return cashback.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	return mapBalance(row, customerID, storeID), nil
}

func (store *Store) GetBalanceForUpdate(ctx context.Context, customerID cashback.CustomerID, storeID cashback.StoreID) (cashback.Balance, error) {
	var row Balance
	fetch := func() error {
		return store.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("customer_id = ? AND store_id = ?", customerID.String(), storeID.String()).
			Take(&row).Error
	}
	err := fetch()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Lazy zero-row materialization on first touch of a pair.
		seed := Balance{
			CustomerID:    customerID.String(),
			StoreID:       storeID.String(),
			Available:     decimal.Zero,
			TotalCredited: decimal.Zero,
			TotalUsed:     decimal.Zero,
			UpdatedAt:     time.Now().UTC(),
		}
		if createErr := store.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; createErr != nil {
			return cashback.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeCreate, createErr)
		}
		err = fetch()
	}
	if err != nil {
		return cashback.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	return mapBalance(row, customerID, storeID), nil
}

func (store *Store) SaveBalance(ctx context.Context, balance cashback.Balance) error {
	result := store.db.WithContext(ctx).Model(&Balance{}).
		Where("customer_id = ? AND store_id = ?", balance.CustomerID.String(), balance.StoreID.String()).
		Updates(map[string]interface{}{
			"available":      balance.Available,
			"total_credited": balance.TotalCredited,
			"total_used":     balance.TotalUsed,
			"updated_at":     time.Unix(balance.UpdatedUnix, 0).UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeSave, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeSave, cashback.ErrNotFound)
	}
	return nil
}

func (store *Store) AppendMovement(ctx context.Context, movement cashback.MovementInput) (string, error) {
	row := Movement{
		CustomerID:              movement.CustomerID.String(),
		StoreID:                 movement.StoreID.String(),
		Kind:                    movement.Kind.String(),
		Amount:                  movement.Amount,
		BalanceBefore:           movement.BalanceBefore,
		BalanceAfter:            movement.BalanceAfter,
		Description:             movement.Description,
		OriginTransactionID:     transactionRef(movement.OriginTransaction),
		ConsumedByTransactionID: transactionRef(movement.ConsumedByTransact),
		BatchID:                 batchRef(movement.BatchID),
		CreatedAt:               time.Unix(movement.CreatedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", wrapStoreError(errorSubjectMovement, errorCodeCreate, err)
	}
	return row.MovementID, nil
}

func (store *Store) ListMovements(ctx context.Context, customerID cashback.CustomerID, storeID cashback.StoreID, beforeUnixUTC int64, limit int) ([]cashback.Movement, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}
	var rows []Movement
	err := store.db.WithContext(ctx).
		Where("customer_id = ? AND store_id = ? AND created_at < ?", customerID.String(), storeID.String(), before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectMovement, errorCodeList, err)
	}
	movements := make([]cashback.Movement, 0, len(rows))
	for _, row := range rows {
		movement, err := mapMovement(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectMovement, errorCodeInvalid, err)
		}
		movements = append(movements, movement)
	}
	return movements, nil
}

func (store *Store) SumMovements(ctx context.Context, customerID cashback.CustomerID, storeID cashback.StoreID) (cashback.MovementSums, error) {
	var sums movementSums
	err := store.db.WithContext(ctx).
		Model(&Movement{}).
		Select("coalesce(sum(case when kind = 'credit' then amount else 0 end), 0) as credited, coalesce(sum(case when kind in ('use','reversal') then amount else 0 end), 0) as used").
		Where("customer_id = ? AND store_id = ?", customerID.String(), storeID.String()).
		Scan(&sums).Error
	if err != nil {
		return cashback.MovementSums{}, wrapStoreError(errorSubjectMovement, errorCodeSum, err)
	}
	return cashback.MovementSums{Credited: sums.Credited, Used: sums.Used}, nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction cashback.Transaction, commissions []cashback.CommissionRecord) error {
	row := Transaction{
		TransactionID: transaction.ID.String(),
		CustomerID:    transaction.CustomerID.String(),
		StoreID:       transaction.StoreID.String(),
		GrossAmount:   transaction.GrossAmount,
		NetAmount:     transaction.NetAmount,
		BalanceUsed:   transaction.BalanceUsed,
		TotalCashback: transaction.TotalCashback,
		ClientShare:   transaction.ClientShare,
		OperatorShare: transaction.OperatorShare,
		StoreShare:    transaction.StoreShare,
		ExternalCode:  transaction.ExternalCode.String(),
		Status:        transaction.Status.String(),
		Description:   transaction.Description,
		BatchID:       batchRef(transaction.BatchID),
		OccurredAt:    time.Unix(transaction.OccurredUnix, 0).UTC(),
		CreatedAt:     time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
		UpdatedAt:     time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectTxn, errorCodeDuplicate, cashback.ErrDuplicateTransaction)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTxn, errorCodeCreate, err)
	}
	for _, commission := range commissions {
		commissionRow := Commission{
			TransactionID: commission.TransactionID.String(),
			Party:         commission.Party.String(),
			BasisAmount:   commission.BasisAmount,
			Amount:        commission.Amount,
			Status:        commission.Status.String(),
			CreatedAt:     row.CreatedAt,
			UpdatedAt:     row.CreatedAt,
		}
		if err := store.db.WithContext(ctx).Create(&commissionRow).Error; err != nil {
			return wrapStoreError(errorSubjectCommission, errorCodeCreate, err)
		}
	}
	return nil
}

func (store *Store) GetTransaction(ctx context.Context, transactionID cashback.TransactionID) (cashback.Transaction, error) {
	var row Transaction
	err := store.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cashback.Transaction{}, wrapStoreError(errorSubjectTxn, errorCodeGet, cashback.ErrNotFound)
	}
	if err != nil {
		return cashback.Transaction{}, wrapStoreError(errorSubjectTxn, errorCodeGet, err)
	}
	return mapTransaction(row)
}

func (store *Store) GetTransactionsForUpdate(ctx context.Context, storeID cashback.StoreID, transactionIDs []cashback.TransactionID) ([]cashback.Transaction, error) {
	var rows []Transaction
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("store_id = ? AND transaction_id IN ?", storeID.String(), transactionIDValues(transactionIDs)).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTxn, errorCodeList, err)
	}
	return mapTransactions(rows)
}

func (store *Store) UpdateTransactionStatus(ctx context.Context, transactionIDs []cashback.TransactionID, from cashback.TransactionStatus, to cashback.TransactionStatus, updatedUnixUTC int64) (int64, error) {
	result := store.db.WithContext(ctx).
		Model(&Transaction{}).
		Where("transaction_id IN ? AND status = ?", transactionIDValues(transactionIDs), from.String()).
		Updates(map[string]interface{}{"status": to.String(), "updated_at": time.Unix(updatedUnixUTC, 0).UTC()})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectTxn, errorCodeUpdate, result.Error)
	}
	return result.RowsAffected, nil
}

func (store *Store) UpdateTransactionBatch(ctx context.Context, transactionIDs []cashback.TransactionID, batchID *cashback.BatchID) error {
	err := store.db.WithContext(ctx).
		Model(&Transaction{}).
		Where("transaction_id IN ?", transactionIDValues(transactionIDs)).
		Update("batch_id", batchRef(batchID)).Error
	if err != nil {
		return wrapStoreError(errorSubjectTxn, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) UpdateCommissionStatus(ctx context.Context, transactionIDs []cashback.TransactionID, to cashback.TransactionStatus, updatedUnixUTC int64) error {
	err := store.db.WithContext(ctx).
		Model(&Commission{}).
		Where("transaction_id IN ?", transactionIDValues(transactionIDs)).
		Updates(map[string]interface{}{"status": to.String(), "updated_at": time.Unix(updatedUnixUTC, 0).UTC()}).Error
	if err != nil {
		return wrapStoreError(errorSubjectCommission, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) ListCommissions(ctx context.Context, transactionID cashback.TransactionID) ([]cashback.CommissionRecord, error) {
	var rows []Commission
	err := store.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID.String()).
		Order("party ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectCommission, errorCodeList, err)
	}
	commissions := make([]cashback.CommissionRecord, 0, len(rows))
	for _, row := range rows {
		commission, err := mapCommission(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectCommission, errorCodeInvalid, err)
		}
		commissions = append(commissions, commission)
	}
	return commissions, nil
}

func (store *Store) ListTransactionsByStatus(ctx context.Context, storeID cashback.StoreID, statuses []cashback.TransactionStatus) ([]cashback.Transaction, error) {
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, status.String())
	}
	var rows []Transaction
	err := store.db.WithContext(ctx).
		Where("store_id = ? AND status IN ?", storeID.String(), values).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTxn, errorCodeList, err)
	}
	return mapTransactions(rows)
}

func (store *Store) InsertBatch(ctx context.Context, batch cashback.BatchInput) error {
	details, err := json.Marshal(map[string]string{
		"method":    batch.Method,
		"reference": batch.Reference,
	})
	if err != nil {
		return wrapStoreError(errorSubjectBatch, errorCodeInvalid, err)
	}
	row := Batch{
		BatchID:        batch.ID.String(),
		StoreID:        batch.StoreID.String(),
		DeclaredTotal:  batch.DeclaredTotal,
		Status:         cashback.BatchPending.String(),
		PaymentDetails: details,
		CreatedAt:      time.Unix(batch.CreatedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectBatch, errorCodeCreate, err)
	}
	for _, transactionID := range batch.TransactionIDs {
		link := BatchTransaction{
			BatchID:       batch.ID.String(),
			TransactionID: transactionID.String(),
		}
		if err := store.db.WithContext(ctx).Create(&link).Error; err != nil {
			return wrapStoreError(errorSubjectBatch, errorCodeCreate, err)
		}
	}
	return nil
}

func (store *Store) GetBatch(ctx context.Context, batchID cashback.BatchID) (cashback.Batch, error) {
	return store.getBatch(ctx, batchID, false)
}

func (store *Store) GetBatchForUpdate(ctx context.Context, batchID cashback.BatchID) (cashback.Batch, error) {
	return store.getBatch(ctx, batchID, true)
}

func (store *Store) getBatch(ctx context.Context, batchID cashback.BatchID, forUpdate bool) (cashback.Batch, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row Batch
	err := query.Where("batch_id = ?", batchID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cashback.Batch{}, wrapStoreError(errorSubjectBatch, errorCodeGet, cashback.ErrNotFound)
	}
	if err != nil {
		return cashback.Batch{}, wrapStoreError(errorSubjectBatch, errorCodeGet, err)
	}
	var links []BatchTransaction
	if err := store.db.WithContext(ctx).Where("batch_id = ?", batchID.String()).Find(&links).Error; err != nil {
		return cashback.Batch{}, wrapStoreError(errorSubjectBatch, errorCodeList, err)
	}
	return mapBatch(row, links)
}

func (store *Store) UpdateBatchStatus(ctx context.Context, batchID cashback.BatchID, from cashback.BatchStatus, to cashback.BatchStatus, note string, processedUnixUTC int64) error {
	processedAt := time.Unix(processedUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&Batch{}).
		Where("batch_id = ? AND status = ?", batchID.String(), from.String()).
		Updates(map[string]interface{}{
			"status":       to.String(),
			"note":         note,
			"processed_at": &processedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectBatch, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBatch, errorCodeUpdate, cashback.ErrAlreadyProcessed)
	}
	return nil
}

func (store *Store) ListBatchTransactions(ctx context.Context, batchID cashback.BatchID) ([]cashback.Transaction, error) {
	var rows []Transaction
	err := store.db.WithContext(ctx).
		Model(&Transaction{}).
		Joins("JOIN batch_transactions ON batch_transactions.transaction_id = transactions.transaction_id").
		Where("batch_transactions.batch_id = ?", batchID.String()).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBatch, errorCodeList, err)
	}
	return mapTransactions(rows)
}

func (store *Store) ListUncreditedBatchTransactions(ctx context.Context, batchID cashback.BatchID) ([]cashback.Transaction, error) {
	var rows []Transaction
	err := store.db.WithContext(ctx).
		Model(&Transaction{}).
		Joins("JOIN batch_transactions ON batch_transactions.transaction_id = transactions.transaction_id").
		Where("batch_transactions.batch_id = ? AND batch_transactions.credited_at IS NULL", batchID.String()).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBatch, errorCodeList, err)
	}
	return mapTransactions(rows)
}

func (store *Store) MarkBatchTransactionCredited(ctx context.Context, batchID cashback.BatchID, transactionID cashback.TransactionID, creditedUnixUTC int64) error {
	creditedAt := time.Unix(creditedUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&BatchTransaction{}).
		Where("batch_id = ? AND transaction_id = ? AND credited_at IS NULL", batchID.String(), transactionID.String()).
		Update("credited_at", &creditedAt)
	if result.Error != nil {
		return wrapStoreError(errorSubjectBatch, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBatch, errorCodeUpdate, cashback.ErrAlreadyProcessed)
	}
	return nil
}

func (store *Store) GetReserve(ctx context.Context) (cashback.ReserveBalance, error) {
	var row Reserve
	err := store.db.WithContext(ctx).Where("reserve_id = ?", reserveRowID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cashback.ReserveBalance{
			Available:     decimal.Zero,
			TotalCredited: decimal.Zero,
			TotalUsed:     decimal.Zero,
		}, nil
	}
	if err != nil {
		return cashback.ReserveBalance{}, wrapStoreError(errorSubjectReserve, errorCodeGet, err)
	}
	return mapReserve(row), nil
}

func (store *Store) GetReserveForUpdate(ctx context.Context) (cashback.ReserveBalance, error) {
	var row Reserve
	fetch := func() error {
		return store.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("reserve_id = ?", reserveRowID).
			Take(&row).Error
	}
	err := fetch()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		seed := Reserve{
			ReserveID:     reserveRowID,
			Available:     decimal.Zero,
			TotalCredited: decimal.Zero,
			TotalUsed:     decimal.Zero,
			UpdatedAt:     time.Now().UTC(),
		}
		if createErr := store.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; createErr != nil {
			return cashback.ReserveBalance{}, wrapStoreError(errorSubjectReserve, errorCodeCreate, createErr)
		}
		err = fetch()
	}
	if err != nil {
		return cashback.ReserveBalance{}, wrapStoreError(errorSubjectReserve, errorCodeGet, err)
	}
	return mapReserve(row), nil
}

func (store *Store) SaveReserve(ctx context.Context, reserve cashback.ReserveBalance) error {
	result := store.db.WithContext(ctx).Model(&Reserve{}).
		Where("reserve_id = ?", reserveRowID).
		Updates(map[string]interface{}{
			"available":      reserve.Available,
			"total_credited": reserve.TotalCredited,
			"total_used":     reserve.TotalUsed,
			"updated_at":     time.Unix(reserve.UpdatedUnix, 0).UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectReserve, errorCodeSave, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectReserve, errorCodeSave, cashback.ErrNotFound)
	}
	return nil
}

func (store *Store) AppendReserveMovement(ctx context.Context, movement cashback.ReserveMovementInput) (string, error) {
	row := ReserveMovement{
		Kind:                movement.Kind.String(),
		Amount:              movement.Amount,
		BalanceBefore:       movement.BalanceBefore,
		BalanceAfter:        movement.BalanceAfter,
		Description:         movement.Description,
		OriginTransactionID: transactionRef(movement.OriginTransaction),
		BatchID:             batchRef(movement.BatchID),
		CreatedAt:           time.Unix(movement.CreatedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", wrapStoreError(errorSubjectReserve, errorCodeCreate, err)
	}
	return row.MovementID, nil
}

func (store *Store) ListReserveMovements(ctx context.Context, beforeUnixUTC int64, limit int) ([]cashback.ReserveMovement, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}
	var rows []ReserveMovement
	err := store.db.WithContext(ctx).
		Where("created_at < ?", before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReserve, errorCodeList, err)
	}
	movements := make([]cashback.ReserveMovement, 0, len(rows))
	for _, row := range rows {
		movement, err := mapReserveMovement(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectReserve, errorCodeInvalid, err)
		}
		movements = append(movements, movement)
	}
	return movements, nil
}

func (store *Store) SumReserveMovements(ctx context.Context) (cashback.MovementSums, error) {
	var sums movementSums
	err := store.db.WithContext(ctx).
		Model(&ReserveMovement{}).
		Select("coalesce(sum(case when kind = 'credit' then amount else 0 end), 0) as credited, coalesce(sum(case when kind in ('use','reversal') then amount else 0 end), 0) as used").
		Scan(&sums).Error
	if err != nil {
		return cashback.MovementSums{}, wrapStoreError(errorSubjectReserve, errorCodeSum, err)
	}
	return cashback.MovementSums{Credited: sums.Credited, Used: sums.Used}, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return cashback.WrapError(errorOperationStore, subject, code, err)
}

type movementSums struct {
	Credited decimal.Decimal
	Used     decimal.Decimal
}

func transactionRef(transactionID *cashback.TransactionID) *string {
	if transactionID == nil {
		return nil
	}
	value := transactionID.String()
	return &value
}

func batchRef(batchID *cashback.BatchID) *string {
	if batchID == nil {
		return nil
	}
	value := batchID.String()
	return &value
}

func transactionIDValues(transactionIDs []cashback.TransactionID) []string {
	values := make([]string, 0, len(transactionIDs))
	for _, transactionID := range transactionIDs {
		values = append(values, transactionID.String())
	}
	return values
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
