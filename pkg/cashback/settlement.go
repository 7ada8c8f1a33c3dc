package cashback

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// CreditFailure reports one transaction whose post-approval crediting failed.
type CreditFailure struct {
	TransactionID TransactionID
	Err           error
}

// SettlementResult reports the outcome of a batch operation.
type SettlementResult struct {
	BatchID  BatchID
	Status   BatchStatus
	Credited []TransactionID
	Failed   []CreditFailure
}

// PendingSettlement lists a store's transactions eligible for bundling.
func (service *Service) PendingSettlement(ctx context.Context, actor Actor, storeID StoreID) ([]Transaction, error) {
	if err := requireRole(actor, RoleStore, RoleAdmin); err != nil {
		return nil, err
	}
	if err := requireStoreSelf(actor, storeID); err != nil {
		return nil, err
	}
	return service.store.ListTransactionsByStatus(ctx, storeID, []TransactionStatus{TransactionPending})
}

// CreateBatch bundles a store's pending transactions into a settlement
// request. The declared total must match the recomputed sum of client and
// operator shares within a half-cent tolerance; every referenced transaction
// flips to payment_pending in the same atomic unit.
func (service *Service) CreateBatch(ctx context.Context, actor Actor, storeID StoreID, transactionIDs []TransactionID, declaredTotal decimal.Decimal, method string, reference string) (Batch, error) {
	if err := requireRole(actor, RoleStore, RoleAdmin); err != nil {
		return Batch{}, err
	}
	if err := requireStoreSelf(actor, storeID); err != nil {
		return Batch{}, err
	}
	if len(transactionIDs) == 0 {
		return Batch{}, WrapError(operationCreateBatch, "transactions", "empty", fmt.Errorf("%w: batch references no transactions", ErrValidation))
	}
	declared := declaredTotal.Round(moneyScale)
	batchID, err := NewBatchID(service.idFn())
	if err != nil {
		return Batch{}, err
	}
	now := service.nowFn()
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		transactions, err := transactionStore.GetTransactionsForUpdate(ctx, storeID, transactionIDs)
		if err != nil {
			return err
		}
		if len(transactions) != len(transactionIDs) {
			return WrapError(operationCreateBatch, "transactions", "missing", fmt.Errorf("%w: %d of %d transactions found for store", ErrNotFound, len(transactions), len(transactionIDs)))
		}
		trueTotal := decimal.Zero
		for _, transaction := range transactions {
			if transaction.Status != TransactionPending {
				return WrapError(operationCreateBatch, "transactions", "not_pending", fmt.Errorf("%w: transaction %s is %s", ErrValidation, transaction.ID, transaction.Status))
			}
			trueTotal = trueTotal.Add(transaction.SettlementDue())
		}
		if trueTotal.Sub(declared).Abs().Cmp(declaredTotalTolerance) > 0 {
			return WrapError(operationCreateBatch, "total", "mismatch", fmt.Errorf("%w: declared total %s does not match computed %s", ErrValidation, declared, trueTotal))
		}
		if err := transactionStore.InsertBatch(ctx, BatchInput{
			ID:             batchID,
			StoreID:        storeID,
			DeclaredTotal:  declared,
			Method:         method,
			Reference:      reference,
			TransactionIDs: transactionIDs,
			CreatedUnixUTC: now,
		}); err != nil {
			return err
		}
		affected, err := transactionStore.UpdateTransactionStatus(ctx, transactionIDs, TransactionPending, TransactionPaymentPending, now)
		if err != nil {
			return err
		}
		if affected != int64(len(transactionIDs)) {
			return WrapError(operationCreateBatch, "transactions", "race", fmt.Errorf("%w: %d of %d transactions flipped", ErrValidation, affected, len(transactionIDs)))
		}
		if err := transactionStore.UpdateTransactionBatch(ctx, transactionIDs, &batchID); err != nil {
			return err
		}
		return transactionStore.UpdateCommissionStatus(ctx, transactionIDs, TransactionPaymentPending, now)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateBatch,
		StoreID:   storeID,
		BatchID:   batchID,
		Amount:    declared,
		Error:     operationError,
	})
	if operationError != nil {
		return Batch{}, operationError
	}
	service.emit(ctx, Event{
		Kind:    EventBatchCreated,
		StoreID: storeID.String(),
		BatchID: batchID.String(),
		Amount:  declared,
	})
	return Batch{
		ID:             batchID,
		StoreID:        storeID,
		DeclaredTotal:  declared,
		Status:         BatchPending,
		Method:         method,
		Reference:      reference,
		TransactionIDs: transactionIDs,
		CreatedUnixUTC: now,
	}, nil
}

// ApproveBatch transitions a pending batch and all its transactions to
// approved in one atomic unit, then credits balances in a separate step so a
// transient crediting failure never unwinds the approval. Re-invoking on an
// already processed batch reports ErrAlreadyProcessed and writes nothing.
func (service *Service) ApproveBatch(ctx context.Context, actor Actor, batchID BatchID, note string) (SettlementResult, error) {
	if err := requireRole(actor, RoleAdmin); err != nil {
		return SettlementResult{}, err
	}
	var storeID StoreID
	now := service.nowFn()
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		batch, err := transactionStore.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Status != BatchPending {
			return WrapError(operationApprove, "batch", "terminal", fmt.Errorf("%w: batch is %s", ErrAlreadyProcessed, batch.Status))
		}
		storeID = batch.StoreID
		transactions, err := transactionStore.ListBatchTransactions(ctx, batchID)
		if err != nil {
			return err
		}
		transactionIDs := make([]TransactionID, 0, len(transactions))
		for _, transaction := range transactions {
			transactionIDs = append(transactionIDs, transaction.ID)
		}
		affected, err := transactionStore.UpdateTransactionStatus(ctx, transactionIDs, TransactionPaymentPending, TransactionApproved, now)
		if err != nil {
			return err
		}
		if affected != int64(len(transactionIDs)) {
			return WrapError(operationApprove, "transactions", "inconsistent", fmt.Errorf("%w: %d of %d linked transactions were payment_pending", ErrConsistencyAnomaly, affected, len(transactionIDs)))
		}
		if err := transactionStore.UpdateCommissionStatus(ctx, transactionIDs, TransactionApproved, now); err != nil {
			return err
		}
		return transactionStore.UpdateBatchStatus(ctx, batchID, BatchPending, BatchApproved, note, now)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationApprove,
		StoreID:   storeID,
		BatchID:   batchID,
		Error:     operationError,
	})
	if operationError != nil {
		return SettlementResult{}, operationError
	}

	result := SettlementResult{BatchID: batchID, Status: BatchApproved}
	service.creditApprovedBatch(ctx, batchID, &result)
	service.emit(ctx, Event{
		Kind:    EventBatchApproved,
		StoreID: storeID.String(),
		BatchID: batchID.String(),
	})
	return result, nil
}

// RejectBatch transitions a pending batch to rejected and returns its
// transactions to pending for future bundling. No crediting occurs.
func (service *Service) RejectBatch(ctx context.Context, actor Actor, batchID BatchID, reason string) (SettlementResult, error) {
	if err := requireRole(actor, RoleAdmin); err != nil {
		return SettlementResult{}, err
	}
	var storeID StoreID
	now := service.nowFn()
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		batch, err := transactionStore.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Status != BatchPending {
			return WrapError(operationReject, "batch", "terminal", fmt.Errorf("%w: batch is %s", ErrAlreadyProcessed, batch.Status))
		}
		storeID = batch.StoreID
		transactions, err := transactionStore.ListBatchTransactions(ctx, batchID)
		if err != nil {
			return err
		}
		transactionIDs := make([]TransactionID, 0, len(transactions))
		for _, transaction := range transactions {
			transactionIDs = append(transactionIDs, transaction.ID)
		}
		affected, err := transactionStore.UpdateTransactionStatus(ctx, transactionIDs, TransactionPaymentPending, TransactionPending, now)
		if err != nil {
			return err
		}
		if affected != int64(len(transactionIDs)) {
			return WrapError(operationReject, "transactions", "inconsistent", fmt.Errorf("%w: %d of %d linked transactions were payment_pending", ErrConsistencyAnomaly, affected, len(transactionIDs)))
		}
		if err := transactionStore.UpdateCommissionStatus(ctx, transactionIDs, TransactionPending, now); err != nil {
			return err
		}
		if err := transactionStore.UpdateTransactionBatch(ctx, transactionIDs, nil); err != nil {
			return err
		}
		return transactionStore.UpdateBatchStatus(ctx, batchID, BatchPending, BatchRejected, reason, now)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationReject,
		StoreID:   storeID,
		BatchID:   batchID,
		Error:     operationError,
	})
	if operationError != nil {
		return SettlementResult{}, operationError
	}
	service.emit(ctx, Event{
		Kind:    EventBatchRejected,
		StoreID: storeID.String(),
		BatchID: batchID.String(),
	})
	return SettlementResult{BatchID: batchID, Status: BatchRejected}, nil
}

// RetrySettlementCredits re-runs crediting for an approved batch. Only
// transactions not yet marked credited are touched, so the retry is
// idempotent and never double-credits.
func (service *Service) RetrySettlementCredits(ctx context.Context, actor Actor, batchID BatchID) (SettlementResult, error) {
	if err := requireRole(actor, RoleAdmin); err != nil {
		return SettlementResult{}, err
	}
	batch, err := service.store.GetBatch(ctx, batchID)
	if err != nil {
		return SettlementResult{}, err
	}
	if batch.Status != BatchApproved {
		return SettlementResult{}, WrapError(operationRetryCredit, "batch", "not_approved", fmt.Errorf("%w: batch is %s", ErrValidation, batch.Status))
	}
	result := SettlementResult{BatchID: batchID, Status: BatchApproved}
	service.creditApprovedBatch(ctx, batchID, &result)
	return result, nil
}

// GetBatch fetches a settlement request.
func (service *Service) GetBatch(ctx context.Context, actor Actor, batchID BatchID) (Batch, error) {
	if err := requireRole(actor, RoleStore, RoleAdmin); err != nil {
		return Batch{}, err
	}
	batch, err := service.store.GetBatch(ctx, batchID)
	if err != nil {
		return Batch{}, err
	}
	if err := requireStoreSelf(actor, batch.StoreID); err != nil {
		return Batch{}, err
	}
	return batch, nil
}

// creditApprovedBatch credits every uncredited transaction of an approved
// batch, each in its own atomic unit. Failures are collected and logged,
// never propagated as a batch failure.
func (service *Service) creditApprovedBatch(ctx context.Context, batchID BatchID, result *SettlementResult) {
	transactions, err := service.store.ListUncreditedBatchTransactions(ctx, batchID)
	if err != nil {
		result.Failed = append(result.Failed, CreditFailure{Err: err})
		service.logOperation(ctx, OperationLog{Operation: operationRetryCredit, BatchID: batchID, Error: err})
		return
	}
	for _, transaction := range transactions {
		transaction := transaction
		creditErr := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			if transaction.ClientShare.IsPositive() {
				if _, err := service.creditLocked(ctx, transactionStore, transaction.CustomerID, transaction.StoreID, transaction.ClientShare, "cashback settled for sale "+transaction.ExternalCode.String(), &transaction.ID, &batchID); err != nil {
					return err
				}
			}
			if transaction.OperatorShare.IsPositive() {
				if _, err := service.creditReserveLocked(ctx, transactionStore, transaction.OperatorShare, "commission settled for sale "+transaction.ExternalCode.String(), &transaction.ID, &batchID); err != nil {
					return err
				}
			}
			return transactionStore.MarkBatchTransactionCredited(ctx, batchID, transaction.ID, service.nowFn())
		})
		if creditErr != nil {
			result.Failed = append(result.Failed, CreditFailure{TransactionID: transaction.ID, Err: creditErr})
			service.logOperation(ctx, OperationLog{
				Operation:     operationRetryCredit,
				CustomerID:    transaction.CustomerID,
				StoreID:       transaction.StoreID,
				TransactionID: transaction.ID,
				BatchID:       batchID,
				Amount:        transaction.ClientShare,
				Error:         creditErr,
			})
			continue
		}
		result.Credited = append(result.Credited, transaction.ID)
		if transaction.ClientShare.IsPositive() {
			service.emit(ctx, Event{
				Kind:          EventBalanceCredited,
				CustomerID:    transaction.CustomerID.String(),
				StoreID:       transaction.StoreID.String(),
				TransactionID: transaction.ID.String(),
				BatchID:       batchID.String(),
				Amount:        transaction.ClientShare,
			})
		}
	}
}
