package cashback

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Credit appends a credit movement and updates the balance projection in one
// atomic unit. Direct credits are an operator tool; settlement and fast-lane
// crediting go through the same internal path.
func (service *Service) Credit(ctx context.Context, actor Actor, customerID CustomerID, storeID StoreID, amount decimal.Decimal, description string, originTransaction *TransactionID) (string, error) {
	if err := requireRole(actor, RoleAdmin); err != nil {
		return "", err
	}
	normalized, err := NewAmount(amount)
	if err != nil {
		return "", WrapError(operationCredit, "amount", "invalid", err)
	}
	var movementID string
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		movementID, err = service.creditLocked(ctx, transactionStore, customerID, storeID, normalized, description, originTransaction, nil)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationCredit,
		CustomerID: customerID,
		StoreID:    storeID,
		Amount:     normalized,
		Error:      operationError,
	})
	if operationError != nil {
		return "", operationError
	}
	service.emit(ctx, Event{
		Kind:       EventBalanceCredited,
		CustomerID: customerID.String(),
		StoreID:    storeID.String(),
		Amount:     normalized,
	})
	return movementID, nil
}

// Use debits the customer's available balance at a store. It fails with
// ErrInsufficientBalance before any write when the amount exceeds the
// available projection.
func (service *Service) Use(ctx context.Context, actor Actor, customerID CustomerID, storeID StoreID, amount decimal.Decimal, description string, consumingTransaction *TransactionID) (string, error) {
	if err := requireRole(actor, RoleCustomer, RoleStore, RoleAdmin); err != nil {
		return "", err
	}
	if actor.Role == RoleCustomer && actor.ID != customerID.String() {
		return "", WrapError("auth", "actor", "customer_scope", fmt.Errorf("%w: customer %q acting for %q", ErrUnauthorized, actor.ID, customerID))
	}
	if err := requireStoreSelf(actor, storeID); err != nil {
		return "", err
	}
	normalized, err := NewAmount(amount)
	if err != nil {
		return "", WrapError(operationUse, "amount", "invalid", err)
	}
	var movementID string
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		movementID, err = service.useLocked(ctx, transactionStore, customerID, storeID, normalized, description, consumingTransaction)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationUse,
		CustomerID: customerID,
		StoreID:    storeID,
		Amount:     normalized,
		Error:      operationError,
	})
	if operationError != nil {
		return "", operationError
	}
	service.emit(ctx, Event{
		Kind:       EventBalanceUsed,
		CustomerID: customerID.String(),
		StoreID:    storeID.String(),
		Amount:     normalized,
	})
	return movementID, nil
}

// Reverse backs out previously credited value. The reversal is recorded on
// the used side of the projection so total credited stays monotonic.
func (service *Service) Reverse(ctx context.Context, actor Actor, customerID CustomerID, storeID StoreID, amount decimal.Decimal, description string) (string, error) {
	if err := requireRole(actor, RoleAdmin); err != nil {
		return "", err
	}
	normalized, err := NewAmount(amount)
	if err != nil {
		return "", WrapError(operationReversal, "amount", "invalid", err)
	}
	var movementID string
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		balance, err := transactionStore.GetBalanceForUpdate(ctx, customerID, storeID)
		if err != nil {
			return err
		}
		if balance.Available.Cmp(normalized) < 0 {
			return WrapError(operationReversal, "balance", "insufficient", ErrInsufficientBalance)
		}
		now := service.nowFn()
		movementID, err = transactionStore.AppendMovement(ctx, MovementInput{
			CustomerID:     customerID,
			StoreID:        storeID,
			Kind:           MovementReversal,
			Amount:         normalized,
			BalanceBefore:  balance.Available,
			BalanceAfter:   balance.Available.Sub(normalized),
			Description:    description,
			CreatedUnixUTC: now,
		})
		if err != nil {
			return err
		}
		balance.Available = balance.Available.Sub(normalized)
		balance.TotalUsed = balance.TotalUsed.Add(normalized)
		balance.UpdatedUnix = now
		return transactionStore.SaveBalance(ctx, balance)
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationReversal,
		CustomerID: customerID,
		StoreID:    storeID,
		Amount:     normalized,
		Error:      operationError,
	})
	if operationError != nil {
		return "", operationError
	}
	return movementID, nil
}

// GetBalance returns the balance projection, lazily materializing a zero row.
func (service *Service) GetBalance(ctx context.Context, actor Actor, customerID CustomerID, storeID StoreID) (Balance, error) {
	if err := requireRole(actor, RoleCustomer, RoleStore, RoleAdmin); err != nil {
		return Balance{}, err
	}
	if actor.Role == RoleCustomer && actor.ID != customerID.String() {
		return Balance{}, WrapError("auth", "actor", "customer_scope", fmt.Errorf("%w: customer %q acting for %q", ErrUnauthorized, actor.ID, customerID))
	}
	if err := requireStoreSelf(actor, storeID); err != nil {
		return Balance{}, err
	}
	return service.store.GetBalance(ctx, customerID, storeID)
}

// ListMovements lists movements for a pair before a cutoff, newest first.
func (service *Service) ListMovements(ctx context.Context, actor Actor, customerID CustomerID, storeID StoreID, beforeUnixUTC int64, limit int) ([]Movement, error) {
	if err := requireRole(actor, RoleCustomer, RoleStore, RoleAdmin); err != nil {
		return nil, err
	}
	if actor.Role == RoleCustomer && actor.ID != customerID.String() {
		return nil, WrapError("auth", "actor", "customer_scope", fmt.Errorf("%w: customer %q acting for %q", ErrUnauthorized, actor.ID, customerID))
	}
	if err := requireStoreSelf(actor, storeID); err != nil {
		return nil, err
	}
	return service.store.ListMovements(ctx, customerID, storeID, beforeUnixUTC, clampListLimit(limit))
}

// creditLocked appends a credit movement and updates the projection. Must run
// inside a store transaction.
func (service *Service) creditLocked(ctx context.Context, transactionStore Store, customerID CustomerID, storeID StoreID, amount decimal.Decimal, description string, originTransaction *TransactionID, batchID *BatchID) (string, error) {
	balance, err := transactionStore.GetBalanceForUpdate(ctx, customerID, storeID)
	if err != nil {
		return "", err
	}
	now := service.nowFn()
	movementID, err := transactionStore.AppendMovement(ctx, MovementInput{
		CustomerID:        customerID,
		StoreID:           storeID,
		Kind:              MovementCredit,
		Amount:            amount,
		BalanceBefore:     balance.Available,
		BalanceAfter:      balance.Available.Add(amount),
		Description:       description,
		OriginTransaction: originTransaction,
		BatchID:           batchID,
		CreatedUnixUTC:    now,
	})
	if err != nil {
		return "", err
	}
	balance.Available = balance.Available.Add(amount)
	balance.TotalCredited = balance.TotalCredited.Add(amount)
	balance.UpdatedUnix = now
	if err := transactionStore.SaveBalance(ctx, balance); err != nil {
		return "", err
	}
	return movementID, nil
}

// useLocked appends a use movement after checking availability. Must run
// inside a store transaction.
func (service *Service) useLocked(ctx context.Context, transactionStore Store, customerID CustomerID, storeID StoreID, amount decimal.Decimal, description string, consumingTransaction *TransactionID) (string, error) {
	balance, err := transactionStore.GetBalanceForUpdate(ctx, customerID, storeID)
	if err != nil {
		return "", err
	}
	if balance.Available.Cmp(amount) < 0 {
		return "", WrapError(operationUse, "balance", "insufficient", ErrInsufficientBalance)
	}
	now := service.nowFn()
	movementID, err := transactionStore.AppendMovement(ctx, MovementInput{
		CustomerID:         customerID,
		StoreID:            storeID,
		Kind:               MovementUse,
		Amount:             amount,
		BalanceBefore:      balance.Available,
		BalanceAfter:       balance.Available.Sub(amount),
		Description:        description,
		ConsumedByTransact: consumingTransaction,
		CreatedUnixUTC:     now,
	})
	if err != nil {
		return "", err
	}
	balance.Available = balance.Available.Sub(amount)
	balance.TotalUsed = balance.TotalUsed.Add(amount)
	balance.UpdatedUnix = now
	if err := transactionStore.SaveBalance(ctx, balance); err != nil {
		return "", err
	}
	return movementID, nil
}
