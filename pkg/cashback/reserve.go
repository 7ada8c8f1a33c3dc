package cashback

import (
	"context"

	"github.com/shopspring/decimal"
)

// CreditReserve credits the operator reserve directly (operator tool; normal
// crediting happens through settlement and fast-lane registration).
func (service *Service) CreditReserve(ctx context.Context, actor Actor, amount decimal.Decimal, description string, originTransaction *TransactionID) (string, error) {
	if err := requireRole(actor, RoleAdmin); err != nil {
		return "", err
	}
	normalized, err := NewAmount(amount)
	if err != nil {
		return "", WrapError(operationReserve, "amount", "invalid", err)
	}
	var movementID string
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		movementID, err = service.creditReserveLocked(ctx, transactionStore, normalized, description, originTransaction, nil)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationReserve,
		Amount:    normalized,
		Error:     operationError,
	})
	if operationError != nil {
		return "", operationError
	}
	return movementID, nil
}

// UseReserve debits the operator reserve for a platform-side disbursement.
func (service *Service) UseReserve(ctx context.Context, actor Actor, amount decimal.Decimal, description string) (string, error) {
	return service.debitReserve(ctx, actor, amount, description, MovementUse)
}

// ReverseReserve backs out previously credited reserve value.
func (service *Service) ReverseReserve(ctx context.Context, actor Actor, amount decimal.Decimal, description string) (string, error) {
	return service.debitReserve(ctx, actor, amount, description, MovementReversal)
}

func (service *Service) debitReserve(ctx context.Context, actor Actor, amount decimal.Decimal, description string, kind MovementKind) (string, error) {
	if err := requireRole(actor, RoleAdmin); err != nil {
		return "", err
	}
	normalized, err := NewAmount(amount)
	if err != nil {
		return "", WrapError(operationReserve, "amount", "invalid", err)
	}
	var movementID string
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		reserve, err := transactionStore.GetReserveForUpdate(ctx)
		if err != nil {
			return err
		}
		if reserve.Available.Cmp(normalized) < 0 {
			return WrapError(operationReserve, "balance", "insufficient", ErrInsufficientBalance)
		}
		now := service.nowFn()
		movementID, err = transactionStore.AppendReserveMovement(ctx, ReserveMovementInput{
			Kind:           kind,
			Amount:         normalized,
			BalanceBefore:  reserve.Available,
			BalanceAfter:   reserve.Available.Sub(normalized),
			Description:    description,
			CreatedUnixUTC: now,
		})
		if err != nil {
			return err
		}
		reserve.Available = reserve.Available.Sub(normalized)
		reserve.TotalUsed = reserve.TotalUsed.Add(normalized)
		reserve.UpdatedUnix = now
		return transactionStore.SaveReserve(ctx, reserve)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationReserve,
		Amount:    normalized,
		Error:     operationError,
	})
	if operationError != nil {
		return "", operationError
	}
	return movementID, nil
}

// GetReserve returns the operator reserve projection.
func (service *Service) GetReserve(ctx context.Context, actor Actor) (ReserveBalance, error) {
	if err := requireRole(actor, RoleAdmin); err != nil {
		return ReserveBalance{}, err
	}
	return service.store.GetReserve(ctx)
}

// ListReserveMovements lists reserve movements before a cutoff, newest first.
func (service *Service) ListReserveMovements(ctx context.Context, actor Actor, beforeUnixUTC int64, limit int) ([]ReserveMovement, error) {
	if err := requireRole(actor, RoleAdmin); err != nil {
		return nil, err
	}
	return service.store.ListReserveMovements(ctx, beforeUnixUTC, clampListLimit(limit))
}

// creditReserveLocked appends a reserve credit and updates the projection.
// Must run inside a store transaction.
func (service *Service) creditReserveLocked(ctx context.Context, transactionStore Store, amount decimal.Decimal, description string, originTransaction *TransactionID, batchID *BatchID) (string, error) {
	reserve, err := transactionStore.GetReserveForUpdate(ctx)
	if err != nil {
		return "", err
	}
	now := service.nowFn()
	movementID, err := transactionStore.AppendReserveMovement(ctx, ReserveMovementInput{
		Kind:              MovementCredit,
		Amount:            amount,
		BalanceBefore:     reserve.Available,
		BalanceAfter:      reserve.Available.Add(amount),
		Description:       description,
		OriginTransaction: originTransaction,
		BatchID:           batchID,
		CreatedUnixUTC:    now,
	})
	if err != nil {
		return "", err
	}
	reserve.Available = reserve.Available.Add(amount)
	reserve.TotalCredited = reserve.TotalCredited.Add(amount)
	reserve.UpdatedUnix = now
	if err := transactionStore.SaveReserve(ctx, reserve); err != nil {
		return "", err
	}
	return movementID, nil
}
