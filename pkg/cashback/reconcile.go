package cashback

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// ReconcileReport compares a balance projection against its movement log.
type ReconcileReport struct {
	CustomerID        CustomerID
	StoreID           StoreID
	ProjectedAvail    decimal.Decimal
	RecomputedAvail   decimal.Decimal
	RecomputedCredits decimal.Decimal
	RecomputedUses    decimal.Decimal
	Consistent        bool
	Corrected         bool
}

// ReconcileBalance recomputes a balance from the movement log. A mismatch is
// surfaced as ErrConsistencyAnomaly and is only corrected when apply is set;
// the projection is never silently rewritten.
func (service *Service) ReconcileBalance(ctx context.Context, actor Actor, customerID CustomerID, storeID StoreID, apply bool) (ReconcileReport, error) {
	if err := requireRole(actor, RoleAdmin); err != nil {
		return ReconcileReport{}, err
	}
	report := ReconcileReport{CustomerID: customerID, StoreID: storeID}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		balance, err := transactionStore.GetBalanceForUpdate(ctx, customerID, storeID)
		if err != nil {
			return err
		}
		sums, err := transactionStore.SumMovements(ctx, customerID, storeID)
		if err != nil {
			return err
		}
		report.ProjectedAvail = balance.Available
		report.RecomputedCredits = sums.Credited
		report.RecomputedUses = sums.Used
		report.RecomputedAvail = sums.Credited.Sub(sums.Used)
		report.Consistent = balance.Available.Equal(report.RecomputedAvail) &&
			balance.TotalCredited.Equal(sums.Credited) &&
			balance.TotalUsed.Equal(sums.Used)
		if report.Consistent || !apply {
			return nil
		}
		balance.Available = report.RecomputedAvail
		balance.TotalCredited = sums.Credited
		balance.TotalUsed = sums.Used
		balance.UpdatedUnix = service.nowFn()
		if err := transactionStore.SaveBalance(ctx, balance); err != nil {
			return err
		}
		report.Corrected = true
		return nil
	})
	if operationError != nil {
		return ReconcileReport{}, operationError
	}
	if !report.Consistent {
		anomaly := WrapError(operationReconcile, "balance", "mismatch", fmt.Errorf("%w: projected %s, movements say %s", ErrConsistencyAnomaly, report.ProjectedAvail, report.RecomputedAvail))
		service.logOperation(ctx, OperationLog{
			Operation:  operationReconcile,
			CustomerID: customerID,
			StoreID:    storeID,
			Amount:     report.ProjectedAvail.Sub(report.RecomputedAvail),
			Error:      anomaly,
		})
		if !report.Corrected {
			return report, anomaly
		}
	}
	return report, nil
}

// CheckFastLaneAnomalies reports transactions of a fast-lane store stuck in a
// settlement state. Fast-lane sales are approved at creation, so any pending
// or payment_pending row is a data inconsistency, not a normal state.
func (service *Service) CheckFastLaneAnomalies(ctx context.Context, actor Actor, storeID StoreID) ([]Transaction, error) {
	if err := requireRole(actor, RoleAdmin); err != nil {
		return nil, err
	}
	fastLane, err := service.registry.StoreFastLane(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if !fastLane {
		return nil, WrapError(operationReconcile, "store", "not_fast_lane", fmt.Errorf("%w: store is not fast-lane", ErrValidation))
	}
	stuck, err := service.store.ListTransactionsByStatus(ctx, storeID, []TransactionStatus{TransactionPending, TransactionPaymentPending})
	if err != nil {
		return nil, err
	}
	if len(stuck) > 0 {
		anomaly := WrapError(operationReconcile, "fast_lane", "stuck_transactions", fmt.Errorf("%w: %d unsettled transactions on fast-lane store", ErrConsistencyAnomaly, len(stuck)))
		service.logOperation(ctx, OperationLog{
			Operation: operationReconcile,
			StoreID:   storeID,
			Error:     anomaly,
		})
		return stuck, anomaly
	}
	return nil, nil
}
