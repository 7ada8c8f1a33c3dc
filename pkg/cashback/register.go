package cashback

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// RegisterInput carries a purchase registration request.
type RegisterInput struct {
	CustomerID   CustomerID
	StoreID      StoreID
	GrossAmount  decimal.Decimal
	ExternalCode ExternalCode
	Description  string
	// BalanceUse asks to cover part of the sale from the customer's existing
	// balance at this store. Zero means no balance is used.
	BalanceUse      decimal.Decimal
	OccurredUnixUTC int64
}

// RegisterTransaction records one purchase: validates the sale, computes the
// cashback split on the net amount, inserts the transaction with its nonzero
// commission records, and, for fast-lane stores, credits the customer balance
// and the operator reserve inline.
func (service *Service) RegisterTransaction(ctx context.Context, actor Actor, input RegisterInput) (Transaction, error) {
	if err := requireRole(actor, RoleStore, RoleAdmin); err != nil {
		return Transaction{}, err
	}
	if err := requireStoreSelf(actor, input.StoreID); err != nil {
		return Transaction{}, err
	}
	gross, err := NewAmount(input.GrossAmount)
	if err != nil {
		return Transaction{}, WrapError(operationRegister, "gross", "invalid", fmt.Errorf("%w: gross amount", ErrValidation))
	}
	balanceUse := input.BalanceUse.Round(moneyScale)
	if balanceUse.IsNegative() {
		return Transaction{}, WrapError(operationRegister, "balance_use", "invalid", fmt.Errorf("%w: negative balance use", ErrValidation))
	}
	if balanceUse.Cmp(gross) > 0 {
		return Transaction{}, WrapError(operationRegister, "balance_use", "invalid", fmt.Errorf("%w: balance use exceeds gross amount", ErrValidation))
	}

	config, err := service.registry.CashbackConfig(ctx)
	if err != nil {
		return Transaction{}, err
	}
	if err := config.Validate(); err != nil {
		return Transaction{}, err
	}
	if gross.Cmp(config.MinimumGross) < 0 {
		return Transaction{}, WrapError(operationRegister, "gross", "below_minimum", fmt.Errorf("%w: gross amount below configured minimum", ErrValidation))
	}
	active, err := service.registry.IsCustomerActive(ctx, input.CustomerID)
	if err != nil {
		return Transaction{}, err
	}
	if !active {
		return Transaction{}, WrapError(operationRegister, "customer", "inactive", fmt.Errorf("%w: customer is not active", ErrValidation))
	}
	approved, err := service.registry.IsStoreApproved(ctx, input.StoreID)
	if err != nil {
		return Transaction{}, err
	}
	if !approved {
		return Transaction{}, WrapError(operationRegister, "store", "not_approved", fmt.Errorf("%w: store is not approved", ErrValidation))
	}
	fastLane, err := service.registry.StoreFastLane(ctx, input.StoreID)
	if err != nil {
		return Transaction{}, err
	}
	totalPercent := config.TotalPercent
	if override, hasOverride, err := service.registry.StoreTotalPercent(ctx, input.StoreID); err != nil {
		return Transaction{}, err
	} else if hasOverride {
		totalPercent = override
	}

	now := service.nowFn()
	occurred := input.OccurredUnixUTC
	if occurred == 0 {
		occurred = now
	}
	transactionID, err := NewTransactionID(service.idFn())
	if err != nil {
		return Transaction{}, err
	}

	net := gross.Sub(balanceUse)
	split := computeSplit(net, config, totalPercent)
	status := TransactionPending
	if fastLane {
		status = TransactionApproved
	}
	transaction := Transaction{
		ID:             transactionID,
		CustomerID:     input.CustomerID,
		StoreID:        input.StoreID,
		GrossAmount:    gross,
		NetAmount:      net,
		BalanceUsed:    balanceUse,
		TotalCashback:  split.Total,
		ClientShare:    split.ClientShare,
		OperatorShare:  split.OperatorShare,
		StoreShare:     split.StoreShare,
		ExternalCode:   input.ExternalCode,
		Status:         status,
		Description:    input.Description,
		OccurredUnix:   occurred,
		CreatedUnixUTC: now,
	}
	commissions := commissionRecords(transaction, net)

	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.InsertTransaction(ctx, transaction, commissions); err != nil {
			return err
		}
		if balanceUse.IsPositive() {
			if _, err := service.useLocked(ctx, transactionStore, input.CustomerID, input.StoreID, balanceUse, "balance applied at checkout", &transactionID); err != nil {
				return err
			}
		}
		if fastLane {
			if split.ClientShare.IsPositive() {
				if _, err := service.creditLocked(ctx, transactionStore, input.CustomerID, input.StoreID, split.ClientShare, "cashback on sale "+input.ExternalCode.String(), &transactionID, nil); err != nil {
					return err
				}
			}
			if split.OperatorShare.IsPositive() {
				if _, err := service.creditReserveLocked(ctx, transactionStore, split.OperatorShare, "commission on sale "+input.ExternalCode.String(), &transactionID, nil); err != nil {
					return err
				}
			}
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationRegister,
		CustomerID:    input.CustomerID,
		StoreID:       input.StoreID,
		TransactionID: transactionID,
		Amount:        gross,
		Error:         operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	service.emit(ctx, Event{
		Kind:          EventTransactionCreated,
		CustomerID:    input.CustomerID.String(),
		StoreID:       input.StoreID.String(),
		TransactionID: transactionID.String(),
		Amount:        gross,
	})
	if fastLane && split.ClientShare.IsPositive() {
		service.emit(ctx, Event{
			Kind:          EventBalanceCredited,
			CustomerID:    input.CustomerID.String(),
			StoreID:       input.StoreID.String(),
			TransactionID: transactionID.String(),
			Amount:        split.ClientShare,
		})
	}
	return transaction, nil
}

// GetTransaction fetches a transaction by id.
func (service *Service) GetTransaction(ctx context.Context, actor Actor, transactionID TransactionID) (Transaction, error) {
	if err := requireRole(actor, RoleStore, RoleAdmin); err != nil {
		return Transaction{}, err
	}
	transaction, err := service.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return Transaction{}, err
	}
	if err := requireStoreSelf(actor, transaction.StoreID); err != nil {
		return Transaction{}, err
	}
	return transaction, nil
}

// computeSplit divides the cashback over a net sale amount. A store-specific
// total percent re-scales the client and operator shares proportionally; the
// store share is fixed at zero regardless of configuration. Amounts round
// down so the total never exceeds net * percent.
func computeSplit(net decimal.Decimal, config CashbackConfig, totalPercent decimal.Decimal) Split {
	total := net.Mul(totalPercent).Div(oneHundred).RoundDown(moneyScale)
	clientPercent := config.ClientPercent
	if !totalPercent.Equal(config.TotalPercent) && config.TotalPercent.IsPositive() {
		clientPercent = config.ClientPercent.Mul(totalPercent).Div(config.TotalPercent)
	}
	client := net.Mul(clientPercent).Div(oneHundred).RoundDown(moneyScale)
	if client.Cmp(total) > 0 {
		client = total
	}
	return Split{
		Total:         total,
		ClientShare:   client,
		OperatorShare: total.Sub(client),
		StoreShare:    decimal.Zero,
	}
}

// commissionRecords materializes one record per beneficiary with amount > 0.
// The store share is always zero, so normally only the operator row exists.
func commissionRecords(transaction Transaction, basis decimal.Decimal) []CommissionRecord {
	var records []CommissionRecord
	if transaction.OperatorShare.IsPositive() {
		records = append(records, CommissionRecord{
			TransactionID: transaction.ID,
			Party:         PartyOperator,
			BasisAmount:   basis,
			Amount:        transaction.OperatorShare,
			Status:        transaction.Status,
		})
	}
	if transaction.StoreShare.IsPositive() {
		records = append(records, CommissionRecord{
			TransactionID: transaction.ID,
			Party:         PartyStore,
			BasisAmount:   basis,
			Amount:        transaction.StoreShare,
			Status:        transaction.Status,
		})
	}
	return records
}
