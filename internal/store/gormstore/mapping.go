package gormstore

import (
	"encoding/json"
	"time"

	"github.com/perqly/cashback/pkg/cashback"
)

func mapBalance(row Balance, customerID cashback.CustomerID, storeID cashback.StoreID) cashback.Balance {
	return cashback.Balance{
		CustomerID:    customerID,
		StoreID:       storeID,
		Available:     row.Available,
		TotalCredited: row.TotalCredited,
		TotalUsed:     row.TotalUsed,
		UpdatedUnix:   row.UpdatedAt.Unix(),
	}
}

func mapMovement(row Movement) (cashback.Movement, error) {
	customerID, err := cashback.NewCustomerID(row.CustomerID)
	if err != nil {
		return cashback.Movement{}, err
	}
	storeID, err := cashback.NewStoreID(row.StoreID)
	if err != nil {
		return cashback.Movement{}, err
	}
	kind, err := cashback.ParseMovementKind(row.Kind)
	if err != nil {
		return cashback.Movement{}, err
	}
	origin, err := parseTransactionRef(row.OriginTransactionID)
	if err != nil {
		return cashback.Movement{}, err
	}
	consumedBy, err := parseTransactionRef(row.ConsumedByTransactionID)
	if err != nil {
		return cashback.Movement{}, err
	}
	batchID, err := parseBatchRef(row.BatchID)
	if err != nil {
		return cashback.Movement{}, err
	}
	return cashback.Movement{
		ID:                 row.MovementID,
		CustomerID:         customerID,
		StoreID:            storeID,
		Kind:               kind,
		Amount:             row.Amount,
		BalanceBefore:      row.BalanceBefore,
		BalanceAfter:       row.BalanceAfter,
		Description:        row.Description,
		OriginTransaction:  origin,
		ConsumedByTransact: consumedBy,
		BatchID:            batchID,
		CreatedUnixUTC:     row.CreatedAt.Unix(),
	}, nil
}

func mapTransaction(row Transaction) (cashback.Transaction, error) {
	transactionID, err := cashback.NewTransactionID(row.TransactionID)
	if err != nil {
		return cashback.Transaction{}, err
	}
	customerID, err := cashback.NewCustomerID(row.CustomerID)
	if err != nil {
		return cashback.Transaction{}, err
	}
	storeID, err := cashback.NewStoreID(row.StoreID)
	if err != nil {
		return cashback.Transaction{}, err
	}
	externalCode, err := cashback.NewExternalCode(row.ExternalCode)
	if err != nil {
		return cashback.Transaction{}, err
	}
	status, err := cashback.ParseTransactionStatus(row.Status)
	if err != nil {
		return cashback.Transaction{}, err
	}
	batchID, err := parseBatchRef(row.BatchID)
	if err != nil {
		return cashback.Transaction{}, err
	}
	return cashback.Transaction{
		ID:             transactionID,
		CustomerID:     customerID,
		StoreID:        storeID,
		GrossAmount:    row.GrossAmount,
		NetAmount:      row.NetAmount,
		BalanceUsed:    row.BalanceUsed,
		TotalCashback:  row.TotalCashback,
		ClientShare:    row.ClientShare,
		OperatorShare:  row.OperatorShare,
		StoreShare:     row.StoreShare,
		ExternalCode:   externalCode,
		Status:         status,
		Description:    row.Description,
		BatchID:        batchID,
		OccurredUnix:   row.OccurredAt.Unix(),
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func mapTransactions(rows []Transaction) ([]cashback.Transaction, error) {
	transactions := make([]cashback.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTxn, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func mapCommission(row Commission) (cashback.CommissionRecord, error) {
	transactionID, err := cashback.NewTransactionID(row.TransactionID)
	if err != nil {
		return cashback.CommissionRecord{}, err
	}
	party, err := cashback.ParseParty(row.Party)
	if err != nil {
		return cashback.CommissionRecord{}, err
	}
	status, err := cashback.ParseTransactionStatus(row.Status)
	if err != nil {
		return cashback.CommissionRecord{}, err
	}
	return cashback.CommissionRecord{
		TransactionID: transactionID,
		Party:         party,
		BasisAmount:   row.BasisAmount,
		Amount:        row.Amount,
		Status:        status,
	}, nil
}

func mapBatch(row Batch, links []BatchTransaction) (cashback.Batch, error) {
	batchID, err := cashback.NewBatchID(row.BatchID)
	if err != nil {
		return cashback.Batch{}, err
	}
	storeID, err := cashback.NewStoreID(row.StoreID)
	if err != nil {
		return cashback.Batch{}, err
	}
	status, err := cashback.ParseBatchStatus(row.Status)
	if err != nil {
		return cashback.Batch{}, err
	}
	var details struct {
		Method    string `json:"method"`
		Reference string `json:"reference"`
	}
	if len(row.PaymentDetails) > 0 {
		if err := json.Unmarshal(row.PaymentDetails, &details); err != nil {
			return cashback.Batch{}, err
		}
	}
	transactionIDs := make([]cashback.TransactionID, 0, len(links))
	for _, link := range links {
		transactionID, err := cashback.NewTransactionID(link.TransactionID)
		if err != nil {
			return cashback.Batch{}, err
		}
		transactionIDs = append(transactionIDs, transactionID)
	}
	return cashback.Batch{
		ID:             batchID,
		StoreID:        storeID,
		DeclaredTotal:  row.DeclaredTotal,
		Status:         status,
		Method:         details.Method,
		Reference:      details.Reference,
		Note:           row.Note,
		TransactionIDs: transactionIDs,
		CreatedUnixUTC: row.CreatedAt.Unix(),
		ProcessedUnix:  timeOrZero(row.ProcessedAt),
	}, nil
}

func mapReserve(row Reserve) cashback.ReserveBalance {
	return cashback.ReserveBalance{
		Available:     row.Available,
		TotalCredited: row.TotalCredited,
		TotalUsed:     row.TotalUsed,
		UpdatedUnix:   row.UpdatedAt.Unix(),
	}
}

func mapReserveMovement(row ReserveMovement) (cashback.ReserveMovement, error) {
	kind, err := cashback.ParseMovementKind(row.Kind)
	if err != nil {
		return cashback.ReserveMovement{}, err
	}
	origin, err := parseTransactionRef(row.OriginTransactionID)
	if err != nil {
		return cashback.ReserveMovement{}, err
	}
	batchID, err := parseBatchRef(row.BatchID)
	if err != nil {
		return cashback.ReserveMovement{}, err
	}
	return cashback.ReserveMovement{
		ID:                row.MovementID,
		Kind:              kind,
		Amount:            row.Amount,
		BalanceBefore:     row.BalanceBefore,
		BalanceAfter:      row.BalanceAfter,
		Description:       row.Description,
		OriginTransaction: origin,
		BatchID:           batchID,
		CreatedUnixUTC:    row.CreatedAt.Unix(),
	}, nil
}

func parseTransactionRef(raw *string) (*cashback.TransactionID, error) {
	if raw == nil {
		return nil, nil
	}
	transactionID, err := cashback.NewTransactionID(*raw)
	if err != nil {
		return nil, err
	}
	return &transactionID, nil
}

func parseBatchRef(raw *string) (*cashback.BatchID, error) {
	if raw == nil {
		return nil, nil
	}
	batchID, err := cashback.NewBatchID(*raw)
	if err != nil {
		return nil, err
	}
	return &batchID, nil
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}
