package cashback

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewServiceRejectsNilCollaborators(t *testing.T) {
	t.Parallel()
	clock := func() int64 { return 100 }
	if _, err := NewService(nil, newStubRegistry(), clock); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewService(newStubStore(), nil, clock); err == nil {
		t.Fatal("expected error for nil registry")
	}
	if _, err := NewService(newStubStore(), newStubRegistry(), nil); err == nil {
		t.Fatal("expected error for nil clock")
	}
}

// --- helpers ---

type stubStore struct {
	balances         map[string]Balance
	movements        []Movement
	transactions     map[string]Transaction
	commissions      map[string][]CommissionRecord
	externalCodes    map[string]struct{}
	batches          map[string]Batch
	batchCredited    map[string]map[string]bool
	reserve          ReserveBalance
	reserveMovements []ReserveMovement
	movementSeq      int
	saveBalanceErr   error
}

func newStubStore() *stubStore {
	return &stubStore{
		balances:      make(map[string]Balance),
		transactions:  make(map[string]Transaction),
		commissions:   make(map[string][]CommissionRecord),
		externalCodes: make(map[string]struct{}),
		batches:       make(map[string]Batch),
		batchCredited: make(map[string]map[string]bool),
	}
}

func pairKey(customerID CustomerID, storeID StoreID) string {
	return customerID.String() + "|" + storeID.String()
}

func (s *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, s)
}

func (s *stubStore) GetBalance(ctx context.Context, customerID CustomerID, storeID StoreID) (Balance, error) {
	balance, ok := s.balances[pairKey(customerID, storeID)]
	if !ok {
		return Balance{CustomerID: customerID, StoreID: storeID}, nil
	}
	return balance, nil
}

func (s *stubStore) GetBalanceForUpdate(ctx context.Context, customerID CustomerID, storeID StoreID) (Balance, error) {
	return s.GetBalance(ctx, customerID, storeID)
}

func (s *stubStore) SaveBalance(ctx context.Context, balance Balance) error {
	if s.saveBalanceErr != nil {
		return s.saveBalanceErr
	}
	s.balances[pairKey(balance.CustomerID, balance.StoreID)] = balance
	return nil
}

func (s *stubStore) AppendMovement(ctx context.Context, movement MovementInput) (string, error) {
	s.movementSeq++
	id := fmt.Sprintf("mov-%d", s.movementSeq)
	s.movements = append(s.movements, Movement{
		ID:                 id,
		CustomerID:         movement.CustomerID,
		StoreID:            movement.StoreID,
		Kind:               movement.Kind,
		Amount:             movement.Amount,
		BalanceBefore:      movement.BalanceBefore,
		BalanceAfter:       movement.BalanceAfter,
		Description:        movement.Description,
		OriginTransaction:  movement.OriginTransaction,
		ConsumedByTransact: movement.ConsumedByTransact,
		BatchID:            movement.BatchID,
		CreatedUnixUTC:     movement.CreatedUnixUTC,
	})
	return id, nil
}

func (s *stubStore) ListMovements(ctx context.Context, customerID CustomerID, storeID StoreID, beforeUnixUTC int64, limit int) ([]Movement, error) {
	var out []Movement
	for i := len(s.movements) - 1; i >= 0 && len(out) < limit; i-- {
		movement := s.movements[i]
		if movement.CustomerID != customerID || movement.StoreID != storeID {
			continue
		}
		if beforeUnixUTC > 0 && movement.CreatedUnixUTC >= beforeUnixUTC {
			continue
		}
		out = append(out, movement)
	}
	return out, nil
}

func (s *stubStore) SumMovements(ctx context.Context, customerID CustomerID, storeID StoreID) (MovementSums, error) {
	sums := MovementSums{Credited: decimal.Zero, Used: decimal.Zero}
	for _, movement := range s.movements {
		if movement.CustomerID != customerID || movement.StoreID != storeID {
			continue
		}
		if movement.Kind == MovementCredit {
			sums.Credited = sums.Credited.Add(movement.Amount)
		} else {
			sums.Used = sums.Used.Add(movement.Amount)
		}
	}
	return sums, nil
}

func (s *stubStore) InsertTransaction(ctx context.Context, transaction Transaction, commissions []CommissionRecord) error {
	codeKey := transaction.StoreID.String() + "|" + transaction.ExternalCode.String()
	if _, exists := s.externalCodes[codeKey]; exists {
		return ErrDuplicateTransaction
	}
	s.externalCodes[codeKey] = struct{}{}
	s.transactions[transaction.ID.String()] = transaction
	s.commissions[transaction.ID.String()] = commissions
	return nil
}

func (s *stubStore) GetTransaction(ctx context.Context, transactionID TransactionID) (Transaction, error) {
	transaction, ok := s.transactions[transactionID.String()]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return transaction, nil
}

func (s *stubStore) GetTransactionsForUpdate(ctx context.Context, storeID StoreID, transactionIDs []TransactionID) ([]Transaction, error) {
	var out []Transaction
	for _, transactionID := range transactionIDs {
		transaction, ok := s.transactions[transactionID.String()]
		if !ok || transaction.StoreID != storeID {
			continue
		}
		out = append(out, transaction)
	}
	return out, nil
}

func (s *stubStore) UpdateTransactionStatus(ctx context.Context, transactionIDs []TransactionID, from TransactionStatus, to TransactionStatus, updatedUnixUTC int64) (int64, error) {
	var affected int64
	for _, transactionID := range transactionIDs {
		transaction, ok := s.transactions[transactionID.String()]
		if !ok || transaction.Status != from {
			continue
		}
		transaction.Status = to
		s.transactions[transactionID.String()] = transaction
		affected++
	}
	return affected, nil
}

func (s *stubStore) UpdateTransactionBatch(ctx context.Context, transactionIDs []TransactionID, batchID *BatchID) error {
	for _, transactionID := range transactionIDs {
		transaction, ok := s.transactions[transactionID.String()]
		if !ok {
			continue
		}
		transaction.BatchID = batchID
		s.transactions[transactionID.String()] = transaction
	}
	return nil
}

func (s *stubStore) UpdateCommissionStatus(ctx context.Context, transactionIDs []TransactionID, to TransactionStatus, updatedUnixUTC int64) error {
	for _, transactionID := range transactionIDs {
		records := s.commissions[transactionID.String()]
		for i := range records {
			records[i].Status = to
		}
		s.commissions[transactionID.String()] = records
	}
	return nil
}

func (s *stubStore) ListCommissions(ctx context.Context, transactionID TransactionID) ([]CommissionRecord, error) {
	return append([]CommissionRecord(nil), s.commissions[transactionID.String()]...), nil
}

func (s *stubStore) ListTransactionsByStatus(ctx context.Context, storeID StoreID, statuses []TransactionStatus) ([]Transaction, error) {
	var out []Transaction
	for _, transaction := range s.transactions {
		if transaction.StoreID != storeID {
			continue
		}
		for _, status := range statuses {
			if transaction.Status == status {
				out = append(out, transaction)
				break
			}
		}
	}
	return out, nil
}

func (s *stubStore) InsertBatch(ctx context.Context, batch BatchInput) error {
	if _, exists := s.batches[batch.ID.String()]; exists {
		return ErrAlreadyProcessed
	}
	s.batches[batch.ID.String()] = Batch{
		ID:             batch.ID,
		StoreID:        batch.StoreID,
		DeclaredTotal:  batch.DeclaredTotal,
		Status:         BatchPending,
		Method:         batch.Method,
		Reference:      batch.Reference,
		TransactionIDs: batch.TransactionIDs,
		CreatedUnixUTC: batch.CreatedUnixUTC,
	}
	credited := make(map[string]bool, len(batch.TransactionIDs))
	for _, transactionID := range batch.TransactionIDs {
		credited[transactionID.String()] = false
	}
	s.batchCredited[batch.ID.String()] = credited
	return nil
}

func (s *stubStore) GetBatch(ctx context.Context, batchID BatchID) (Batch, error) {
	batch, ok := s.batches[batchID.String()]
	if !ok {
		return Batch{}, ErrNotFound
	}
	return batch, nil
}

func (s *stubStore) GetBatchForUpdate(ctx context.Context, batchID BatchID) (Batch, error) {
	return s.GetBatch(ctx, batchID)
}

func (s *stubStore) UpdateBatchStatus(ctx context.Context, batchID BatchID, from BatchStatus, to BatchStatus, note string, processedUnixUTC int64) error {
	batch, ok := s.batches[batchID.String()]
	if !ok {
		return ErrNotFound
	}
	if batch.Status != from {
		return ErrAlreadyProcessed
	}
	batch.Status = to
	batch.Note = note
	batch.ProcessedUnix = processedUnixUTC
	s.batches[batchID.String()] = batch
	return nil
}

func (s *stubStore) ListBatchTransactions(ctx context.Context, batchID BatchID) ([]Transaction, error) {
	batch, ok := s.batches[batchID.String()]
	if !ok {
		return nil, ErrNotFound
	}
	var out []Transaction
	for _, transactionID := range batch.TransactionIDs {
		if transaction, ok := s.transactions[transactionID.String()]; ok {
			out = append(out, transaction)
		}
	}
	return out, nil
}

func (s *stubStore) ListUncreditedBatchTransactions(ctx context.Context, batchID BatchID) ([]Transaction, error) {
	batch, ok := s.batches[batchID.String()]
	if !ok {
		return nil, ErrNotFound
	}
	credited := s.batchCredited[batchID.String()]
	var out []Transaction
	for _, transactionID := range batch.TransactionIDs {
		if credited[transactionID.String()] {
			continue
		}
		if transaction, ok := s.transactions[transactionID.String()]; ok {
			out = append(out, transaction)
		}
	}
	return out, nil
}

func (s *stubStore) MarkBatchTransactionCredited(ctx context.Context, batchID BatchID, transactionID TransactionID, creditedUnixUTC int64) error {
	credited, ok := s.batchCredited[batchID.String()]
	if !ok {
		return ErrNotFound
	}
	credited[transactionID.String()] = true
	return nil
}

func (s *stubStore) GetReserve(ctx context.Context) (ReserveBalance, error) {
	return s.reserve, nil
}

func (s *stubStore) GetReserveForUpdate(ctx context.Context) (ReserveBalance, error) {
	return s.reserve, nil
}

func (s *stubStore) SaveReserve(ctx context.Context, reserve ReserveBalance) error {
	s.reserve = reserve
	return nil
}

func (s *stubStore) AppendReserveMovement(ctx context.Context, movement ReserveMovementInput) (string, error) {
	s.movementSeq++
	id := fmt.Sprintf("rmov-%d", s.movementSeq)
	s.reserveMovements = append(s.reserveMovements, ReserveMovement{
		ID:                id,
		Kind:              movement.Kind,
		Amount:            movement.Amount,
		BalanceBefore:     movement.BalanceBefore,
		BalanceAfter:      movement.BalanceAfter,
		Description:       movement.Description,
		OriginTransaction: movement.OriginTransaction,
		BatchID:           movement.BatchID,
		CreatedUnixUTC:    movement.CreatedUnixUTC,
	})
	return id, nil
}

func (s *stubStore) ListReserveMovements(ctx context.Context, beforeUnixUTC int64, limit int) ([]ReserveMovement, error) {
	var out []ReserveMovement
	for i := len(s.reserveMovements) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.reserveMovements[i])
	}
	return out, nil
}

func (s *stubStore) SumReserveMovements(ctx context.Context) (MovementSums, error) {
	sums := MovementSums{Credited: decimal.Zero, Used: decimal.Zero}
	for _, movement := range s.reserveMovements {
		if movement.Kind == MovementCredit {
			sums.Credited = sums.Credited.Add(movement.Amount)
		} else {
			sums.Used = sums.Used.Add(movement.Amount)
		}
	}
	return sums, nil
}

func (s *stubStore) mustBalance(t *testing.T, customerID CustomerID, storeID StoreID) Balance {
	t.Helper()
	balance, ok := s.balances[pairKey(customerID, storeID)]
	if !ok {
		t.Fatalf("balance for %s at %s not found", customerID, storeID)
	}
	return balance
}

func (s *stubStore) mustTransaction(t *testing.T, transactionID TransactionID) Transaction {
	t.Helper()
	transaction, ok := s.transactions[transactionID.String()]
	if !ok {
		t.Fatalf("transaction %s not found", transactionID)
	}
	return transaction
}

type stubRegistry struct {
	config    CashbackConfig
	approved  map[string]bool
	fastLane  map[string]bool
	inactive  map[string]bool
	overrides map[string]decimal.Decimal
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{
		config: CashbackConfig{
			TotalPercent:    decimal.NewFromInt(10),
			ClientPercent:   decimal.NewFromInt(5),
			OperatorPercent: decimal.NewFromInt(5),
			MinimumGross:    decimal.New(1, -2),
		},
		approved:  map[string]bool{},
		fastLane:  map[string]bool{},
		inactive:  map[string]bool{},
		overrides: map[string]decimal.Decimal{},
	}
}

func (r *stubRegistry) IsStoreApproved(ctx context.Context, storeID StoreID) (bool, error) {
	approved, ok := r.approved[storeID.String()]
	if !ok {
		return true, nil
	}
	return approved, nil
}

func (r *stubRegistry) IsCustomerActive(ctx context.Context, customerID CustomerID) (bool, error) {
	return !r.inactive[customerID.String()], nil
}

func (r *stubRegistry) StoreFastLane(ctx context.Context, storeID StoreID) (bool, error) {
	return r.fastLane[storeID.String()], nil
}

func (r *stubRegistry) StoreTotalPercent(ctx context.Context, storeID StoreID) (decimal.Decimal, bool, error) {
	override, ok := r.overrides[storeID.String()]
	return override, ok, nil
}

func (r *stubRegistry) CashbackConfig(ctx context.Context) (CashbackConfig, error) {
	return r.config, nil
}

// domain helper constructors

func mustNewService(t *testing.T, store Store, registry Registry) *Service {
	t.Helper()
	sequence := 0
	service, err := NewService(store, registry, func() int64 { return 100 },
		WithIDGenerator(func() string {
			sequence++
			return fmt.Sprintf("id-%d", sequence)
		}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func adminActor() Actor {
	return Actor{ID: "admin-1", Role: RoleAdmin}
}

func storeActor(storeID string) Actor {
	return Actor{ID: storeID, Role: RoleStore}
}

func customerActor(customerID string) Actor {
	return Actor{ID: customerID, Role: RoleCustomer}
}

func mustCustomerID(t *testing.T, raw string) CustomerID {
	t.Helper()
	value, err := NewCustomerID(raw)
	if err != nil {
		t.Fatalf("customer id: %v", err)
	}
	return value
}

func mustStoreID(t *testing.T, raw string) StoreID {
	t.Helper()
	value, err := NewStoreID(raw)
	if err != nil {
		t.Fatalf("store id: %v", err)
	}
	return value
}

func mustExternalCode(t *testing.T, raw string) ExternalCode {
	t.Helper()
	value, err := NewExternalCode(raw)
	if err != nil {
		t.Fatalf("external code: %v", err)
	}
	return value
}

func mustDecimal(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	value, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("decimal %q: %v", raw, err)
	}
	return value
}
