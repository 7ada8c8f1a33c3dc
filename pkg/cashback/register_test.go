package cashback

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestRegisterComputesSplitOnGrossAmount(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	service := mustNewService(t, store, newStubRegistry())
	customerID := mustCustomerID(t, "cust-1")
	storeID := mustStoreID(t, "store-1")

	transaction, err := service.RegisterTransaction(context.Background(), storeActor("store-1"), RegisterInput{
		CustomerID:   customerID,
		StoreID:      storeID,
		GrossAmount:  mustDecimal(t, "100.00"),
		ExternalCode: mustExternalCode(t, "sale-100"),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if transaction.Status != TransactionPending {
		t.Fatalf("expected pending status, got %s", transaction.Status)
	}
	if !transaction.TotalCashback.Equal(mustDecimal(t, "10.00")) {
		t.Fatalf("expected total cashback 10.00, got %s", transaction.TotalCashback)
	}
	if !transaction.ClientShare.Equal(mustDecimal(t, "5.00")) {
		t.Fatalf("expected client share 5.00, got %s", transaction.ClientShare)
	}
	if !transaction.OperatorShare.Equal(mustDecimal(t, "5.00")) {
		t.Fatalf("expected operator share 5.00, got %s", transaction.OperatorShare)
	}
	if !transaction.StoreShare.IsZero() {
		t.Fatalf("expected zero store share, got %s", transaction.StoreShare)
	}

	commissions, err := store.ListCommissions(context.Background(), transaction.ID)
	if err != nil {
		t.Fatalf("list commissions: %v", err)
	}
	if len(commissions) != 1 {
		t.Fatalf("expected 1 commission record, got %d", len(commissions))
	}
	if commissions[0].Party != PartyOperator || !commissions[0].Amount.Equal(mustDecimal(t, "5.00")) {
		t.Fatalf("unexpected commission record: %+v", commissions[0])
	}

	// No crediting before settlement.
	if len(store.movements) != 0 {
		t.Fatalf("expected no movements, got %d", len(store.movements))
	}
}

func TestRegisterFastLaneCreditsImmediately(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	registry := newStubRegistry()
	registry.fastLane["store-1"] = true
	service := mustNewService(t, store, registry)
	customerID := mustCustomerID(t, "cust-1")
	storeID := mustStoreID(t, "store-1")

	transaction, err := service.RegisterTransaction(context.Background(), storeActor("store-1"), RegisterInput{
		CustomerID:   customerID,
		StoreID:      storeID,
		GrossAmount:  mustDecimal(t, "100.00"),
		ExternalCode: mustExternalCode(t, "sale-1"),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if transaction.Status != TransactionApproved {
		t.Fatalf("expected approved status, got %s", transaction.Status)
	}
	balance := store.mustBalance(t, customerID, storeID)
	if !balance.Available.Equal(mustDecimal(t, "5.00")) {
		t.Fatalf("expected available 5.00, got %s", balance.Available)
	}
	if !store.reserve.Available.Equal(mustDecimal(t, "5.00")) {
		t.Fatalf("expected reserve 5.00, got %s", store.reserve.Available)
	}
	if len(store.movements) != 1 || store.movements[0].Kind != MovementCredit {
		t.Fatalf("expected one credit movement, got %+v", store.movements)
	}
	if store.movements[0].OriginTransaction == nil || *store.movements[0].OriginTransaction != transaction.ID {
		t.Fatalf("credit movement does not reference the sale: %+v", store.movements[0])
	}
}

func TestRegisterBalanceUseReducesNetAmount(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	service := mustNewService(t, store, newStubRegistry())
	customerID := mustCustomerID(t, "cust-1")
	storeID := mustStoreID(t, "store-1")
	store.balances[pairKey(customerID, storeID)] = Balance{
		CustomerID:    customerID,
		StoreID:       storeID,
		Available:     mustDecimal(t, "10.00"),
		TotalCredited: mustDecimal(t, "10.00"),
	}

	transaction, err := service.RegisterTransaction(context.Background(), storeActor("store-1"), RegisterInput{
		CustomerID:   customerID,
		StoreID:      storeID,
		GrossAmount:  mustDecimal(t, "20.00"),
		BalanceUse:   mustDecimal(t, "5.00"),
		ExternalCode: mustExternalCode(t, "sale-2"),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !transaction.NetAmount.Equal(mustDecimal(t, "15.00")) {
		t.Fatalf("expected net 15.00, got %s", transaction.NetAmount)
	}
	if !transaction.TotalCashback.Equal(mustDecimal(t, "1.50")) {
		t.Fatalf("expected cashback 1.50 on the net amount, got %s", transaction.TotalCashback)
	}
	balance := store.mustBalance(t, customerID, storeID)
	if !balance.Available.Equal(mustDecimal(t, "5.00")) {
		t.Fatalf("expected available 5.00 after use, got %s", balance.Available)
	}
	if len(store.movements) != 1 || store.movements[0].Kind != MovementUse {
		t.Fatalf("expected one use movement, got %+v", store.movements)
	}
	if store.movements[0].ConsumedByTransact == nil || *store.movements[0].ConsumedByTransact != transaction.ID {
		t.Fatalf("use movement does not reference the sale: %+v", store.movements[0])
	}
}

func TestRegisterRejectsDuplicateExternalCode(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	service := mustNewService(t, store, newStubRegistry())
	input := RegisterInput{
		CustomerID:   mustCustomerID(t, "cust-1"),
		StoreID:      mustStoreID(t, "store-1"),
		GrossAmount:  mustDecimal(t, "50.00"),
		ExternalCode: mustExternalCode(t, "sale-dup"),
	}

	if _, err := service.RegisterTransaction(context.Background(), storeActor("store-1"), input); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := service.RegisterTransaction(context.Background(), storeActor("store-1"), input)
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}
}

func TestRegisterRejectsBalanceUseOverGross(t *testing.T) {
	t.Parallel()
	service := mustNewService(t, newStubStore(), newStubRegistry())

	_, err := service.RegisterTransaction(context.Background(), storeActor("store-1"), RegisterInput{
		CustomerID:   mustCustomerID(t, "cust-1"),
		StoreID:      mustStoreID(t, "store-1"),
		GrossAmount:  mustDecimal(t, "10.00"),
		BalanceUse:   mustDecimal(t, "15.00"),
		ExternalCode: mustExternalCode(t, "sale-3"),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRegisterRejectsInsufficientBalanceUse(t *testing.T) {
	t.Parallel()
	service := mustNewService(t, newStubStore(), newStubRegistry())

	_, err := service.RegisterTransaction(context.Background(), storeActor("store-1"), RegisterInput{
		CustomerID:   mustCustomerID(t, "cust-1"),
		StoreID:      mustStoreID(t, "store-1"),
		GrossAmount:  mustDecimal(t, "10.00"),
		BalanceUse:   mustDecimal(t, "5.00"),
		ExternalCode: mustExternalCode(t, "sale-4"),
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestRegisterRejectsForeignStoreActor(t *testing.T) {
	t.Parallel()
	service := mustNewService(t, newStubStore(), newStubRegistry())

	_, err := service.RegisterTransaction(context.Background(), storeActor("store-2"), RegisterInput{
		CustomerID:   mustCustomerID(t, "cust-1"),
		StoreID:      mustStoreID(t, "store-1"),
		GrossAmount:  mustDecimal(t, "10.00"),
		ExternalCode: mustExternalCode(t, "sale-5"),
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRegisterRejectsInactiveCustomer(t *testing.T) {
	t.Parallel()
	registry := newStubRegistry()
	registry.inactive["cust-1"] = true
	service := mustNewService(t, newStubStore(), registry)

	_, err := service.RegisterTransaction(context.Background(), storeActor("store-1"), RegisterInput{
		CustomerID:   mustCustomerID(t, "cust-1"),
		StoreID:      mustStoreID(t, "store-1"),
		GrossAmount:  mustDecimal(t, "10.00"),
		ExternalCode: mustExternalCode(t, "sale-6"),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRegisterRejectsUnapprovedStore(t *testing.T) {
	t.Parallel()
	registry := newStubRegistry()
	registry.approved["store-1"] = false
	service := mustNewService(t, newStubStore(), registry)

	_, err := service.RegisterTransaction(context.Background(), storeActor("store-1"), RegisterInput{
		CustomerID:   mustCustomerID(t, "cust-1"),
		StoreID:      mustStoreID(t, "store-1"),
		GrossAmount:  mustDecimal(t, "10.00"),
		ExternalCode: mustExternalCode(t, "sale-7"),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRegisterRejectsGrossBelowMinimum(t *testing.T) {
	t.Parallel()
	registry := newStubRegistry()
	registry.config.MinimumGross = mustDecimal(t, "50.00")
	service := mustNewService(t, newStubStore(), registry)

	_, err := service.RegisterTransaction(context.Background(), storeActor("store-1"), RegisterInput{
		CustomerID:   mustCustomerID(t, "cust-1"),
		StoreID:      mustStoreID(t, "store-1"),
		GrossAmount:  mustDecimal(t, "10.00"),
		ExternalCode: mustExternalCode(t, "sale-8"),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRegisterAppliesStorePercentOverride(t *testing.T) {
	t.Parallel()
	registry := newStubRegistry()
	registry.overrides["store-1"] = decimal.NewFromInt(20)
	service := mustNewService(t, newStubStore(), registry)

	transaction, err := service.RegisterTransaction(context.Background(), storeActor("store-1"), RegisterInput{
		CustomerID:   mustCustomerID(t, "cust-1"),
		StoreID:      mustStoreID(t, "store-1"),
		GrossAmount:  mustDecimal(t, "100.00"),
		ExternalCode: mustExternalCode(t, "sale-9"),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !transaction.TotalCashback.Equal(mustDecimal(t, "20.00")) {
		t.Fatalf("expected total 20.00, got %s", transaction.TotalCashback)
	}
	if !transaction.ClientShare.Equal(mustDecimal(t, "10.00")) {
		t.Fatalf("expected client share 10.00, got %s", transaction.ClientShare)
	}
	if !transaction.OperatorShare.Equal(mustDecimal(t, "10.00")) {
		t.Fatalf("expected operator share 10.00, got %s", transaction.OperatorShare)
	}
}

func TestComputeSplitRoundsDown(t *testing.T) {
	t.Parallel()
	config := CashbackConfig{
		TotalPercent:    decimal.NewFromInt(10),
		ClientPercent:   decimal.NewFromInt(5),
		OperatorPercent: decimal.NewFromInt(5),
	}

	cases := []struct {
		name     string
		net      string
		percent  string
		total    string
		client   string
		operator string
	}{
		{name: "even", net: "100.00", percent: "10", total: "10.00", client: "5.00", operator: "5.00"},
		{name: "odd cents", net: "33.33", percent: "10", total: "3.33", client: "1.66", operator: "1.67"},
		{name: "sub cent", net: "0.05", percent: "10", total: "0.00", client: "0.00", operator: "0.00"},
		{name: "override", net: "33.33", percent: "20", total: "6.66", client: "3.33", operator: "3.33"},
	}
	for _, testCase := range cases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			split := computeSplit(mustDecimal(t, testCase.net), config, mustDecimal(t, testCase.percent))
			if !split.Total.Equal(mustDecimal(t, testCase.total)) {
				t.Fatalf("total: expected %s, got %s", testCase.total, split.Total)
			}
			if !split.ClientShare.Equal(mustDecimal(t, testCase.client)) {
				t.Fatalf("client: expected %s, got %s", testCase.client, split.ClientShare)
			}
			if !split.OperatorShare.Equal(mustDecimal(t, testCase.operator)) {
				t.Fatalf("operator: expected %s, got %s", testCase.operator, split.OperatorShare)
			}
			if !split.ClientShare.Add(split.OperatorShare).Equal(split.Total) {
				t.Fatalf("shares %s + %s do not sum to total %s", split.ClientShare, split.OperatorShare, split.Total)
			}
		})
	}
}
