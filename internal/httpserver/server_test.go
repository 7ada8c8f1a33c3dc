package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/perqly/cashback/internal/store/gormstore"
	"github.com/perqly/cashback/pkg/cashback"
)

var testAuth = AuthConfig{
	SigningKey: "test-signing-key",
	Issuer:     "cashbackd-test",
	TokenTTL:   time.Hour,
}

type staticRegistry struct{}

func (staticRegistry) IsStoreApproved(ctx context.Context, storeID cashback.StoreID) (bool, error) {
	return true, nil
}

func (staticRegistry) IsCustomerActive(ctx context.Context, customerID cashback.CustomerID) (bool, error) {
	return true, nil
}

func (staticRegistry) StoreFastLane(ctx context.Context, storeID cashback.StoreID) (bool, error) {
	return false, nil
}

func (staticRegistry) StoreTotalPercent(ctx context.Context, storeID cashback.StoreID) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

func (staticRegistry) CashbackConfig(ctx context.Context) (cashback.CashbackConfig, error) {
	return cashback.CashbackConfig{
		TotalPercent:    decimal.NewFromInt(10),
		ClientPercent:   decimal.NewFromInt(5),
		OperatorPercent: decimal.NewFromInt(5),
		MinimumGross:    decimal.New(1, -2),
	}, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "cashback.db")), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sequence := 0
	service, err := cashback.NewService(gormstore.New(db), staticRegistry{}, func() int64 { return time.Now().UTC().Unix() },
		cashback.WithIDGenerator(func() string {
			sequence++
			return fmt.Sprintf("id-%d", sequence)
		}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return NewRouter(service, Config{Auth: testAuth, ReleaseMode: true}, zap.NewNop())
}

func bearerToken(t *testing.T, actorID string, role cashback.Role) string {
	t.Helper()
	token, err := GenerateToken(testAuth, actorID, role)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return "Bearer " + token
}

func doJSON(t *testing.T, router http.Handler, method string, path string, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", token)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t)

	recorder := doJSON(t, router, http.MethodGet, "/api/v1/reserve", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestHealthzIsPublic(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t)

	recorder := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestRegisterTransactionOverHTTP(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t)
	token := bearerToken(t, "store-1", cashback.RoleStore)

	recorder := doJSON(t, router, http.MethodPost, "/api/v1/transactions", token, map[string]interface{}{
		"customer_id":   "cust-1",
		"store_id":      "store-1",
		"gross_amount":  "100.00",
		"external_code": "sale-1",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(t, recorder)
	if payload["status"] != "pending" {
		t.Fatalf("expected pending, got %v", payload["status"])
	}
	if payload["client_share"] != "5.00" {
		t.Fatalf("expected client share 5.00, got %v", payload["client_share"])
	}

	transactionID, _ := payload["transaction_id"].(string)
	fetched := doJSON(t, router, http.MethodGet, "/api/v1/transactions/"+transactionID, token, nil)
	if fetched.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", fetched.Code)
	}
}

func TestRegisterTransactionRejectsCustomerRole(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t)
	token := bearerToken(t, "cust-1", cashback.RoleCustomer)

	recorder := doJSON(t, router, http.MethodPost, "/api/v1/transactions", token, map[string]interface{}{
		"customer_id":   "cust-1",
		"store_id":      "store-1",
		"gross_amount":  "100.00",
		"external_code": "sale-1",
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
}

func TestRegisterTransactionRejectsMalformedAmount(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t)
	token := bearerToken(t, "store-1", cashback.RoleStore)

	recorder := doJSON(t, router, http.MethodPost, "/api/v1/transactions", token, map[string]interface{}{
		"customer_id":   "cust-1",
		"store_id":      "store-1",
		"gross_amount":  "hundred",
		"external_code": "sale-1",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestDuplicateSaleReturnsConflict(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t)
	token := bearerToken(t, "store-1", cashback.RoleStore)
	body := map[string]interface{}{
		"customer_id":   "cust-1",
		"store_id":      "store-1",
		"gross_amount":  "50.00",
		"external_code": "sale-dup",
	}

	if recorder := doJSON(t, router, http.MethodPost, "/api/v1/transactions", token, body); recorder.Code != http.StatusCreated {
		t.Fatalf("first register: %d", recorder.Code)
	}
	recorder := doJSON(t, router, http.MethodPost, "/api/v1/transactions", token, body)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
}

func TestUseBalanceInsufficientReturns422(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t)
	token := bearerToken(t, "cust-1", cashback.RoleCustomer)

	recorder := doJSON(t, router, http.MethodPost, "/api/v1/balances/store-1/use", token, map[string]interface{}{
		"customer_id": "cust-1",
		"amount":      "5.00",
	})
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestSettlementFlowOverHTTP(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t)
	storeToken := bearerToken(t, "store-1", cashback.RoleStore)
	adminToken := bearerToken(t, "admin-1", cashback.RoleAdmin)

	register := doJSON(t, router, http.MethodPost, "/api/v1/transactions", storeToken, map[string]interface{}{
		"customer_id":   "cust-1",
		"store_id":      "store-1",
		"gross_amount":  "100.00",
		"external_code": "sale-1",
	})
	if register.Code != http.StatusCreated {
		t.Fatalf("register: %d: %s", register.Code, register.Body.String())
	}
	transactionID, _ := decodeBody(t, register)["transaction_id"].(string)

	created := doJSON(t, router, http.MethodPost, "/api/v1/batches", storeToken, map[string]interface{}{
		"store_id":        "store-1",
		"transaction_ids": []string{transactionID},
		"declared_total":  "10.00",
		"method":          "wire",
		"reference":       "ref-1",
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("create batch: %d: %s", created.Code, created.Body.String())
	}
	batchID, _ := decodeBody(t, created)["batch_id"].(string)

	// Stores cannot decide their own settlements.
	if denied := doJSON(t, router, http.MethodPost, "/api/v1/batches/"+batchID+"/approve", storeToken, nil); denied.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for store approval, got %d", denied.Code)
	}

	approved := doJSON(t, router, http.MethodPost, "/api/v1/batches/"+batchID+"/approve", adminToken, map[string]interface{}{"note": "paid"})
	if approved.Code != http.StatusOK {
		t.Fatalf("approve: %d: %s", approved.Code, approved.Body.String())
	}
	result := decodeBody(t, approved)
	if result["status"] != "approved" {
		t.Fatalf("expected approved, got %v", result["status"])
	}

	again := doJSON(t, router, http.MethodPost, "/api/v1/batches/"+batchID+"/approve", adminToken, nil)
	if again.Code != http.StatusConflict {
		t.Fatalf("expected 409 on re-approval, got %d", again.Code)
	}

	customerToken := bearerToken(t, "cust-1", cashback.RoleCustomer)
	balance := doJSON(t, router, http.MethodGet, "/api/v1/balances/store-1", customerToken, nil)
	if balance.Code != http.StatusOK {
		t.Fatalf("balance: %d", balance.Code)
	}
	if available := decodeBody(t, balance)["available"]; available != "5.00" {
		t.Fatalf("expected available 5.00, got %v", available)
	}

	reserve := doJSON(t, router, http.MethodGet, "/api/v1/reserve", adminToken, nil)
	if reserve.Code != http.StatusOK {
		t.Fatalf("reserve: %d", reserve.Code)
	}
	if available := decodeBody(t, reserve)["available"]; available != "5.00" {
		t.Fatalf("expected reserve 5.00, got %v", available)
	}
}

func TestReserveEndpointsRequireAdmin(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t)
	storeToken := bearerToken(t, "store-1", cashback.RoleStore)

	if recorder := doJSON(t, router, http.MethodGet, "/api/v1/reserve", storeToken, nil); recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
}

func TestExpiredTokenIsRejected(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t)
	expired := testAuth
	expired.TokenTTL = -time.Hour
	token, err := GenerateToken(expired, "admin-1", cashback.RoleAdmin)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	recorder := doJSON(t, router, http.MethodGet, "/api/v1/reserve", "Bearer "+token, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}
