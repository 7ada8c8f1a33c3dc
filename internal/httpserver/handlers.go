package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/perqly/cashback/pkg/cashback"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Handlers exposes the ledger service over HTTP.
type Handlers struct {
	service *cashback.Service
}

// NewHandlers wires the HTTP handlers.
func NewHandlers(service *cashback.Service) *Handlers {
	return &Handlers{service: service}
}

type registerTransactionRequest struct {
	CustomerID   string `json:"customer_id" binding:"required"`
	StoreID      string `json:"store_id" binding:"required"`
	GrossAmount  string `json:"gross_amount" binding:"required"`
	ExternalCode string `json:"external_code" binding:"required"`
	Description  string `json:"description"`
	BalanceUse   string `json:"balance_use"`
	OccurredAt   int64  `json:"occurred_at_unix"`
}

func (handlers *Handlers) RegisterTransaction(requestContext *gin.Context) {
	var request registerTransactionRequest
	if err := requestContext.ShouldBindJSON(&request); err != nil {
		requestContext.JSON(http.StatusBadRequest, gin.H{"error": "validation", "reason": err.Error()})
		return
	}
	customerID, err := cashback.NewCustomerID(request.CustomerID)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	storeID, err := cashback.NewStoreID(request.StoreID)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	externalCode, err := cashback.NewExternalCode(request.ExternalCode)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	gross, err := parseAmount(request.GrossAmount)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	balanceUse := decimal.Zero
	if request.BalanceUse != "" {
		balanceUse, err = parseAmount(request.BalanceUse)
		if err != nil {
			writeError(requestContext, err)
			return
		}
	}
	transaction, err := handlers.service.RegisterTransaction(requestContext.Request.Context(), currentActor(requestContext), cashback.RegisterInput{
		CustomerID:      customerID,
		StoreID:         storeID,
		GrossAmount:     gross,
		ExternalCode:    externalCode,
		Description:     request.Description,
		BalanceUse:      balanceUse,
		OccurredUnixUTC: request.OccurredAt,
	})
	if err != nil {
		writeError(requestContext, err)
		return
	}
	requestContext.JSON(http.StatusCreated, transactionResponse(transaction))
}

func (handlers *Handlers) GetTransaction(requestContext *gin.Context) {
	transactionID, err := cashback.NewTransactionID(requestContext.Param("transactionID"))
	if err != nil {
		writeError(requestContext, err)
		return
	}
	transaction, err := handlers.service.GetTransaction(requestContext.Request.Context(), currentActor(requestContext), transactionID)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	requestContext.JSON(http.StatusOK, transactionResponse(transaction))
}

func (handlers *Handlers) GetBalance(requestContext *gin.Context) {
	customerID, storeID, ok := pairParams(requestContext)
	if !ok {
		return
	}
	balance, err := handlers.service.GetBalance(requestContext.Request.Context(), currentActor(requestContext), customerID, storeID)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	requestContext.JSON(http.StatusOK, gin.H{
		"customer_id":    balance.CustomerID.String(),
		"store_id":       balance.StoreID.String(),
		"available":      balance.Available.StringFixed(2),
		"total_credited": balance.TotalCredited.StringFixed(2),
		"total_used":     balance.TotalUsed.StringFixed(2),
	})
}

type useBalanceRequest struct {
	CustomerID    string `json:"customer_id" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	Description   string `json:"description"`
	TransactionID string `json:"transaction_id"`
}

func (handlers *Handlers) UseBalance(requestContext *gin.Context) {
	storeID, err := cashback.NewStoreID(requestContext.Param("storeID"))
	if err != nil {
		writeError(requestContext, err)
		return
	}
	var request useBalanceRequest
	if err := requestContext.ShouldBindJSON(&request); err != nil {
		requestContext.JSON(http.StatusBadRequest, gin.H{"error": "validation", "reason": err.Error()})
		return
	}
	customerID, err := cashback.NewCustomerID(request.CustomerID)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	amount, err := parseAmount(request.Amount)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	var consuming *cashback.TransactionID
	if request.TransactionID != "" {
		transactionID, err := cashback.NewTransactionID(request.TransactionID)
		if err != nil {
			writeError(requestContext, err)
			return
		}
		consuming = &transactionID
	}
	movementID, err := handlers.service.Use(requestContext.Request.Context(), currentActor(requestContext), customerID, storeID, amount, request.Description, consuming)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	requestContext.JSON(http.StatusCreated, gin.H{"movement_id": movementID})
}

func (handlers *Handlers) ListMovements(requestContext *gin.Context) {
	customerID, storeID, ok := pairParams(requestContext)
	if !ok {
		return
	}
	before, _ := strconv.ParseInt(requestContext.Query("before"), 10, 64)
	limit := queryLimit(requestContext)
	movements, err := handlers.service.ListMovements(requestContext.Request.Context(), currentActor(requestContext), customerID, storeID, before, limit)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	payload := make([]gin.H, 0, len(movements))
	for _, movement := range movements {
		payload = append(payload, movementResponse(movement))
	}
	requestContext.JSON(http.StatusOK, gin.H{"movements": payload})
}

func (handlers *Handlers) PendingTransactions(requestContext *gin.Context) {
	storeID, err := cashback.NewStoreID(requestContext.Param("storeID"))
	if err != nil {
		writeError(requestContext, err)
		return
	}
	transactions, err := handlers.service.PendingSettlement(requestContext.Request.Context(), currentActor(requestContext), storeID)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	payload := make([]gin.H, 0, len(transactions))
	for _, transaction := range transactions {
		payload = append(payload, transactionResponse(transaction))
	}
	requestContext.JSON(http.StatusOK, gin.H{"transactions": payload})
}

type createBatchRequest struct {
	StoreID        string   `json:"store_id" binding:"required"`
	TransactionIDs []string `json:"transaction_ids" binding:"required"`
	DeclaredTotal  string   `json:"declared_total" binding:"required"`
	Method         string   `json:"method"`
	Reference      string   `json:"reference"`
}

func (handlers *Handlers) CreateBatch(requestContext *gin.Context) {
	var request createBatchRequest
	if err := requestContext.ShouldBindJSON(&request); err != nil {
		requestContext.JSON(http.StatusBadRequest, gin.H{"error": "validation", "reason": err.Error()})
		return
	}
	storeID, err := cashback.NewStoreID(request.StoreID)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	declared, err := parseAmount(request.DeclaredTotal)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	transactionIDs := make([]cashback.TransactionID, 0, len(request.TransactionIDs))
	for _, raw := range request.TransactionIDs {
		transactionID, err := cashback.NewTransactionID(raw)
		if err != nil {
			writeError(requestContext, err)
			return
		}
		transactionIDs = append(transactionIDs, transactionID)
	}
	batch, err := handlers.service.CreateBatch(requestContext.Request.Context(), currentActor(requestContext), storeID, transactionIDs, declared, request.Method, request.Reference)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	requestContext.JSON(http.StatusCreated, batchResponse(batch))
}

func (handlers *Handlers) GetBatch(requestContext *gin.Context) {
	batchID, err := cashback.NewBatchID(requestContext.Param("batchID"))
	if err != nil {
		writeError(requestContext, err)
		return
	}
	batch, err := handlers.service.GetBatch(requestContext.Request.Context(), currentActor(requestContext), batchID)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	requestContext.JSON(http.StatusOK, batchResponse(batch))
}

type decideBatchRequest struct {
	Note string `json:"note"`
}

func (handlers *Handlers) ApproveBatch(requestContext *gin.Context) {
	batchID, err := cashback.NewBatchID(requestContext.Param("batchID"))
	if err != nil {
		writeError(requestContext, err)
		return
	}
	var request decideBatchRequest
	_ = requestContext.ShouldBindJSON(&request)
	result, err := handlers.service.ApproveBatch(requestContext.Request.Context(), currentActor(requestContext), batchID, request.Note)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	requestContext.JSON(http.StatusOK, settlementResponse(result))
}

func (handlers *Handlers) RejectBatch(requestContext *gin.Context) {
	batchID, err := cashback.NewBatchID(requestContext.Param("batchID"))
	if err != nil {
		writeError(requestContext, err)
		return
	}
	var request decideBatchRequest
	_ = requestContext.ShouldBindJSON(&request)
	result, err := handlers.service.RejectBatch(requestContext.Request.Context(), currentActor(requestContext), batchID, request.Note)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	requestContext.JSON(http.StatusOK, settlementResponse(result))
}

func (handlers *Handlers) RetryBatchCredits(requestContext *gin.Context) {
	batchID, err := cashback.NewBatchID(requestContext.Param("batchID"))
	if err != nil {
		writeError(requestContext, err)
		return
	}
	result, err := handlers.service.RetrySettlementCredits(requestContext.Request.Context(), currentActor(requestContext), batchID)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	requestContext.JSON(http.StatusOK, settlementResponse(result))
}

func (handlers *Handlers) GetReserve(requestContext *gin.Context) {
	reserve, err := handlers.service.GetReserve(requestContext.Request.Context(), currentActor(requestContext))
	if err != nil {
		writeError(requestContext, err)
		return
	}
	requestContext.JSON(http.StatusOK, gin.H{
		"available":      reserve.Available.StringFixed(2),
		"total_credited": reserve.TotalCredited.StringFixed(2),
		"total_used":     reserve.TotalUsed.StringFixed(2),
	})
}

type reserveWithdrawalRequest struct {
	Amount      string `json:"amount" binding:"required"`
	Description string `json:"description"`
}

func (handlers *Handlers) WithdrawReserve(requestContext *gin.Context) {
	var request reserveWithdrawalRequest
	if err := requestContext.ShouldBindJSON(&request); err != nil {
		requestContext.JSON(http.StatusBadRequest, gin.H{"error": "validation", "reason": err.Error()})
		return
	}
	amount, err := parseAmount(request.Amount)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	movementID, err := handlers.service.UseReserve(requestContext.Request.Context(), currentActor(requestContext), amount, request.Description)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	requestContext.JSON(http.StatusCreated, gin.H{"movement_id": movementID})
}

func (handlers *Handlers) ListReserveMovements(requestContext *gin.Context) {
	before, _ := strconv.ParseInt(requestContext.Query("before"), 10, 64)
	limit := queryLimit(requestContext)
	movements, err := handlers.service.ListReserveMovements(requestContext.Request.Context(), currentActor(requestContext), before, limit)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	payload := make([]gin.H, 0, len(movements))
	for _, movement := range movements {
		payload = append(payload, gin.H{
			"movement_id":    movement.ID,
			"kind":           movement.Kind.String(),
			"amount":         movement.Amount.StringFixed(2),
			"balance_before": movement.BalanceBefore.StringFixed(2),
			"balance_after":  movement.BalanceAfter.StringFixed(2),
			"description":    movement.Description,
			"created_at":     movement.CreatedUnixUTC,
		})
	}
	requestContext.JSON(http.StatusOK, gin.H{"movements": payload})
}

type reconcileRequest struct {
	CustomerID string `json:"customer_id" binding:"required"`
	StoreID    string `json:"store_id" binding:"required"`
	Apply      bool   `json:"apply"`
}

func (handlers *Handlers) Reconcile(requestContext *gin.Context) {
	var request reconcileRequest
	if err := requestContext.ShouldBindJSON(&request); err != nil {
		requestContext.JSON(http.StatusBadRequest, gin.H{"error": "validation", "reason": err.Error()})
		return
	}
	customerID, err := cashback.NewCustomerID(request.CustomerID)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	storeID, err := cashback.NewStoreID(request.StoreID)
	if err != nil {
		writeError(requestContext, err)
		return
	}
	report, err := handlers.service.ReconcileBalance(requestContext.Request.Context(), currentActor(requestContext), customerID, storeID, request.Apply)
	if err != nil && !errors.Is(err, cashback.ErrConsistencyAnomaly) {
		writeError(requestContext, err)
		return
	}
	requestContext.JSON(http.StatusOK, gin.H{
		"customer_id":        request.CustomerID,
		"store_id":           request.StoreID,
		"projected":          report.ProjectedAvail.StringFixed(2),
		"recomputed":         report.RecomputedAvail.StringFixed(2),
		"recomputed_credits": report.RecomputedCredits.StringFixed(2),
		"recomputed_uses":    report.RecomputedUses.StringFixed(2),
		"consistent":         report.Consistent,
		"corrected":          report.Corrected,
	})
}

func (handlers *Handlers) FastLaneAnomalies(requestContext *gin.Context) {
	storeID, err := cashback.NewStoreID(requestContext.Param("storeID"))
	if err != nil {
		writeError(requestContext, err)
		return
	}
	stuck, err := handlers.service.CheckFastLaneAnomalies(requestContext.Request.Context(), currentActor(requestContext), storeID)
	if err != nil && !errors.Is(err, cashback.ErrConsistencyAnomaly) {
		writeError(requestContext, err)
		return
	}
	payload := make([]gin.H, 0, len(stuck))
	for _, transaction := range stuck {
		payload = append(payload, transactionResponse(transaction))
	}
	requestContext.JSON(http.StatusOK, gin.H{"anomalous": len(stuck) > 0, "transactions": payload})
}

func pairParams(requestContext *gin.Context) (cashback.CustomerID, cashback.StoreID, bool) {
	storeID, err := cashback.NewStoreID(requestContext.Param("storeID"))
	if err != nil {
		writeError(requestContext, err)
		return cashback.CustomerID{}, cashback.StoreID{}, false
	}
	rawCustomer := requestContext.Query("customer_id")
	actor := currentActor(requestContext)
	if rawCustomer == "" && actor.Role == cashback.RoleCustomer {
		rawCustomer = actor.ID
	}
	customerID, err := cashback.NewCustomerID(rawCustomer)
	if err != nil {
		writeError(requestContext, err)
		return cashback.CustomerID{}, cashback.StoreID{}, false
	}
	return customerID, storeID, true
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, cashback.WrapError("http", "amount", "parse", cashback.ErrInvalidAmount)
	}
	return amount, nil
}

func queryLimit(requestContext *gin.Context) int {
	limit, err := strconv.Atoi(requestContext.Query("limit"))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func transactionResponse(transaction cashback.Transaction) gin.H {
	response := gin.H{
		"transaction_id": transaction.ID.String(),
		"customer_id":    transaction.CustomerID.String(),
		"store_id":       transaction.StoreID.String(),
		"gross_amount":   transaction.GrossAmount.StringFixed(2),
		"net_amount":     transaction.NetAmount.StringFixed(2),
		"balance_used":   transaction.BalanceUsed.StringFixed(2),
		"total_cashback": transaction.TotalCashback.StringFixed(2),
		"client_share":   transaction.ClientShare.StringFixed(2),
		"operator_share": transaction.OperatorShare.StringFixed(2),
		"store_share":    transaction.StoreShare.StringFixed(2),
		"external_code":  transaction.ExternalCode.String(),
		"status":         transaction.Status.String(),
		"description":    transaction.Description,
		"occurred_at":    transaction.OccurredUnix,
		"created_at":     transaction.CreatedUnixUTC,
	}
	if transaction.BatchID != nil {
		response["batch_id"] = transaction.BatchID.String()
	}
	return response
}

func movementResponse(movement cashback.Movement) gin.H {
	response := gin.H{
		"movement_id":    movement.ID,
		"kind":           movement.Kind.String(),
		"amount":         movement.Amount.StringFixed(2),
		"balance_before": movement.BalanceBefore.StringFixed(2),
		"balance_after":  movement.BalanceAfter.StringFixed(2),
		"description":    movement.Description,
		"created_at":     movement.CreatedUnixUTC,
	}
	if movement.OriginTransaction != nil {
		response["origin_transaction_id"] = movement.OriginTransaction.String()
	}
	if movement.ConsumedByTransact != nil {
		response["consumed_by_transaction_id"] = movement.ConsumedByTransact.String()
	}
	return response
}

func batchResponse(batch cashback.Batch) gin.H {
	transactionIDs := make([]string, 0, len(batch.TransactionIDs))
	for _, transactionID := range batch.TransactionIDs {
		transactionIDs = append(transactionIDs, transactionID.String())
	}
	return gin.H{
		"batch_id":        batch.ID.String(),
		"store_id":        batch.StoreID.String(),
		"declared_total":  batch.DeclaredTotal.StringFixed(2),
		"status":          batch.Status.String(),
		"method":          batch.Method,
		"reference":       batch.Reference,
		"note":            batch.Note,
		"transaction_ids": transactionIDs,
		"created_at":      batch.CreatedUnixUTC,
		"processed_at":    batch.ProcessedUnix,
	}
}

func settlementResponse(result cashback.SettlementResult) gin.H {
	credited := make([]string, 0, len(result.Credited))
	for _, transactionID := range result.Credited {
		credited = append(credited, transactionID.String())
	}
	failed := make([]gin.H, 0, len(result.Failed))
	for _, failure := range result.Failed {
		entry := gin.H{"error": failure.Err.Error()}
		if failure.TransactionID.String() != "" {
			entry["transaction_id"] = failure.TransactionID.String()
		}
		failed = append(failed, entry)
	}
	return gin.H{
		"batch_id": result.BatchID.String(),
		"status":   result.Status.String(),
		"credited": credited,
		"failed":   failed,
	}
}
