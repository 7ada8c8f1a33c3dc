package httpserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/perqly/cashback/pkg/cashback"
)

// writeError maps domain errors onto HTTP statuses with a stable error kind,
// the same discipline the ledger applies everywhere: the caller always learns
// which failure occurred and why.
func writeError(requestContext *gin.Context, err error) {
	status := http.StatusInternalServerError
	kind := "internal"
	switch {
	case errors.Is(err, cashback.ErrUnauthorized):
		status, kind = http.StatusForbidden, "unauthorized"
	case errors.Is(err, cashback.ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, cashback.ErrDuplicateTransaction):
		status, kind = http.StatusConflict, "duplicate_transaction"
	case errors.Is(err, cashback.ErrAlreadyProcessed):
		status, kind = http.StatusConflict, "already_processed"
	case errors.Is(err, cashback.ErrInsufficientBalance):
		status, kind = http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, cashback.ErrConsistencyAnomaly):
		status, kind = http.StatusConflict, "consistency_anomaly"
	case errors.Is(err, cashback.ErrValidation),
		errors.Is(err, cashback.ErrInvalidCustomerID),
		errors.Is(err, cashback.ErrInvalidStoreID),
		errors.Is(err, cashback.ErrInvalidBatchID),
		errors.Is(err, cashback.ErrInvalidTransactionID),
		errors.Is(err, cashback.ErrInvalidExternalCode),
		errors.Is(err, cashback.ErrInvalidAmount):
		status, kind = http.StatusBadRequest, "validation"
	}
	requestContext.JSON(status, gin.H{"error": kind, "reason": err.Error()})
}
