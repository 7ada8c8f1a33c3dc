package cashback

import "github.com/shopspring/decimal"

const (
	operationRegister    = "register"
	operationCredit      = "credit"
	operationUse         = "use"
	operationReversal    = "reversal"
	operationCreateBatch = "create_batch"
	operationApprove     = "approve_batch"
	operationReject      = "reject_batch"
	operationRetryCredit = "retry_credits"
	operationReserve     = "reserve"
	operationReconcile   = "reconcile"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	moneyScale = 2

	defaultListLimit = 50
	maxListLimit     = 200
)

func clampListLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

var (
	oneHundred = decimal.NewFromInt(100)

	// declaredTotalTolerance absorbs client-side rounding on batch totals.
	declaredTotalTolerance = decimal.New(5, -3)
)
