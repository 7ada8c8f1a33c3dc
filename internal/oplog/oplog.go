// Package oplog adapts the domain OperationLogger callback to zap.
package oplog

import (
	"context"

	"go.uber.org/zap"

	"github.com/perqly/cashback/pkg/cashback"
)

// ZapLogger writes one structured line per ledger operation.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger wires a ZapLogger.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: logger}
}

// LogOperation implements cashback.OperationLogger.
func (zapLogger *ZapLogger) LogOperation(ctx context.Context, entry cashback.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.CustomerID.String() != "" {
		fields = append(fields, zap.String("customer_id", entry.CustomerID.String()))
	}
	if entry.StoreID.String() != "" {
		fields = append(fields, zap.String("store_id", entry.StoreID.String()))
	}
	if entry.TransactionID.String() != "" {
		fields = append(fields, zap.String("transaction_id", entry.TransactionID.String()))
	}
	if entry.BatchID.String() != "" {
		fields = append(fields, zap.String("batch_id", entry.BatchID.String()))
	}
	if !entry.Amount.IsZero() {
		fields = append(fields, zap.String("amount", entry.Amount.String()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		zapLogger.logger.Warn("ledger operation failed", fields...)
		return
	}
	zapLogger.logger.Info("ledger operation", fields...)
}
