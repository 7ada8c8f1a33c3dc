// Package events delivers domain events to the notification collaborator
// after the emitting unit has committed. Delivery never blocks the ledger:
// a full queue drops the event and a failed notifier only logs.
package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/perqly/cashback/pkg/cashback"
)

const defaultQueueSize = 256

// Notifier consumes events (email, chat, webhooks). Implementations own
// their retry policy; errors are reported, never propagated.
type Notifier interface {
	Notify(ctx context.Context, event cashback.Event) error
}

// Dispatcher is a buffered asynchronous cashback.EventSink.
type Dispatcher struct {
	queue    chan cashback.Event
	notifier Notifier
	logger   *zap.Logger
	stopOnce sync.Once
	done     chan struct{}
}

// NewDispatcher wires a Dispatcher. A nil notifier is valid; events are then
// only logged.
func NewDispatcher(notifier Notifier, logger *zap.Logger, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		queue:    make(chan cashback.Event, queueSize),
		notifier: notifier,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Publish implements cashback.EventSink. It never blocks the caller.
func (dispatcher *Dispatcher) Publish(ctx context.Context, event cashback.Event) {
	select {
	case dispatcher.queue <- event:
	default:
		dispatcher.logger.Warn("event queue full, dropping event",
			zap.String("kind", string(event.Kind)),
			zap.String("transaction_id", event.TransactionID),
		)
	}
}

// Run consumes the queue until ctx is canceled, then drains what is buffered.
func (dispatcher *Dispatcher) Run(ctx context.Context) {
	defer dispatcher.stopOnce.Do(func() { close(dispatcher.done) })
	for {
		select {
		case event := <-dispatcher.queue:
			dispatcher.deliver(ctx, event)
		case <-ctx.Done():
			for {
				select {
				case event := <-dispatcher.queue:
					dispatcher.deliver(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run has returned.
func (dispatcher *Dispatcher) Done() <-chan struct{} {
	return dispatcher.done
}

func (dispatcher *Dispatcher) deliver(ctx context.Context, event cashback.Event) {
	fields := []zap.Field{
		zap.String("kind", string(event.Kind)),
		zap.String("customer_id", event.CustomerID),
		zap.String("store_id", event.StoreID),
		zap.String("transaction_id", event.TransactionID),
		zap.String("batch_id", event.BatchID),
		zap.String("amount", event.Amount.String()),
	}
	if dispatcher.notifier == nil {
		dispatcher.logger.Info("domain event", fields...)
		return
	}
	if err := dispatcher.notifier.Notify(ctx, event); err != nil {
		dispatcher.logger.Warn("notification delivery failed", append(fields, zap.Error(err))...)
		return
	}
	dispatcher.logger.Debug("domain event delivered", fields...)
}
