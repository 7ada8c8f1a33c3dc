package cashback

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Service contains the ledger and settlement logic over a Store. It is the
// sole writer of transaction, commission, balance, and reserve state.
type Service struct {
	store    Store
	registry Registry
	nowFn    func() int64
	idFn     func() string
	logger   OperationLogger
	events   EventSink
}

// NewService wires a Service.
func NewService(store Store, registry Registry, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: registry dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, registry: registry, nowFn: now, idFn: uuid.NewString}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// WithIDGenerator overrides transaction/batch id generation (tests).
func WithIDGenerator(idFn func() string) ServiceOption {
	return func(service *Service) {
		if idFn != nil {
			service.idFn = idFn
		}
	}
}

// requireRole is the single capability check at every core entry point.
func requireRole(actor Actor, allowed ...Role) error {
	for _, role := range allowed {
		if actor.Role == role {
			return nil
		}
	}
	return WrapError("auth", "actor", "role", fmt.Errorf("%w: role %q", ErrUnauthorized, actor.Role))
}

// requireStoreSelf restricts store actors to their own store id.
func requireStoreSelf(actor Actor, storeID StoreID) error {
	if actor.Role == RoleStore && actor.ID != storeID.String() {
		return WrapError("auth", "actor", "store_scope", fmt.Errorf("%w: store %q acting for %q", ErrUnauthorized, actor.ID, storeID))
	}
	return nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

// emit publishes a domain event strictly after the mutating unit committed.
func (service *Service) emit(ctx context.Context, event Event) {
	if service.events == nil {
		return
	}
	service.events.Publish(ctx, event)
}
