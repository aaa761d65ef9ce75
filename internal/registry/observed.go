package registry

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/reusepack/internal/events"
	"github.com/vyrodovalexey/reusepack/internal/metrics"
	"github.com/vyrodovalexey/reusepack/internal/model"
)

// ObservedRegistry wraps a Registry and, after every successful mutation,
// publishes change events and refreshes the registry metrics. Publishing
// failures are logged and never fail the mutation.
type ObservedRegistry struct {
	next      Registry
	publisher events.Publisher
	logger    *zap.Logger
}

// NewObservedRegistry creates an ObservedRegistry around next.
func NewObservedRegistry(next Registry, publisher events.Publisher, logger *zap.Logger) *ObservedRegistry {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &ObservedRegistry{
		next:      next,
		publisher: publisher,
		logger:    logger,
	}
}

// List implements Registry.
func (o *ObservedRegistry) List(ctx context.Context) ([]model.PackagingItem, error) {
	items, err := o.next.List(ctx)
	o.countError("list", err)
	return items, err
}

// GetByStoreID implements Registry.
func (o *ObservedRegistry) GetByStoreID(ctx context.Context, storeID string) ([]model.PackagingItem, error) {
	items, err := o.next.GetByStoreID(ctx, storeID)
	o.countError("get_by_store", err)
	return items, err
}

// GetByID implements Registry.
func (o *ObservedRegistry) GetByID(ctx context.Context, id string) (*model.PackagingItem, error) {
	item, err := o.next.GetByID(ctx, id)
	o.countError("get_by_id", err)
	return item, err
}

// GetByQRCode implements Registry.
func (o *ObservedRegistry) GetByQRCode(ctx context.Context, qrCode string) (*model.PackagingItem, error) {
	item, err := o.next.GetByQRCode(ctx, qrCode)
	o.countError("get_by_qr", err)
	return item, err
}

// CreateMultiple implements Registry.
func (o *ObservedRegistry) CreateMultiple(
	ctx context.Context,
	itemType string,
	quantity int,
	spec model.BatchSpec,
) ([]model.PackagingItem, error) {
	items, err := o.next.CreateMultiple(ctx, itemType, quantity, spec)
	if err != nil {
		o.countError("create", err)
		return nil, err
	}

	if len(items) == 0 {
		return items, nil
	}

	metrics.ItemsCreatedTotal.Add(float64(len(items)))
	o.logger.Info("packaging items created",
		zap.String("type", itemType),
		zap.String("store_id", spec.StoreID),
		zap.Int("quantity", len(items)),
	)

	evs := make([]events.Event, 0, len(items))
	for _, item := range items {
		evs = append(evs, events.New(events.TypeCreated, item))
	}
	o.publish(ctx, evs...)

	return items, nil
}

// Update implements Registry.
func (o *ObservedRegistry) Update(ctx context.Context, id string, patch *model.Patch) (*model.PackagingItem, error) {
	item, err := o.next.Update(ctx, id, patch)
	if err != nil {
		o.countError("update", err)
		return nil, err
	}

	metrics.ItemsUpdatedTotal.Inc()
	o.logger.Debug("packaging item updated",
		zap.String("id", item.ID),
		zap.String("status", string(item.Status)),
	)
	o.publish(ctx, events.New(events.TypeUpdated, *item))

	return item, nil
}

// remover is implemented by registries that can report the state of the
// item they removed in the same critical section.
type remover interface {
	remove(ctx context.Context, id string) (*model.PackagingItem, error)
}

// Delete implements Registry. The deletion event carries the item's state
// at removal when next is a remover, and a prior lookup otherwise.
func (o *ObservedRegistry) Delete(ctx context.Context, id string) error {
	last, err := o.delete(ctx, id)
	if err != nil {
		o.countError("delete", err)
		return err
	}

	metrics.ItemsDeletedTotal.Inc()
	o.logger.Debug("packaging item deleted", zap.String("id", id))

	gone := model.PackagingItem{ID: id}
	if last != nil {
		gone = *last
	}
	o.publish(ctx, events.New(events.TypeDeleted, gone))

	return nil
}

func (o *ObservedRegistry) delete(ctx context.Context, id string) (*model.PackagingItem, error) {
	if rm, ok := o.next.(remover); ok {
		return rm.remove(ctx, id)
	}

	last, _ := o.next.GetByID(ctx, id)
	if err := o.next.Delete(ctx, id); err != nil {
		return nil, err
	}
	return last, nil
}

// Stats implements Registry.
func (o *ObservedRegistry) Stats(ctx context.Context) (model.Stats, error) {
	stats, err := o.next.Stats(ctx)
	o.countError("stats", err)
	return stats, err
}

// publish delivers evs and refreshes the per-status gauge. The mutation is
// already committed, so cancellation of ctx is ignored.
func (o *ObservedRegistry) publish(ctx context.Context, evs ...events.Event) {
	ctx = context.WithoutCancel(ctx)

	if err := o.publisher.Publish(ctx, evs...); err != nil {
		o.logger.Warn("failed to publish change events",
			zap.Int("count", len(evs)),
			zap.Error(err),
		)
	}

	o.refreshGauge(ctx)
}

func (o *ObservedRegistry) refreshGauge(ctx context.Context) {
	stats, err := o.next.Stats(ctx)
	if err != nil {
		return
	}
	for status, n := range stats.ByStatus {
		metrics.Items.WithLabelValues(string(status)).Set(float64(n))
	}
}

// countError records failures. A missing item is an answer, not a failure.
func (o *ObservedRegistry) countError(operation string, err error) {
	if err == nil || errors.Is(err, ErrNotFound) {
		return
	}
	metrics.RegistryErrorsTotal.WithLabelValues(operation).Inc()
}
