package registry

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/vyrodovalexey/reusepack/internal/idgen"
	"github.com/vyrodovalexey/reusepack/internal/model"
)

// DefaultMaxBatchSize caps CreateMultiple unless overridden.
const DefaultMaxBatchSize = 500

// entry is a stored item plus its creation sequence number.
type entry struct {
	item model.PackagingItem
	seq  uint64
}

// MemoryRegistry implements Registry with in-memory storage. Items are
// keyed by id, with secondary indexes by QR code and by store.
type MemoryRegistry struct {
	mu      sync.RWMutex
	items   map[string]*entry
	byQR    map[string]string
	byStore map[string]map[string]struct{}
	seq     uint64

	gen      idgen.Generator
	maxBatch int
	now      func() time.Time
}

// Option configures a MemoryRegistry.
type Option func(*MemoryRegistry)

// WithMaxBatchSize sets the upper bound for CreateMultiple.
func WithMaxBatchSize(n int) Option {
	return func(r *MemoryRegistry) {
		if n > 0 {
			r.maxBatch = n
		}
	}
}

// WithClock replaces the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *MemoryRegistry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewMemoryRegistry creates an empty MemoryRegistry using gen for new
// identifiers. A nil gen falls back to a UUID generator.
func NewMemoryRegistry(gen idgen.Generator, opts ...Option) *MemoryRegistry {
	if gen == nil {
		gen = idgen.NewUUIDGenerator("")
	}

	r := &MemoryRegistry{
		items:    make(map[string]*entry),
		byQR:     make(map[string]string),
		byStore:  make(map[string]map[string]struct{}),
		gen:      gen,
		maxBatch: DefaultMaxBatchSize,
		now:      func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// List returns all items in creation order.
func (r *MemoryRegistry) List(ctx context.Context) ([]model.PackagingItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*entry, 0, len(r.items))
	for _, e := range r.items {
		entries = append(entries, e)
	}

	return sortedItems(entries), nil
}

// GetByStoreID returns the items whose StoreID equals storeID.
func (r *MemoryRegistry) GetByStoreID(ctx context.Context, storeID string) ([]model.PackagingItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("get items by store: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byStore[storeID]
	entries := make([]*entry, 0, len(ids))
	for id := range ids {
		entries = append(entries, r.items[id])
	}

	return sortedItems(entries), nil
}

// GetByID retrieves an item by its ID.
func (r *MemoryRegistry) GetByID(ctx context.Context, id string) (*model.PackagingItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}

	if id == "" {
		return nil, ErrInvalidID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.items[id]
	if !exists {
		return nil, ErrNotFound
	}

	item := e.item.Clone()
	return &item, nil
}

// GetByQRCode retrieves an item by its QR code.
func (r *MemoryRegistry) GetByQRCode(ctx context.Context, qrCode string) (*model.PackagingItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("get item by qr code: %w", err)
	}

	if qrCode == "" {
		return nil, ErrInvalidQRCode
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byQR[qrCode]
	if !exists {
		return nil, ErrNotFound
	}

	item := r.items[id].item.Clone()
	return &item, nil
}

// CreateMultiple creates quantity items of itemType sharing spec. The batch
// is all-or-nothing.
func (r *MemoryRegistry) CreateMultiple(
	ctx context.Context,
	itemType string,
	quantity int,
	spec model.BatchSpec,
) ([]model.PackagingItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("create items: %w", err)
	}

	if quantity < 0 {
		return nil, ErrInvalidQuantity
	}

	if quantity > r.maxBatch {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, quantity, r.maxBatch)
	}

	if itemType == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidItem, model.ErrEmptyType)
	}

	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidItem, err)
	}

	if quantity == 0 {
		return []model.PackagingItem{}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	batch := make([]model.PackagingItem, 0, quantity)
	seenIDs := make(map[string]struct{}, quantity)
	seenQRs := make(map[string]struct{}, quantity)

	for i := 0; i < quantity; i++ {
		id, qr := r.gen.NewID(), r.gen.NewQRCode()
		if err := r.checkFree(id, qr, seenIDs, seenQRs); err != nil {
			return nil, err
		}
		seenIDs[id] = struct{}{}
		seenQRs[qr] = struct{}{}

		batch = append(batch, spec.NewItem(id, qr, itemType, now))
	}

	created := make([]model.PackagingItem, 0, quantity)
	for _, item := range batch {
		r.insert(item)
		created = append(created, item.Clone())
	}

	return created, nil
}

// Update merges patch over an existing item.
func (r *MemoryRegistry) Update(ctx context.Context, id string, patch *model.Patch) (*model.PackagingItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}

	if id == "" {
		return nil, ErrInvalidID
	}

	if patch == nil {
		return nil, fmt.Errorf("update item: %w", ErrNilPatch)
	}

	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidItem, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.items[id]
	if !exists {
		return nil, ErrNotFound
	}

	if patch.ChangesIdentity(e.item) {
		return nil, ErrImmutableField
	}

	updated := patch.Apply(e.item)
	updated.UpdatedAt = r.now()

	if updated.StoreID != e.item.StoreID {
		r.unindexStore(e.item.StoreID, id)
		r.indexStore(updated.StoreID, id)
	}
	e.item = updated

	item := updated.Clone()
	return &item, nil
}

// Delete removes an item from the registry by its ID.
func (r *MemoryRegistry) Delete(ctx context.Context, id string) error {
	_, err := r.remove(ctx, id)
	return err
}

// remove deletes an item and returns its state at the moment of removal.
func (r *MemoryRegistry) remove(ctx context.Context, id string) (*model.PackagingItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("delete item: %w", err)
	}

	if id == "" {
		return nil, ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.items[id]
	if !exists {
		return nil, ErrNotFound
	}

	delete(r.items, id)
	delete(r.byQR, e.item.QRCode)
	r.unindexStore(e.item.StoreID, id)

	item := e.item.Clone()
	return &item, nil
}

// Stats counts items in total, per status and per store.
func (r *MemoryRegistry) Stats(ctx context.Context) (model.Stats, error) {
	if err := ctx.Err(); err != nil {
		return model.Stats{}, fmt.Errorf("stats: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := model.Stats{
		Total:    len(r.items),
		ByStatus: make(map[model.Status]int, len(model.Statuses)),
		ByStore:  make(map[string]int, len(r.byStore)),
	}
	for _, s := range model.Statuses {
		stats.ByStatus[s] = 0
	}
	for _, e := range r.items {
		stats.ByStatus[e.item.Status]++
	}
	for storeID, ids := range r.byStore {
		stats.ByStore[storeID] = len(ids)
	}

	return stats, nil
}

// checkFree reports ErrAlreadyExists when id is taken among ids or qr among
// QR codes, stored or earlier in the batch. Caller holds mu.
func (r *MemoryRegistry) checkFree(id, qr string, batchIDs, batchQRs map[string]struct{}) error {
	_, stored := r.items[id]
	_, inBatch := batchIDs[id]
	if stored || inBatch {
		return fmt.Errorf("%w: id %s", ErrAlreadyExists, id)
	}

	_, stored = r.byQR[qr]
	_, inBatch = batchQRs[qr]
	if stored || inBatch {
		return fmt.Errorf("%w: qr code %s", ErrAlreadyExists, qr)
	}
	return nil
}

// insert stores item and updates the indexes. Caller holds mu.
func (r *MemoryRegistry) insert(item model.PackagingItem) {
	r.seq++
	r.items[item.ID] = &entry{item: item, seq: r.seq}
	r.byQR[item.QRCode] = item.ID
	r.indexStore(item.StoreID, item.ID)
}

func (r *MemoryRegistry) indexStore(storeID, id string) {
	ids, ok := r.byStore[storeID]
	if !ok {
		ids = make(map[string]struct{})
		r.byStore[storeID] = ids
	}
	ids[id] = struct{}{}
}

func (r *MemoryRegistry) unindexStore(storeID, id string) {
	ids := r.byStore[storeID]
	delete(ids, id)
	if len(ids) == 0 {
		delete(r.byStore, storeID)
	}
}

// sortedItems returns copies of the entries ordered by creation.
func sortedItems(entries []*entry) []model.PackagingItem {
	slices.SortFunc(entries, func(a, b *entry) int {
		return cmp.Compare(a.seq, b.seq)
	})

	items := make([]model.PackagingItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, e.item.Clone())
	}
	return items
}
