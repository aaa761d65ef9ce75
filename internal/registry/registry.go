// Package registry provides the packaging item registry and its implementations.
package registry

import (
	"context"
	"errors"

	"github.com/vyrodovalexey/reusepack/internal/model"
)

// Registry errors.
var (
	ErrNotFound        = errors.New("packaging item not found")
	ErrAlreadyExists   = errors.New("packaging item already exists")
	ErrInvalidID       = errors.New("invalid packaging item ID")
	ErrInvalidQRCode   = errors.New("invalid QR code")
	ErrInvalidQuantity = errors.New("quantity cannot be negative")
	ErrBatchTooLarge   = errors.New("quantity exceeds the maximum batch size")
	ErrInvalidItem     = errors.New("invalid packaging item")
	ErrImmutableField  = errors.New("id and qrCode cannot be changed")
	ErrNilPatch        = errors.New("patch cannot be nil")
)

// Registry defines the packaging item registry operations.
type Registry interface {
	// List returns every item in creation order.
	List(ctx context.Context) ([]model.PackagingItem, error)

	// GetByStoreID returns the items owned by a store in creation order.
	GetByStoreID(ctx context.Context, storeID string) ([]model.PackagingItem, error)

	// GetByID returns the item with the given id or ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.PackagingItem, error)

	// GetByQRCode returns the item with the given QR code or ErrNotFound.
	GetByQRCode(ctx context.Context, qrCode string) (*model.PackagingItem, error)

	// CreateMultiple creates quantity items sharing itemType and spec.
	CreateMultiple(
		ctx context.Context,
		itemType string,
		quantity int,
		spec model.BatchSpec,
	) ([]model.PackagingItem, error)

	// Update merges patch over the item with the given id.
	Update(ctx context.Context, id string, patch *model.Patch) (*model.PackagingItem, error)

	// Delete removes the item with the given id.
	Delete(ctx context.Context, id string) error

	// Stats summarises the registry contents.
	Stats(ctx context.Context) (model.Stats, error)
}
