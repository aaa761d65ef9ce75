// Package model defines data structures used throughout the application.
package model

import (
	"errors"
	"time"
)

// Validation errors for packaging items.
var (
	ErrEmptyType         = errors.New("type cannot be empty")
	ErrEmptyStoreID      = errors.New("storeId cannot be empty")
	ErrInvalidStatus     = errors.New("status must be one of: available, borrowed, overdue, washing, retired")
	ErrInvalidCondition  = errors.New("condition must be one of: good, damaged, retired")
	ErrNegativeMaxReuses = errors.New("maxReuses cannot be negative")
	ErrNegativeReuses    = errors.New("currentReuses cannot be negative")
	ErrFieldTooLong      = errors.New("field cannot exceed 255 characters")
)

// MaxFieldLength bounds the free-form string attributes.
const MaxFieldLength = 255

// Status is the lifecycle state of a packaging item.
type Status string

// Packaging item statuses.
const (
	StatusAvailable Status = "available"
	StatusBorrowed  Status = "borrowed"
	StatusOverdue   Status = "overdue"
	StatusWashing   Status = "washing"
	StatusRetired   Status = "retired"
)

// Statuses lists every valid Status in display order.
var Statuses = []Status{
	StatusAvailable,
	StatusBorrowed,
	StatusOverdue,
	StatusWashing,
	StatusRetired,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusBorrowed, StatusOverdue, StatusWashing, StatusRetired:
		return true
	}
	return false
}

// Condition is the physical condition of a packaging item.
type Condition string

// Packaging item conditions.
const (
	ConditionGood    Condition = "good"
	ConditionDamaged Condition = "damaged"
	ConditionRetired Condition = "retired"
)

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	switch c {
	case ConditionGood, ConditionDamaged, ConditionRetired:
		return true
	}
	return false
}

// PackagingItem is one physical reusable packaging unit in circulation.
type PackagingItem struct {
	ID            string    `json:"id"`
	QRCode        string    `json:"qrCode"`
	Type          string    `json:"type"`
	Size          string    `json:"size"`
	Material      string    `json:"material"`
	Status        Status    `json:"status"`
	StoreID       string    `json:"storeId"`
	Condition     Condition `json:"condition"`
	MaxReuses     *int      `json:"maxReuses,omitempty"`
	CurrentReuses *int      `json:"currentReuses,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the item.
func (p PackagingItem) Clone() PackagingItem {
	p.MaxReuses = cloneInt(p.MaxReuses)
	p.CurrentReuses = cloneInt(p.CurrentReuses)
	return p
}

// BatchSpec holds the attributes shared by every item of a bulk creation.
type BatchSpec struct {
	Size          string    `json:"size"`
	Material      string    `json:"material"`
	Status        Status    `json:"status"`
	StoreID       string    `json:"storeId"`
	Condition     Condition `json:"condition"`
	MaxReuses     *int      `json:"maxReuses,omitempty"`
	CurrentReuses *int      `json:"currentReuses,omitempty"`
}

// Validate checks if the BatchSpec has valid field values.
func (b *BatchSpec) Validate() error {
	if b.StoreID == "" {
		return ErrEmptyStoreID
	}

	if tooLong(b.StoreID, b.Size, b.Material) {
		return ErrFieldTooLong
	}

	if !b.Status.Valid() {
		return ErrInvalidStatus
	}

	if !b.Condition.Valid() {
		return ErrInvalidCondition
	}

	return validateReuses(b.MaxReuses, b.CurrentReuses)
}

// NewItem builds an item of the given type from the batch fields. Pointer fields
// are copied so items of one batch never share state.
func (b *BatchSpec) NewItem(id, qrCode, itemType string, now time.Time) PackagingItem {
	return PackagingItem{
		ID:            id,
		QRCode:        qrCode,
		Type:          itemType,
		Size:          b.Size,
		Material:      b.Material,
		Status:        b.Status,
		StoreID:       b.StoreID,
		Condition:     b.Condition,
		MaxReuses:     cloneInt(b.MaxReuses),
		CurrentReuses: cloneInt(b.CurrentReuses),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Patch is a partial update. Nil fields are left untouched.
//
// ID and QRCode are immutable; they are decoded only so an attempt to
// change them can be detected and rejected.
type Patch struct {
	ID            *string    `json:"id,omitempty"`
	QRCode        *string    `json:"qrCode,omitempty"`
	Type          *string    `json:"type,omitempty"`
	Size          *string    `json:"size,omitempty"`
	Material      *string    `json:"material,omitempty"`
	Status        *Status    `json:"status,omitempty"`
	StoreID       *string    `json:"storeId,omitempty"`
	Condition     *Condition `json:"condition,omitempty"`
	MaxReuses     *int       `json:"maxReuses,omitempty"`
	CurrentReuses *int       `json:"currentReuses,omitempty"`
}

// Validate checks the values present in the patch.
func (p *Patch) Validate() error {
	if p.Type != nil && *p.Type == "" {
		return ErrEmptyType
	}

	if p.StoreID != nil && *p.StoreID == "" {
		return ErrEmptyStoreID
	}

	if tooLong(deref(p.Type), deref(p.Size), deref(p.Material), deref(p.StoreID)) {
		return ErrFieldTooLong
	}

	if p.Status != nil && !p.Status.Valid() {
		return ErrInvalidStatus
	}

	if p.Condition != nil && !p.Condition.Valid() {
		return ErrInvalidCondition
	}

	return validateReuses(p.MaxReuses, p.CurrentReuses)
}

// ChangesIdentity reports whether the patch tries to replace the id or
// QR code of item with a different value.
func (p *Patch) ChangesIdentity(item PackagingItem) bool {
	if p.ID != nil && *p.ID != item.ID {
		return true
	}
	return p.QRCode != nil && *p.QRCode != item.QRCode
}

// Apply overlays the patch on item and returns the result. Item itself is
// not modified.
func (p *Patch) Apply(item PackagingItem) PackagingItem {
	out := item.Clone()

	if p.Type != nil {
		out.Type = *p.Type
	}
	if p.Size != nil {
		out.Size = *p.Size
	}
	if p.Material != nil {
		out.Material = *p.Material
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.StoreID != nil {
		out.StoreID = *p.StoreID
	}
	if p.Condition != nil {
		out.Condition = *p.Condition
	}
	if p.MaxReuses != nil {
		out.MaxReuses = cloneInt(p.MaxReuses)
	}
	if p.CurrentReuses != nil {
		out.CurrentReuses = cloneInt(p.CurrentReuses)
	}

	return out
}

func validateReuses(maxReuses, currentReuses *int) error {
	if maxReuses != nil && *maxReuses < 0 {
		return ErrNegativeMaxReuses
	}
	if currentReuses != nil && *currentReuses < 0 {
		return ErrNegativeReuses
	}
	return nil
}

func tooLong(values ...string) bool {
	for _, v := range values {
		if len(v) > MaxFieldLength {
			return true
		}
	}
	return false
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
