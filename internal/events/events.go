// Package events delivers packaging registry change events to subscribers.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/vyrodovalexey/reusepack/internal/model"
)

// Type identifies the kind of change.
type Type string

// Event types.
const (
	TypeCreated Type = "packaging.created"
	TypeUpdated Type = "packaging.updated"
	TypeDeleted Type = "packaging.deleted"
)

// Event records one successful registry mutation. For deletions Item
// carries the last known state.
type Event struct {
	Type      Type                `json:"type"`
	Item      model.PackagingItem `json:"item"`
	Timestamp time.Time           `json:"timestamp"`
}

// New creates an event stamped with the current time.
func New(t Type, item model.PackagingItem) Event {
	return Event{
		Type:      t,
		Item:      item,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, ...Event) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }

// MultiPublisher fans events out to several publishers.
type MultiPublisher struct {
	publishers []Publisher
}

// NewMultiPublisher creates a MultiPublisher. Nil publishers are skipped.
func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	m := &MultiPublisher{}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

// Publish sends events to every publisher, even when an earlier one fails.
func (m *MultiPublisher) Publish(ctx context.Context, events ...Event) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher.
func (m *MultiPublisher) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
