// Package remotelog defines the append/subscribe contract of the remote
// message log and ships two implementations: an embedded pebble-backed log
// for local operation and a websocket client for a hosted log.
//
// Delivery through Subscribe is at-least-once and order is not guaranteed;
// dedup and ordering are owned by the engine, not by this layer.
package remotelog

import (
	"context"

	"chatview/pkg/models"
)

// EventFunc receives one message, historical backlog and live alike.
type EventFunc func(ev models.RemoteEvent)

// Subscription is a cancellable feed attachment.
type Subscription interface {
	// Unsubscribe detaches the feed. Safe to call more than once.
	Unsubscribe()
}

// Log is the remote persistence collaborator.
type Log interface {
	// Subscribe attaches fn to the thread's feed: stored backlog first,
	// then live appends.
	Subscribe(ctx context.Context, thread models.ThreadRef, fn EventFunc) (Subscription, error)

	// Append persists ev using key as the storage key (client-chosen-key
	// strategy), so the echo observed through Subscribe carries an id
	// equal to the original correlation key.
	Append(ctx context.Context, thread models.ThreadRef, key string, ev models.RemoteEvent) error
}
