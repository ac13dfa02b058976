// Package dedup rejects deliveries that were already processed.
package dedup

import (
	"context"
	"fmt"
)

// Store is the subset of the repository the filter reads.
type Store interface {
	MessageExistsByKey(ctx context.Context, key string) (bool, error)
	MessageExistsByFallback(ctx context.Context, channel, externalTS string, isBot bool) (bool, error)
}

// Filter checks whether a delivery matches a stored message.
//
// The check is advisory: it is not atomic with the later insert. The
// unique indexes on messages are the authoritative guard.
type Filter struct {
	store Store
}

// New creates a Filter.
func New(s Store) *Filter {
	return &Filter{store: s}
}

// IsDuplicate reports whether the delivery was already stored. A non-empty
// idempotencyKey is checked alone; otherwise (channel, externalTS, isBot)
// is used.
func (f *Filter) IsDuplicate(ctx context.Context, channel, externalTS, idempotencyKey string, isBot bool) (bool, error) {
	var (
		dup bool
		err error
	)
	if idempotencyKey != "" {
		dup, err = f.store.MessageExistsByKey(ctx, idempotencyKey)
	} else {
		dup, err = f.store.MessageExistsByFallback(ctx, channel, externalTS, isBot)
	}
	if err != nil {
		return false, fmt.Errorf("dedup: %w", err)
	}
	return dup, nil
}
