// Package watch follows a vault chain as new records are appended.
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/sevai/pkg/vault"
)

// DefaultInterval is how often Follow checks the chain head.
const DefaultInterval = 500 * time.Millisecond

// Follow calls fn for every record of kind with an id above afterID, in id
// order, until ctx is cancelled or fn returns an error. The chain head is
// polled every interval and the chain is only scanned when it has grown.
// Cancellation returns nil.
func Follow(ctx context.Context, v *vault.Vault, kind vault.Kind, afterID int64, interval time.Duration, fn func(vault.Entry) error) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := afterID
	for {
		head, err := v.Store().Head(ctx, kind)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read %s head: %w", kind, err)
		}

		if head.LastID > last {
			entries, err := v.List(ctx, kind, vault.ListOptions{AfterID: last})
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			for _, e := range entries {
				if err := fn(e); err != nil {
					return err
				}
				last = e.ID
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Latest returns the id of the newest record of kind, or 0 for an empty
// chain. Follow from Latest to see only records appended from now on.
func Latest(ctx context.Context, v *vault.Vault, kind vault.Kind) (int64, error) {
	head, err := v.Store().Head(ctx, kind)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s head: %w", kind, err)
	}
	return head.LastID, nil
}
