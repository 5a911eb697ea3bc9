// Package events delivers committed marketplace events to subscribers
package events

import (
	"context"
	"errors"

	"github.com/satonic/nftledger/internal/models"
)

// Publisher receives marketplace events
type Publisher interface {
	Publish(ctx context.Context, e models.Event) error
}

// Multi fans an event out to several publishers. Every publisher is tried;
// failures are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e models.Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
