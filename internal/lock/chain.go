package lock

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Chain acquires each locker in order and releases them in reverse.  A
// layer that reports ErrUnavailable is skipped with a warning; the layers
// that did succeed still serialize callers, and callers are expected to
// guard their writes independently of the lock.
type Chain struct {
	layers []Locker
	log    *zap.Logger
}

// NewChain returns a Chain over layers.
func NewChain(log *zap.Logger, layers ...Locker) *Chain {
	if log == nil {
		log = zap.NewNop()
	}
	return &Chain{layers: layers, log: log}
}

// Lock acquires every layer or none.
func (c *Chain) Lock(ctx context.Context, key string) (func(), error) {
	held := make([]func(), 0, len(c.layers))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}
	for _, l := range c.layers {
		release, err := l.Lock(ctx, key)
		if errors.Is(err, ErrUnavailable) {
			c.log.Warn("lock layer unavailable, continuing without it", zap.String("key", key), zap.Error(err))
			continue
		}
		if err != nil {
			releaseAll()
			return nil, err
		}
		held = append(held, release)
	}
	return releaseAll, nil
}
