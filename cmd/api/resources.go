package main

import (
	"context"

	"go.uber.org/zap"
)

type closer struct {
	name  string
	close func(context.Context) error
}

// resources closes what run acquired, newest first.
type resources struct {
	closers []closer
}

func (r *resources) add(name string, fn func(context.Context) error) {
	r.closers = append(r.closers, closer{name: name, close: fn})
}

func (r *resources) release(logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseBudget)
	defer cancel()
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.close(ctx); err != nil {
			logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
		}
	}
	r.closers = nil
}
