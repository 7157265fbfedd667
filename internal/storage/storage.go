package storage

import (
	"context"

	"ammscope/internal/model"
)

// Tape records accepted price updates outside the in-memory display.
type Tape interface {
	Publish(ctx context.Context, update model.PriceUpdate) error
	Close() error
}
