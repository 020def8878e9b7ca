// Package cache provides a small key-value cache used for schedule summaries.
package cache

import (
	"context"
	"time"
)

// Cache is the read-through cache consumed by the service layer.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
