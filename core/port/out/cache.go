package out

import (
	"context"
	"time"
)

// ContentCache is a short-TTL cache in front of the body repository and
// the live provider. Misses are cheap; errors are treated as misses.
type ContentCache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
