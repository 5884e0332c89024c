package interfaces

import (
	"context"
	"time"
)

// MarkStore persists last-seen watermarks between bridge runs.
// Load reports ok=false when no mark exists or the stored value is unreadable.
type MarkStore interface {
	Load(ctx context.Context, key string) (mark time.Time, ok bool, err error)
	Save(ctx context.Context, key string, mark time.Time) error
}
