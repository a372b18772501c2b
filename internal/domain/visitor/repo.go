package visitor

import "context"

// Repository stores page visits. Insert reports false when the visitor
// already has a record for that date and path.
type Repository interface {
	Insert(ctx context.Context, v *Visit) (bool, error)
	CountUnique(ctx context.Context) (int, error)
	CountUniqueOn(ctx context.Context, date string) (int, error)
	DailyUnique(ctx context.Context, from, to string) ([]DailyCount, error)
}

// Deduper answers whether a key is new, remembering it for a while.
// Forget drops a key so the next FirstSeen reports it as new again.
type Deduper interface {
	FirstSeen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}
