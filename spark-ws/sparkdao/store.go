package sparkdao

import (
	"context"
	"time"
)

// Store is the session store contract shared by the coordinator, the REST
// surface, and the sweeper. Persistence technology is an implementation
// detail behind it.
type Store interface {
	// Put stores a spark record, overwriting any existing record.
	Put(ctx context.Context, spark Spark) error

	// Spark retrieves a spark by id. The second return is false if no
	// record exists.
	Spark(ctx context.Context, id string) (Spark, bool, error)

	// SetActivity flips the spark's soft on/off switch. Missing sparks are
	// a no-op.
	SetActivity(ctx context.Context, id string, active bool) error

	// DeleteExpired removes every spark whose ExpiresAt has passed and
	// returns the number removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
