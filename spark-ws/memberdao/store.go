package memberdao

import (
	"context"
	"time"
)

// Store is the membership store contract. All mutations refresh the
// member's LastSeen timestamp.
type Store interface {
	// Put upserts a member record keyed by (SparkID, UserID).
	Put(ctx context.Context, member Member) error

	// Member retrieves the record for a (spark, user) pair. The second
	// return is false if no record exists.
	Member(ctx context.Context, sparkID, userID string) (Member, bool, error)

	// BySpark returns the currently connected members of a spark.
	BySpark(ctx context.Context, sparkID string) ([]Member, error)

	// UpdateLocation sets the member's position. Missing members are a
	// no-op.
	UpdateLocation(ctx context.Context, sparkID, userID string, latitude, longitude float64) error

	// UpdateStatus sets the member's connected flag. Missing members are a
	// no-op.
	UpdateStatus(ctx context.Context, sparkID, userID string, connected bool) error

	// DeleteStale removes every member whose LastSeen is older than the
	// cutoff, connected or not, and returns the number removed.
	DeleteStale(ctx context.Context, olderThan time.Time) (int, error)
}
