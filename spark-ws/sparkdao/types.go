package sparkdao

import "time"

// Spark is an ephemeral rendezvous session shared by a small group of users.
type Spark struct {
	ID         string    `dynamodbav:"pk" ddb:"hash" json:"id"`
	FlashColor string    `dynamodbav:"flash_color" json:"flashColor"`
	CreatedAt  time.Time `dynamodbav:"created_at,unixtime" json:"createdAt"`
	ExpiresAt  time.Time `dynamodbav:"expires_at,unixtime" json:"expiresAt"`
	IsActive   bool      `dynamodbav:"is_active" json:"isActive"`
}

// Expired reports whether the spark's lifetime has passed at the given instant.
func (s Spark) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
