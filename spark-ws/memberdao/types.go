package memberdao

import "time"

// Member is one user's participation record within a spark. At most one
// record exists per (spark, user) pair; a rejoin updates the existing record.
type Member struct {
	SparkID     string    `dynamodbav:"pk" ddb:"hash" json:"sparkId"`
	UserID      string    `dynamodbav:"sk" ddb:"range" json:"userId"`
	Latitude    *float64  `dynamodbav:"latitude,omitempty" json:"latitude"`
	Longitude   *float64  `dynamodbav:"longitude,omitempty" json:"longitude"`
	LastSeen    time.Time `dynamodbav:"last_seen,unixtime" json:"lastSeen"`
	IsConnected bool      `dynamodbav:"is_connected" json:"isConnected"`
}

// HasPosition reports whether the member has reported a location yet.
func (m Member) HasPosition() bool {
	return m.Latitude != nil && m.Longitude != nil
}
