package memberdao

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
)

// DAO provides access to the spark members table.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

var _ Store = (*DAO)(nil)

// New creates a new members DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, Member{}),
		api:       api,
		tableName: tableName,
	}
}

// Put upserts a member record.
func (d *DAO) Put(ctx context.Context, member Member) error {
	if err := d.table.Put(member).RunWithContext(ctx); err != nil {
		return fmt.Errorf("failed to put member %v of spark %v: %w", member.UserID, member.SparkID, err)
	}
	return nil
}

// Member retrieves the record for a (spark, user) pair.
func (d *DAO) Member(ctx context.Context, sparkID, userID string) (Member, bool, error) {
	var member Member
	if err := d.table.Get(sparkID).Range(userID).ScanWithContext(ctx, &member); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return Member{}, false, nil
		}
		return Member{}, false, fmt.Errorf("failed to get member %v of spark %v: %w", userID, sparkID, err)
	}
	return member, true, nil
}

// BySpark returns the currently connected members of a spark.
func (d *DAO) BySpark(ctx context.Context, sparkID string) ([]Member, error) {
	var all []Member
	err := d.table.Query("#SparkID = ?", sparkID).
		FindAllWithContext(ctx, &all)
	if err != nil {
		return nil, fmt.Errorf("failed to query members of spark %v: %w", sparkID, err)
	}

	var connected []Member
	for _, m := range all {
		if m.IsConnected {
			connected = append(connected, m)
		}
	}
	return connected, nil
}

// UpdateLocation sets the member's position and refreshes LastSeen.
func (d *DAO) UpdateLocation(ctx context.Context, sparkID, userID string, latitude, longitude float64) error {
	member, ok, err := d.Member(ctx, sparkID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	member.Latitude = &latitude
	member.Longitude = &longitude
	member.LastSeen = time.Now()
	return d.Put(ctx, member)
}

// UpdateStatus sets the member's connected flag and refreshes LastSeen.
func (d *DAO) UpdateStatus(ctx context.Context, sparkID, userID string, connected bool) error {
	member, ok, err := d.Member(ctx, sparkID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	member.IsConnected = connected
	member.LastSeen = time.Now()
	return d.Put(ctx, member)
}

// DeleteStale scans for members not seen since the cutoff and removes them
// in batches.
func (d *DAO) DeleteStale(ctx context.Context, olderThan time.Time) (int, error) {
	type memberKey struct {
		sparkID string
		userID  string
	}

	var keys []memberKey
	input := &dynamodb.ScanInput{
		TableName:            aws.String(d.tableName),
		FilterExpression:     aws.String("last_seen < :cutoff"),
		ProjectionExpression: aws.String("pk, sk"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":cutoff": {N: aws.String(fmt.Sprintf("%v", olderThan.Unix()))},
		},
	}
	err := d.api.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, _ bool) bool {
		for _, item := range page.Items {
			pk, sk := item["pk"], item["sk"]
			if pk != nil && pk.S != nil && sk != nil && sk.S != nil {
				keys = append(keys, memberKey{sparkID: *pk.S, userID: *sk.S})
			}
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan for stale members: %w", err)
	}

	// Batch delete in chunks of 25 (DynamoDB limit)
	const batchSize = 25
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[i:end]

		writeRequests := make([]*dynamodb.WriteRequest, len(chunk))
		for j, k := range chunk {
			key, err := dynamodbattribute.MarshalMap(map[string]string{"pk": k.sparkID, "sk": k.userID})
			if err != nil {
				return 0, fmt.Errorf("failed to marshal key for member %v of spark %v: %w", k.userID, k.sparkID, err)
			}
			writeRequests[j] = &dynamodb.WriteRequest{
				DeleteRequest: &dynamodb.DeleteRequest{Key: key},
			}
		}

		unprocessed := map[string][]*dynamodb.WriteRequest{
			d.tableName: writeRequests,
		}

		const maxRetries = 5
		for attempt := 0; attempt < maxRetries; attempt++ {
			output, err := d.api.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: unprocessed,
			})
			if err != nil {
				return 0, fmt.Errorf("failed to batch delete stale members: %w", err)
			}
			if len(output.UnprocessedItems) == 0 {
				break
			}
			unprocessed = output.UnprocessedItems
			if attempt < maxRetries-1 {
				backoff := time.Duration(1<<attempt) * 100 * time.Millisecond
				timer := time.NewTimer(backoff)
				select {
				case <-ctx.Done():
					timer.Stop()
					return 0, fmt.Errorf("context cancelled during batch delete retry: %w", ctx.Err())
				case <-timer.C:
				}
			} else {
				return 0, fmt.Errorf("%d members unprocessed after %d retries", len(unprocessed[d.tableName]), maxRetries)
			}
		}
	}

	return len(keys), nil
}
