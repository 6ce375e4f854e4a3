package sparkdao

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

// DAO provides access to the sparks table.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

var _ Store = (*DAO)(nil)

// New creates a new sparks DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, Spark{}),
		api:       api,
		tableName: tableName,
	}
}

// Put stores a spark record.
func (d *DAO) Put(ctx context.Context, spark Spark) error {
	if err := d.table.Put(spark).RunWithContext(ctx); err != nil {
		return fmt.Errorf("failed to put spark %v: %w", spark.ID, err)
	}
	return nil
}

// Spark retrieves a spark record by id.
func (d *DAO) Spark(ctx context.Context, id string) (Spark, bool, error) {
	var spark Spark
	if err := d.table.Get(id).ScanWithContext(ctx, &spark); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return Spark{}, false, nil
		}
		return Spark{}, false, fmt.Errorf("failed to get spark %v: %w", id, err)
	}
	return spark, true, nil
}

// SetActivity flips the spark's soft on/off switch.
func (d *DAO) SetActivity(ctx context.Context, id string, active bool) error {
	spark, ok, err := d.Spark(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	spark.IsActive = active
	return d.Put(ctx, spark)
}

// DeleteExpired scans for sparks whose lifetime has passed and removes them
// in batches.
func (d *DAO) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	var ids []string
	input := &dynamodb.ScanInput{
		TableName:            aws.String(d.tableName),
		FilterExpression:     aws.String("expires_at < :now"),
		ProjectionExpression: aws.String("pk"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":now": {N: aws.String(fmt.Sprintf("%v", now.Unix()))},
		},
	}
	err := d.api.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, _ bool) bool {
		for _, item := range page.Items {
			if pk := item["pk"]; pk != nil && pk.S != nil {
				ids = append(ids, *pk.S)
			}
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan for expired sparks: %w", err)
	}

	if err := batchDelete(ctx, d.api, d.tableName, ids); err != nil {
		return 0, fmt.Errorf("failed to delete expired sparks: %w", err)
	}
	return len(ids), nil
}

// batchDelete removes records by hash key in chunks of 25 (DynamoDB limit).
func batchDelete(ctx context.Context, api dynamodbiface.DynamoDBAPI, tableName string, ids []string) error {
	const batchSize = 25
	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[i:end]

		writeRequests := make([]*dynamodb.WriteRequest, len(chunk))
		for j, id := range chunk {
			key, err := dynamodbattribute.MarshalMap(map[string]string{"pk": id})
			if err != nil {
				return fmt.Errorf("failed to marshal key for spark %v: %w", id, err)
			}
			writeRequests[j] = &dynamodb.WriteRequest{
				DeleteRequest: &dynamodb.DeleteRequest{Key: key},
			}
		}

		unprocessed := map[string][]*dynamodb.WriteRequest{
			tableName: writeRequests,
		}

		const maxRetries = 5
		for attempt := 0; attempt < maxRetries; attempt++ {
			output, err := api.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: unprocessed,
			})
			if err != nil {
				return fmt.Errorf("batch delete failed: %w", err)
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
					return fmt.Errorf("context cancelled during batch delete retry: %w", ctx.Err())
				case <-timer.C:
				}
			} else {
				return fmt.Errorf("%d items unprocessed after %d retries", len(unprocessed[tableName]), maxRetries)
			}
		}
	}
	return nil
}
