package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/otel/attribute"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// dynamoCallRecord is the item layout of the call records table (hash key recordId).
type dynamoCallRecord struct {
	RecordID         string `dynamodbav:"recordId"`
	SessionID        string `dynamodbav:"sessionId"`
	AgentID          string `dynamodbav:"agentId"`
	Language         string `dynamodbav:"language"`
	DurationMs       int64  `dynamodbav:"durationMs"`
	FinalStatus      string `dynamodbav:"finalStatus"`
	EndReason        string `dynamodbav:"endReason,omitempty"`
	TranscriptLength int    `dynamodbav:"transcriptLength"`
	EndedAtMs        int64  `dynamodbav:"endedAtMs"`
}

// DynamoRecordLog persists CompletedCallRecords to a DynamoDB table.
type DynamoRecordLog struct {
	client    dynamoAPI
	tableName string
}

// NewDynamoRecordLog builds a log backed by the provided DynamoDB client.
func NewDynamoRecordLog(client dynamoAPI, tableName string) *DynamoRecordLog {
	if client == nil {
		panic("analytics: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("analytics: table name cannot be empty")
	}
	return &DynamoRecordLog{client: client, tableName: tableName}
}

var _ RecordLog = (*DynamoRecordLog)(nil)

// Append writes rec once; a repeat of the same RecordID is a no-op.
func (s *DynamoRecordLog) Append(ctx context.Context, rec CompletedCallRecord) error {
	if rec.RecordID == "" {
		return errors.New("analytics: record id required")
	}
	ctx, span := recordLogTracer.Start(ctx, "analytics.dynamodb.append")
	defer span.End()
	span.SetAttributes(attribute.String("voice.record_id", rec.RecordID))

	item, err := attributevalue.MarshalMap(dynamoCallRecord{
		RecordID:         rec.RecordID,
		SessionID:        rec.SessionID,
		AgentID:          rec.AgentID,
		Language:         rec.Language,
		DurationMs:       rec.DurationMs,
		FinalStatus:      string(rec.FinalStatus),
		EndReason:        rec.EndReason,
		TranscriptLength: rec.TranscriptLength,
		EndedAtMs:        rec.EndedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("analytics: marshal call record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(recordId)"),
	})
	if err != nil {
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("analytics: put call record: %w", err)
	}
	return nil
}

// Replay scans the table page by page.
func (s *DynamoRecordLog) Replay(ctx context.Context, since time.Time, fn func(CompletedCallRecord) error) error {
	input := &dynamodb.ScanInput{
		TableName: aws.String(s.tableName),
	}
	if !since.IsZero() {
		input.FilterExpression = aws.String("endedAtMs >= :since")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":since": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", since.UnixMilli())},
		}
	}

	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return fmt.Errorf("analytics: scan call records: %w", err)
		}
		for _, item := range out.Items {
			var row dynamoCallRecord
			if err := attributevalue.UnmarshalMap(item, &row); err != nil {
				return fmt.Errorf("analytics: decode call record: %w", err)
			}
			if err := fn(CompletedCallRecord{
				RecordID:         row.RecordID,
				SessionID:        row.SessionID,
				AgentID:          row.AgentID,
				Language:         row.Language,
				DurationMs:       row.DurationMs,
				FinalStatus:      FinalStatus(row.FinalStatus),
				EndReason:        row.EndReason,
				TranscriptLength: row.TranscriptLength,
				EndedAt:          time.UnixMilli(row.EndedAtMs).UTC(),
			}); err != nil {
				return err
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
