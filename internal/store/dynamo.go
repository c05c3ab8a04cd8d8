package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

const (
	pkPrefix = "REQUEST#"
	skMeta   = "META"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore implements RequestStore on a DynamoDB table.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

var _ RequestStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, now: time.Now}
}

func requestPK(requestID string) string {
	return pkPrefix + requestID
}

func requestKey(requestID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: requestPK(requestID)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

// putItem marshals data and writes it with PK, SK and the TTL attribute.
func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data interface{}) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Add(RequestTTL).Unix(), 10)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads one item into out, reporting false when it does not exist.
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// update applies "SET <set>, updatedAt = :updatedAt" to the request item.
func (s *DynamoStore) update(ctx context.Context, requestID, set string, names map[string]string, values map[string]types.AttributeValue) error {
	values[":updatedAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)}
	in := &dynamodb.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       requestKey(requestID),
		UpdateExpression:          aws.String("SET " + set + ", updatedAt = :updatedAt"),
		ExpressionAttributeValues: values,
	}
	if len(names) > 0 {
		in.ExpressionAttributeNames = names
	}
	if _, err := s.client.UpdateItem(ctx, in); err != nil {
		return fmt.Errorf("UpdateItem PK=%s: %w", requestPK(requestID), err)
	}
	return nil
}

func (s *DynamoStore) PutRequest(ctx context.Context, rec *RequestRecord) error {
	now := s.now().Unix()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if err := s.putItem(ctx, requestPK(rec.ID), skMeta, rec); err != nil {
		return fmt.Errorf("put request %s: %w", rec.ID, err)
	}
	log.Debug().Str("requestId", rec.ID).Str("status", rec.Status).Msg("Request record stored")
	return nil
}

func (s *DynamoStore) GetRequest(ctx context.Context, requestID string) (*RequestRecord, error) {
	var rec RequestRecord
	found, err := s.getItem(ctx, requestPK(requestID), skMeta, &rec)
	if err != nil {
		return nil, fmt.Errorf("get request %s: %w", requestID, err)
	}
	if !found {
		return nil, nil
	}
	rec.ID = requestID
	return &rec, nil
}

func (s *DynamoStore) UpdatePhase(ctx context.Context, requestID, phase string) error {
	err := s.update(ctx, requestID, "#s = :s, phase = :p",
		map[string]string{"#s": "status"}, // reserved word
		map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: StatusProcessing},
			":p": &types.AttributeValueMemberS{Value: phase},
		})
	if err != nil {
		return fmt.Errorf("update phase %s -> %s: %w", requestID, phase, err)
	}
	log.Debug().Str("requestId", requestID).Str("phase", phase).Msg("Request phase updated")
	return nil
}

func (s *DynamoStore) CompleteRequest(ctx context.Context, requestID string, highlights []HighlightRecord, failedSegments []int) error {
	if highlights == nil {
		highlights = []HighlightRecord{}
	}
	if failedSegments == nil {
		failedSegments = []int{}
	}
	hv, err := attributevalue.Marshal(highlights)
	if err != nil {
		return fmt.Errorf("marshal highlights: %w", err)
	}
	fv, err := attributevalue.Marshal(failedSegments)
	if err != nil {
		return fmt.Errorf("marshal failed segments: %w", err)
	}

	err = s.update(ctx, requestID, "#s = :s, phase = :p, highlights = :h, failedSegments = :f",
		map[string]string{"#s": "status"},
		map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: StatusComplete},
			":p": &types.AttributeValueMemberS{Value: "done"},
			":h": hv,
			":f": fv,
		})
	if err != nil {
		return fmt.Errorf("complete request %s: %w", requestID, err)
	}
	log.Debug().Str("requestId", requestID).Int("highlights", len(highlights)).Msg("Request completed")
	return nil
}

func (s *DynamoStore) FailRequest(ctx context.Context, requestID, phase, reason string) error {
	err := s.update(ctx, requestID, "#s = :s, phase = :p, #e = :e",
		map[string]string{"#s": "status", "#e": "error"},
		map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: StatusFailed},
			":p": &types.AttributeValueMemberS{Value: phase},
			":e": &types.AttributeValueMemberS{Value: reason},
		})
	if err != nil {
		return fmt.Errorf("fail request %s: %w", requestID, err)
	}
	return nil
}
