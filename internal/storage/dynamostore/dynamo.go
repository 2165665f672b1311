// Package dynamostore implements storage.Store on a DynamoDB table.
//
// The table needs a string partition key named "pk" and should have DynamoDB
// TTL enabled on the "expires_at" attribute. DynamoDB deletes expired items
// lazily, so reads and increments also compare expires_at with the clock.
// Blobs live in the binary "val" attribute, counters in the numeric "cnt"
// attribute updated with ADD.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"pbserver/internal/storage"
)

const (
	attrKey     = "pk"
	attrValue   = "val"
	attrCounter = "cnt"
	attrExpires = "expires_at"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Store implements storage.Store using DynamoDB.
type Store struct {
	api     API
	table   string
	timeout time.Duration
	now     func() time.Time
}

// New returns a Store on table. timeout bounds every request; zero means
// only the caller's context applies.
func New(api API, table string, timeout time.Duration) *Store {
	return &Store{api: api, table: table, timeout: timeout, now: time.Now}
}

// Open builds a client from the default AWS configuration chain. endpoint
// overrides the service URL, for DynamoDB Local.
func Open(ctx context.Context, table, region, endpoint string, timeout time.Duration) (*Store, error) {
	if table == "" {
		return nil, errors.New("dynamodb table name required")
	}
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return New(client, table, timeout), nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrKey: &types.AttributeValueMemberS{Value: key},
	}
}

func epoch(t time.Time) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}

func expired(item map[string]types.AttributeValue, now time.Time) bool {
	exp, ok := item[attrExpires].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ts, err := strconv.ParseInt(exp.Value, 10, 64)
	if err != nil {
		return false
	}
	return ts <= now.Unix()
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", key, err)
	}
	if out.Item == nil || expired(out.Item, s.now()) {
		return nil, storage.ErrNotFound
	}
	if c, ok := out.Item[attrCounter].(*types.AttributeValueMemberN); ok {
		return []byte(c.Value), nil
	}
	if v, ok := out.Item[attrValue].(*types.AttributeValueMemberB); ok {
		return v.Value, nil
	}
	return []byte{}, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	item := s.itemKey(key)
	if len(value) > 0 {
		item[attrValue] = &types.AttributeValueMemberB{Value: value}
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put item %s: %w", key, err)
	}
	return nil
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	// A second pass covers losing the reset of an expired item to another
	// writer.
	for attempt := 0; attempt < 2; attempt++ {
		now := s.now()
		out, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(s.table),
			Key:                 s.itemKey(key),
			UpdateExpression:    aws.String("ADD #cnt :one"),
			ConditionExpression: aws.String("attribute_not_exists(#exp) OR #exp > :now"),
			ExpressionAttributeNames: map[string]string{
				"#cnt": attrCounter,
				"#exp": attrExpires,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":one": &types.AttributeValueMemberN{Value: "1"},
				":now": epoch(now),
			},
			ReturnValues: types.ReturnValueUpdatedNew,
		})
		if err == nil {
			c, ok := out.Attributes[attrCounter].(*types.AttributeValueMemberN)
			if !ok {
				return 0, fmt.Errorf("incr %s: counter missing from response", key)
			}
			return strconv.ParseInt(c.Value, 10, 64)
		}
		if !isConditionFailed(err) {
			return 0, fmt.Errorf("update item %s: %w", key, err)
		}

		// The item is expired but not yet reaped: restart it at 1.
		item := s.itemKey(key)
		item[attrCounter] = &types.AttributeValueMemberN{Value: "1"}
		_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                aws.String(s.table),
			Item:                     item,
			ConditionExpression:      aws.String("attribute_exists(#exp) AND #exp <= :now"),
			ExpressionAttributeNames: map[string]string{"#exp": attrExpires},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":now": epoch(now),
			},
		})
		if err == nil {
			return 1, nil
		}
		if !isConditionFailed(err) {
			return 0, fmt.Errorf("reset item %s: %w", key, err)
		}
	}
	return 0, fmt.Errorf("incr %s: concurrent reset", key)
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if ttl <= 0 {
		_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.table),
			Key:       s.itemKey(key),
		})
		if err != nil {
			return fmt.Errorf("delete item %s: %w", key, err)
		}
		return nil
	}

	now := s.now()
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.itemKey(key),
		UpdateExpression:    aws.String("SET #exp = :exp"),
		ConditionExpression: aws.String("attribute_exists(#pk) AND (attribute_not_exists(#exp) OR #exp > :now)"),
		ExpressionAttributeNames: map[string]string{
			"#pk":  attrKey,
			"#exp": attrExpires,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":exp": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix()+storage.TTLSeconds(ttl), 10)},
			":now": epoch(now),
		},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("expire item %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no connections that need closing.
func (s *Store) Close() error { return nil }

var _ storage.Store = (*Store)(nil)
