package dynamostore

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"pbserver/internal/storage/storagetest"
)

// fakeDynamo understands exactly the expressions Store sends.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func number(av types.AttributeValue) int64 {
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	v, _ := strconv.ParseInt(n.Value, 10, 64)
	return v
}

func pk(key map[string]types.AttributeValue) string {
	return key[attrKey].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) live(item map[string]types.AttributeValue, now types.AttributeValue) bool {
	exp, ok := item[attrExpires]
	return !ok || number(exp) > number(now)
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[pk(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pk(in.Item)
	if in.ConditionExpression != nil {
		cur, ok := f.items[key]
		_, hasExp := cur[attrExpires]
		if !ok || !hasExp || f.live(cur, in.ExpressionAttributeValues[":now"]) {
			return nil, conditionFailed()
		}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pk(in.Key)
	cur, ok := f.items[key]
	now := in.ExpressionAttributeValues[":now"]
	switch aws.ToString(in.UpdateExpression) {
	case "ADD #cnt :one":
		if ok && !f.live(cur, now) {
			return nil, conditionFailed()
		}
		if !ok {
			cur = map[string]types.AttributeValue{attrKey: in.Key[attrKey]}
			f.items[key] = cur
		}
		n := number(cur[attrCounter]) + 1
		cur[attrCounter] = &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
		return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{attrCounter: cur[attrCounter]}}, nil
	case "SET #exp = :exp":
		if !ok || !f.live(cur, now) {
			return nil, conditionFailed()
		}
		cur[attrExpires] = in.ExpressionAttributeValues[":exp"]
		return &dynamodb.UpdateItemOutput{}, nil
	}
	panic("unexpected update expression " + aws.ToString(in.UpdateExpression))
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, pk(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestContractWithFake(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Harness {
		clock := storagetest.NewClock()
		store := New(newFakeDynamo(), "pastes", time.Second)
		store.now = clock.Now
		return storagetest.Harness{Store: store, Advance: clock.Advance, Now: clock.Now}
	})
}

func TestExpireWritesEpochSeconds(t *testing.T) {
	clock := storagetest.NewClock()
	fake := newFakeDynamo()
	store := New(fake, "pastes", 0)
	store.now = clock.Now
	ctx := context.Background()

	if _, err := store.Incr(ctx, "n"); err != nil {
		t.Fatalf("incr: %v", err)
	}
	if err := store.Expire(ctx, "n", 1500*time.Millisecond); err != nil {
		t.Fatalf("expire: %v", err)
	}
	got := number(fake.items["n"][attrExpires])
	want := clock.Now().Unix() + 2
	if got != want {
		t.Fatalf("expected expires_at %d got %d", want, got)
	}
}

// TestContractDynamoDBLocal runs against DynamoDB Local when
// PBSERVER_TEST_DYNAMODB_ENDPOINT and PBSERVER_TEST_DYNAMODB_TABLE are set.
func TestContractDynamoDBLocal(t *testing.T) {
	endpoint := os.Getenv("PBSERVER_TEST_DYNAMODB_ENDPOINT")
	table := os.Getenv("PBSERVER_TEST_DYNAMODB_TABLE")
	if endpoint == "" || table == "" {
		t.Skip("Skipping integration test: DynamoDB endpoint not configured")
	}
	storagetest.Run(t, func(t *testing.T) storagetest.Harness {
		store, err := Open(context.Background(), table, "us-east-1", endpoint, 5*time.Second)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		return storagetest.Harness{Store: store}
	})
}
