package dynamo

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gofrs/uuid/v5"
	"github.com/zlnvch/whiteboard/models"
	"github.com/zlnvch/whiteboard/store"
)

type DynamoWhiteboardStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoWhiteboardStore(ctx context.Context, devMode bool, dynamodbEndpoint string, tableName string) (*DynamoWhiteboardStore, error) {
	client, err := newDynamoDBClient(ctx, devMode, dynamodbEndpoint)
	if err != nil {
		return nil, err
	}

	tables, err := getTables(client, ctx)
	if err != nil {
		return nil, err
	}

	if !slices.Contains(tables, tableName) {
		return nil, fmt.Errorf("given table name '%s' not found in dynamodb", tableName)
	}

	return &DynamoWhiteboardStore{client: client, tableName: tableName}, nil
}

func (dynamoStore *DynamoWhiteboardStore) CreateSession(ctx context.Context, session models.Session) (models.Session, error) {
	if session.Id == "" {
		sessionId, err := uuid.NewV4()
		if err != nil {
			return models.Session{}, err
		}
		session.Id = sessionId.String()
	}
	session.Created = time.Now().Unix()

	ds, inserted, err := ensureItem(dynamoStore, ctx, sessionToDynamo(session))
	if err != nil {
		return models.Session{}, err
	}
	if !inserted {
		return sessionFromDynamo(ds), store.ErrConditionFailed
	}

	return sessionFromDynamo(ds), nil
}

func (dynamoStore *DynamoWhiteboardStore) GetSession(ctx context.Context, sessionId string) (models.Session, error) {
	ds, err := getItem[dynamoSession](dynamoStore, ctx, sessionPK(sessionId), sessionSK, false)
	if err != nil {
		return models.Session{}, err
	}
	return sessionFromDynamo(ds), nil
}

func (dynamoStore *DynamoWhiteboardStore) IncrementSessionActivity(ctx context.Context, sessionId string, strokes int, messages int) error {
	// Strict mode: rooms that were never registered as sessions are not tracked
	return incrementCounters(dynamoStore, ctx, sessionPK(sessionId), sessionSK, map[string]int{
		"Strokes":  strokes,
		"Messages": messages,
	})
}

func (dynamoStore *DynamoWhiteboardStore) MarkSessionClosed(ctx context.Context, sessionId string, closedAt int64) error {
	return setNumberIfExists(dynamoStore, ctx, sessionPK(sessionId), sessionSK, "LastClosed", closedAt)
}
