package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ArchiveItem is the DynamoDB catalog row of one exported session.
type ArchiveItem struct {
	PK          string  `dynamodbav:"PK"`
	SK          string  `dynamodbav:"SK"`
	GSI1PK      string  `dynamodbav:"GSI1PK"`
	GSI1SK      string  `dynamodbav:"GSI1SK"`
	SessionID   string  `dynamodbav:"sessionId"`
	Topic       string  `dynamodbav:"topic"`
	Agent1      string  `dynamodbav:"agent1"`
	Agent2      string  `dynamodbav:"agent2"`
	Messages    int     `dynamodbav:"messages"`
	ElapsedSec  float64 `dynamodbav:"elapsedSec,omitempty"`
	JSONKey     string  `dynamodbav:"jsonKey,omitempty"`
	JSONURL     string  `dynamodbav:"jsonUrl,omitempty"`
	MarkdownKey string  `dynamodbav:"markdownKey,omitempty"`
	MarkdownURL string  `dynamodbav:"markdownUrl,omitempty"`
	ExportedAt  string  `dynamodbav:"exportedAt"`
}

// itemAPI is the slice of the DynamoDB API used by Archive.
type itemAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Archive catalogs exported sessions in DynamoDB. Each session has one row
// holding its latest export.
type Archive struct {
	client    itemAPI
	tableName string
}

func NewArchive(client itemAPI, tableName string) *Archive {
	return &Archive{client: client, tableName: tableName}
}

const archiveIndexPK = "SESSIONS"

func sessionPK(id string) string {
	return "SESSION#" + id
}

// Put writes the catalog row for item.SessionID, replacing any earlier export.
func (a *Archive) Put(ctx context.Context, item ArchiveItem) error {
	item.PK = sessionPK(item.SessionID)
	item.SK = "EXPORT"
	item.GSI1PK = archiveIndexPK
	item.GSI1SK = item.ExportedAt + "#" + item.SessionID

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal archive item: %w", err)
	}
	_, err = a.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(a.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put archive item: %w", err)
	}
	return nil
}

// Get returns the catalog row of a session, or nil if it was never exported.
func (a *Archive) Get(ctx context.Context, id string) (*ArchiveItem, error) {
	result, err := a.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(a.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(id)},
			"SK": &types.AttributeValueMemberS{Value: "EXPORT"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get archive item: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}
	var item ArchiveItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal archive item: %w", err)
	}
	return &item, nil
}

// List returns exports newest first via GSI1. cursor is the GSI1SK of the
// last item of the previous page.
func (a *Archive) List(ctx context.Context, limit int, cursor string) ([]ArchiveItem, string, error) {
	if limit <= 0 {
		limit = 20
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(a.tableName),
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: archiveIndexPK},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	if cursor != "" {
		parts := strings.SplitN(cursor, "#", 2)
		if len(parts) != 2 || parts[1] == "" {
			return nil, "", fmt.Errorf("invalid cursor %q", cursor)
		}
		input.ExclusiveStartKey = map[string]types.AttributeValue{
			"PK":     &types.AttributeValueMemberS{Value: sessionPK(parts[1])},
			"SK":     &types.AttributeValueMemberS{Value: "EXPORT"},
			"GSI1PK": &types.AttributeValueMemberS{Value: archiveIndexPK},
			"GSI1SK": &types.AttributeValueMemberS{Value: cursor},
		}
	}

	result, err := a.client.Query(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("list archive: %w", err)
	}

	var items []ArchiveItem
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &items); err != nil {
		return nil, "", fmt.Errorf("unmarshal archive list: %w", err)
	}

	var next string
	if result.LastEvaluatedKey != nil {
		if sk, ok := result.LastEvaluatedKey["GSI1SK"].(*types.AttributeValueMemberS); ok {
			next = sk.Value
		}
	}
	return items, next, nil
}
