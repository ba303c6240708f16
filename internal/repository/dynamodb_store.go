package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chat-history-proxy/internal/domain"
)

const pkPrefixUser = "USER#"

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps one item per user in a DynamoDB table.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
}

// NewDynamoStore creates a DynamoStore over tableName.
func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName}, nil
}

// userPK returns the partition key for a user's conversation.
func userPK(userID string) string {
	return pkPrefixUser + userID
}

func (s *DynamoStore) key(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
	}
}

// Load reads the user's item with a consistent read.
func (s *DynamoStore) Load(ctx context.Context, userID string) (domain.Conversation, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Load get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.NewConversation(userID), nil
	}

	doc, err := itemToDocument(out.Item)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Load unmarshal: %w", err)
	}
	conv, err := doc.toDomain()
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Load decode: %w", err)
	}
	conv.UserID = userID
	return conv, nil
}

// AppendAndSave writes the full item, replacing any previous version.
func (s *DynamoStore) AppendAndSave(ctx context.Context, conv *domain.Conversation, turns ...domain.Turn) error {
	next, err := appended(conv, turns)
	if err != nil {
		return err
	}
	doc, err := toDocument(conv.UserID, next)
	if err != nil {
		return err
	}

	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      documentItem(doc, time.Now().UTC()),
	})
	if err != nil {
		return fmt.Errorf("repository: AppendAndSave: %w", err)
	}
	conv.Messages = next
	return nil
}

// Delete removes the user's item. DeleteItem on a missing key succeeds.
func (s *DynamoStore) Delete(ctx context.Context, userID string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(userID),
	})
	if err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

func documentItem(doc conversationDocument, now time.Time) map[string]types.AttributeValue {
	msgs := make([]types.AttributeValue, 0, len(doc.Messages))
	for _, m := range doc.Messages {
		msgs = append(msgs, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"role":    &types.AttributeValueMemberS{Value: m.Role},
			"content": &types.AttributeValueMemberS{Value: m.Content},
		}})
	}
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: userPK(doc.UserID)},
		"userId":    &types.AttributeValueMemberS{Value: doc.UserID},
		"messages":  &types.AttributeValueMemberL{Value: msgs},
		"updatedAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
	}
}

func itemToDocument(item map[string]types.AttributeValue) (conversationDocument, error) {
	userID, err := strAttr(item, "userId")
	if err != nil {
		return conversationDocument{}, err
	}
	doc := conversationDocument{UserID: userID}

	raw, ok := item["messages"]
	if !ok {
		return doc, nil
	}
	list, ok := raw.(*types.AttributeValueMemberL)
	if !ok {
		return conversationDocument{}, errors.New("repository: attribute \"messages\" is not a list")
	}
	for i, v := range list.Value {
		m, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			return conversationDocument{}, fmt.Errorf("repository: message %d is not a map", i)
		}
		role, err := strAttr(m.Value, "role")
		if err != nil {
			return conversationDocument{}, fmt.Errorf("repository: message %d: %w", i, err)
		}
		content, err := strAttr(m.Value, "content")
		if err != nil {
			return conversationDocument{}, fmt.Errorf("repository: message %d: %w", i, err)
		}
		doc.Messages = append(doc.Messages, turnDocument{Role: role, Content: content})
	}
	return doc, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
