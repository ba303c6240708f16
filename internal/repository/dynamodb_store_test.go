package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"chat-history-proxy/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	deleteErr    error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	lastDelInput *dynamodb.DeleteItemInput
	putCalls     int
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putCalls++
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.lastDelInput = in
	return &dynamodb.DeleteItemOutput{}, f.deleteErr
}

func makeTurnAttr(role, content string) types.AttributeValue {
	return &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
		"role":    &types.AttributeValueMemberS{Value: role},
		"content": &types.AttributeValueMemberS{Value: content},
	}}
}

func makeConversationItem(userID string, turns ...types.AttributeValue) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: userPK(userID)},
		"userId":   &types.AttributeValueMemberS{Value: userID},
		"messages": &types.AttributeValueMemberL{Value: turns},
	}
}

func mustNewDynamoStore(t *testing.T, db *fakeDynamo) *DynamoStore {
	t.Helper()
	s, err := NewDynamoStore(db, "test-table")
	require.NoError(t, err)
	return s
}

func TestDynamoLoad_HappyPath(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeConversationItem("u1",
		makeTurnAttr("user", "hello"),
		makeTurnAttr("assistant", "hi"),
	)}}
	s := mustNewDynamoStore(t, db)

	conv, err := s.Load(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, []domain.Turn{domain.UserTurn("hello"), domain.AssistantTurn("hi")}, conv.Messages)
	require.True(t, *db.lastGetInput.ConsistentRead)
	require.Equal(t, "USER#u1", db.lastGetInput.Key["PK"].(*types.AttributeValueMemberS).Value)
}

func TestDynamoLoad_MissingItem(t *testing.T) {
	s := mustNewDynamoStore(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	conv, err := s.Load(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "u1", conv.UserID)
	require.Empty(t, conv.Messages)
}

func TestDynamoLoad_GetItemError(t *testing.T) {
	s := mustNewDynamoStore(t, &fakeDynamo{getErr: errors.New("ResourceNotFoundException")})
	_, err := s.Load(context.Background(), "u1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Load get item")
}

func TestDynamoLoad_MalformedItems(t *testing.T) {
	cases := []struct {
		name string
		item map[string]types.AttributeValue
		want string
	}{
		{
			name: "missing user id",
			item: map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: "USER#u1"}},
			want: "userId",
		},
		{
			name: "messages not a list",
			item: map[string]types.AttributeValue{
				"userId":   &types.AttributeValueMemberS{Value: "u1"},
				"messages": &types.AttributeValueMemberS{Value: "oops"},
			},
			want: "not a list",
		},
		{
			name: "message missing content",
			item: makeConversationItem("u1", &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
				"role": &types.AttributeValueMemberS{Value: "user"},
			}}),
			want: "content",
		},
		{
			name: "unknown role",
			item: makeConversationItem("u1", makeTurnAttr("model", "x")),
			want: "unknown role",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := mustNewDynamoStore(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: tc.item}})
			_, err := s.Load(context.Background(), "u1")
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestDynamoAppendAndSave_WritesFullItem(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewDynamoStore(t, db)
	conv := domain.Conversation{UserID: "u1", Messages: []domain.Turn{domain.UserTurn("a"), domain.AssistantTurn("b")}}

	err := s.AppendAndSave(context.Background(), &conv, domain.UserTurn("c"), domain.AssistantTurn("d"))
	require.NoError(t, err)
	require.Len(t, conv.Messages, 4)

	item := db.lastPutInput.Item
	require.Equal(t, "USER#u1", item["PK"].(*types.AttributeValueMemberS).Value)
	msgs := item["messages"].(*types.AttributeValueMemberL).Value
	require.Len(t, msgs, 4)
	last := msgs[3].(*types.AttributeValueMemberM).Value
	require.Equal(t, "assistant", last["role"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "d", last["content"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "test-table", *db.lastPutInput.TableName)
}

func TestDynamoAppendAndSave_PutError(t *testing.T) {
	s := mustNewDynamoStore(t, &fakeDynamo{putErr: errors.New("ProvisionedThroughputExceededException")})
	conv := domain.NewConversation("u1")
	err := s.AppendAndSave(context.Background(), &conv, domain.UserTurn("a"), domain.AssistantTurn("b"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "AppendAndSave")
	require.Empty(t, conv.Messages)
}

func TestDynamoAppendAndSave_RejectsUnknownRole(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewDynamoStore(t, db)
	conv := domain.NewConversation("u1")
	err := s.AppendAndSave(context.Background(), &conv, domain.Turn{Role: "system", Content: "x"})
	require.ErrorIs(t, err, domain.ErrUnknownRole)
	require.Zero(t, db.putCalls)
}

func TestDynamoDelete(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewDynamoStore(t, db)
	require.NoError(t, s.Delete(context.Background(), "u1"))
	require.Equal(t, "USER#u1", db.lastDelInput.Key["PK"].(*types.AttributeValueMemberS).Value)

	db.deleteErr = errors.New("internal server error")
	err := s.Delete(context.Background(), "u1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Delete")
}

func TestDocumentItem_RoundTripsThroughItemToDocument(t *testing.T) {
	doc := conversationDocument{UserID: "u1", Messages: []turnDocument{{Role: "user", Content: "hi"}}}
	item := documentItem(doc, time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC))
	require.Equal(t, "2026-02-25T10:00:00Z", item["updatedAt"].(*types.AttributeValueMemberS).Value)

	got, err := itemToDocument(item)
	require.NoError(t, err)
	require.Equal(t, doc, got)
}

func TestUserPK(t *testing.T) {
	require.Equal(t, "USER#my-user", userPK("my-user"))
}

func TestNewDynamoStore_Validation(t *testing.T) {
	_, err := NewDynamoStore(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")

	_, err = NewDynamoStore(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}
