package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chat-history-proxy/internal/domain"
)

// CollectionName is the collection holding one chat history document per user.
const CollectionName = "chat_history"

// mongoCollection is the subset of *mongo.Collection used by MongoStore.
type mongoCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// MongoStore keeps conversations in a MongoDB collection.
type MongoStore struct {
	coll mongoCollection
}

func NewMongoStore(coll mongoCollection) (*MongoStore, error) {
	if coll == nil {
		return nil, errors.New("repository: mongo collection must not be nil")
	}
	return &MongoStore{coll: coll}, nil
}

// ConnectMongo dials uri and verifies the connection with a ping.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, errors.New("repository: mongo uri must not be empty")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("repository: connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("repository: ping mongo: %w", err)
	}
	return client, nil
}

// ErrDuplicateUserDocuments means the collection already holds more than one
// document for some userId, so the unique index cannot be built until they
// are merged.
var ErrDuplicateUserDocuments = errors.New("repository: duplicate userId documents")

// indexCreator is the subset of mongo.IndexView used by EnsureIndexes.
type indexCreator interface {
	CreateOne(ctx context.Context, model mongo.IndexModel, opts ...*options.CreateIndexesOptions) (string, error)
}

// EnsureIndexes creates the unique userId index backing one document per user.
// Pass coll.Indexes().
func EnsureIndexes(ctx context.Context, indexes indexCreator) error {
	_, err := indexes.CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("userId_unique"),
	})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("repository: EnsureIndexes: %w: %w", ErrDuplicateUserDocuments, err)
	}
	if err != nil {
		return fmt.Errorf("repository: EnsureIndexes: %w", err)
	}
	return nil
}

func userFilter(userID string) bson.M {
	return bson.M{"userId": userID}
}

// Load returns the stored conversation, or an empty unpersisted one.
func (s *MongoStore) Load(ctx context.Context, userID string) (domain.Conversation, error) {
	var doc conversationDocument
	err := s.coll.FindOne(ctx, userFilter(userID)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.NewConversation(userID), nil
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Load find: %w", err)
	}
	conv, err := doc.toDomain()
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Load decode: %w", err)
	}
	conv.UserID = userID
	return conv, nil
}

// AppendAndSave appends turns to conv and replaces the whole stored document.
// conv is only updated once the write succeeds.
func (s *MongoStore) AppendAndSave(ctx context.Context, conv *domain.Conversation, turns ...domain.Turn) error {
	next, err := appended(conv, turns)
	if err != nil {
		return err
	}
	doc, err := toDocument(conv.UserID, next)
	if err != nil {
		return err
	}
	_, err = s.coll.ReplaceOne(ctx, userFilter(conv.UserID), doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("repository: AppendAndSave: %w", err)
	}
	conv.Messages = next
	return nil
}

// Delete removes the user's document; a missing document is not an error.
func (s *MongoStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.coll.DeleteOne(ctx, userFilter(userID)); err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}
