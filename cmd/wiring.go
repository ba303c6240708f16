package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"chat-history-proxy/internal/config"
	"chat-history-proxy/internal/integrations/paramstore"
	"chat-history-proxy/internal/repository"
	"chat-history-proxy/internal/usecase"
	"chat-history-proxy/internal/userlock"
)

// lockTTLMargin keeps a Redis lock alive past the generation timeout so the
// save that follows generation still runs under it.
const lockTTLMargin = 15 * time.Second

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}

func resolveGeminiKey(ctx context.Context, cfg *config.Config, awsCfg *aws.Config) (string, error) {
	if cfg.GeminiAPIKey != "" {
		return cfg.GeminiAPIKey, nil
	}
	if awsCfg == nil {
		return "", errors.New("AWS config required to read GEMINI_API_KEY_PARAM")
	}
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(*awsCfg))
	if err != nil {
		return "", err
	}
	return ssmClient.Secret(ctx, cfg.GeminiAPIKeyParam)
}

func newHistoryStore(ctx context.Context, cfg *config.Config, awsCfg *aws.Config) (usecase.HistoryStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendDynamoDB:
		if awsCfg == nil {
			return nil, nil, errors.New("AWS config required for the dynamodb backend")
		}
		store, err := repository.NewDynamoStore(awsdynamodb.NewFromConfig(*awsCfg), cfg.DynamoDBTable)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil

	case config.BackendMongo:
		client, err := repository.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		disconnect := func() {
			dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := client.Disconnect(dctx); err != nil {
				slog.Warn("disconnect mongo", "err", err)
			}
		}
		coll := client.Database(cfg.MongoDatabase).Collection(repository.CollectionName)
		// Without the index the store still works; history written before it
		// existed may hold duplicate users and must be merged by hand.
		if err := repository.EnsureIndexes(ctx, coll.Indexes()); err != nil {
			slog.Warn("userId index not created; continuing without it",
				"collection", repository.CollectionName,
				"duplicates", errors.Is(err, repository.ErrDuplicateUserDocuments),
				"err", err)
		}
		store, err := repository.NewMongoStore(coll)
		if err != nil {
			disconnect()
			return nil, nil, err
		}
		return store, disconnect, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func newLocker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (usecase.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return userlock.Bounded(userlock.NewLocal(), cfg.LockTimeout), func() {}, nil
	}
	client, err := userlock.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	closeClient := func() {
		if err := client.Close(); err != nil {
			logger.Warn("close redis", "err", err)
		}
	}
	locks, err := userlock.NewRedis(client, cfg.GenerationTimeout+lockTTLMargin, logger)
	if err != nil {
		closeClient()
		return nil, nil, err
	}
	return userlock.Bounded(locks, cfg.LockTimeout), closeClient, nil
}
