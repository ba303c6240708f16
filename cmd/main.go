package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"chat-history-proxy/handler"
	"chat-history-proxy/internal/config"
	"chat-history-proxy/internal/integrations/gemini"
	"chat-history-proxy/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	// ---- AWS SDK config (only when a component needs it) ----
	var awsCfg *aws.Config
	if cfg.GeminiAPIKeyParam != "" || cfg.StoreBackend == config.BackendDynamoDB {
		loaded, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			fatal(logger, "failed to load AWS config", err)
		}
		awsCfg = &loaded
	}

	apiKey, err := resolveGeminiKey(ctx, cfg, awsCfg)
	if err != nil {
		fatal(logger, "failed to resolve Gemini API key", err)
	}

	// ---- Clients ----
	var closers []func()

	store, closeStore, err := newHistoryStore(ctx, cfg, awsCfg)
	if err != nil {
		fatal(logger, "failed to create history store", err)
	}
	closers = append(closers, closeStore)

	locks, closeLocks, err := newLocker(ctx, cfg, logger)
	if err != nil {
		fatal(logger, "failed to create user locker", err)
	}
	closers = append(closers, closeLocks)

	geminiClient, err := gemini.NewClient(ctx, apiKey,
		gemini.WithModel(cfg.GeminiModel),
		gemini.WithMaxOutputTokens(cfg.GeminiMaxOutputTokens),
	)
	if err != nil {
		fatal(logger, "failed to create Gemini client", err)
	}
	closers = append(closers, func() {
		if err := geminiClient.Close(); err != nil {
			logger.Warn("close gemini client", "err", err)
		}
	})

	// ---- Handler ----
	chatService, err := usecase.NewChatService(store, geminiClient, locks,
		usecase.WithGenerationTimeout(cfg.GenerationTimeout),
		usecase.WithLogger(logger),
	)
	if err != nil {
		fatal(logger, "failed to create chat service", err)
	}

	h, err := handler.NewHandler(chatService, logger)
	if err != nil {
		fatal(logger, "failed to create handler", err)
	}

	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		logger.Info("starting lambda handler", "backend", cfg.StoreBackend)
		lambda.Start(h.Handle)
		return
	}

	serveHTTP(cfg, logger, h, closers)
}

func serveHTTP(cfg *config.Config, logger *slog.Logger, h *handler.Handler, closers []func()) {
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h.Routes(cfg.CORSAllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
		// Leave room for a full generation plus the save that follows.
		WriteTimeout: cfg.GenerationTimeout + cfg.LockTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-stop
		logger.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	logger.Info("server listening", "port", cfg.Port, "backend", cfg.StoreBackend, "model", cfg.GeminiModel)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		fatal(logger, "server error", err)
	}
	<-done
}
