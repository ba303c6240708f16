package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"chat-history-proxy/internal/domain"
)

const defaultGenerationTimeout = 30 * time.Second

// HistoryStore persists one conversation document per user.
type HistoryStore interface {
	Load(ctx context.Context, userID string) (domain.Conversation, error)
	AppendAndSave(ctx context.Context, conv *domain.Conversation, turns ...domain.Turn) error
	Delete(ctx context.Context, userID string) error
}

// Generator produces a reply for a history whose last turn is the new user
// input.
type Generator interface {
	Generate(ctx context.Context, history []domain.Turn) (string, error)
}

// Locker serializes request cycles for the same user.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type ChatService struct {
	store             HistoryStore
	gen               Generator
	locks             Locker
	generationTimeout time.Duration
	logger            *slog.Logger
}

type Option func(*ChatService)

// WithGenerationTimeout bounds each generation attempt. Non-positive values
// keep the default.
func WithGenerationTimeout(d time.Duration) Option {
	return func(s *ChatService) {
		if d > 0 {
			s.generationTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *ChatService) {
		if l != nil {
			s.logger = l
		}
	}
}

type SendMessageInput struct {
	UserID  string
	Message string
}

type SendMessageOutput struct {
	Reply    string
	Fallback bool
}

func NewChatService(store HistoryStore, gen Generator, locks Locker, opts ...Option) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: history store must not be nil")
	}
	if gen == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if locks == nil {
		return nil, errors.New("usecase: locker must not be nil")
	}
	s := &ChatService{
		store:             store,
		gen:               gen,
		locks:             locks,
		generationTimeout: defaultGenerationTimeout,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SendMessage appends the user's message and the assistant's reply to the
// user's conversation and returns the reply. Generation failures are
// answered with BuildFallback and never surface as errors.
func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (SendMessageOutput, error) {
	if in.UserID == "" || in.Message == "" {
		return SendMessageOutput{}, newError(ErrorInvalidInput, "missing_user_or_message", nil)
	}

	unlock, err := s.locks.Lock(ctx, in.UserID)
	if err != nil {
		return SendMessageOutput{}, newError(ErrorInternal, "lock_error", err)
	}
	defer unlock()

	conv, err := s.store.Load(ctx, in.UserID)
	if err != nil {
		return SendMessageOutput{}, newError(ErrorInternal, "store_load_error", err)
	}

	userTurn := domain.UserTurn(in.Message)
	history := make([]domain.Turn, 0, len(conv.Messages)+1)
	history = append(history, conv.Messages...)
	history = append(history, userTurn)

	// Once the lock is held the cycle runs to completion even if the client
	// goes away; only the generation timeout cuts it short.
	cycleCtx := context.WithoutCancel(ctx)

	reply, fallback := s.generate(cycleCtx, in.UserID, history)

	if err := s.store.AppendAndSave(cycleCtx, &conv, userTurn, domain.AssistantTurn(reply)); err != nil {
		return SendMessageOutput{}, newError(ErrorInternal, "store_save_error", err)
	}

	latest, ok := conv.LastAssistantReply()
	if !ok {
		return SendMessageOutput{}, newError(ErrorInternal, "missing_assistant_turn", nil)
	}
	return SendMessageOutput{Reply: latest, Fallback: fallback}, nil
}

// Logout deletes the user's conversation. Deleting a missing conversation
// succeeds.
func (s *ChatService) Logout(ctx context.Context, userID string) error {
	if userID == "" {
		return newError(ErrorInvalidInput, "missing_user", nil)
	}

	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return newError(ErrorInternal, "lock_error", err)
	}
	defer unlock()

	if err := s.store.Delete(ctx, userID); err != nil {
		return newError(ErrorInternal, "store_delete_error", err)
	}
	return nil
}

func (s *ChatService) generate(ctx context.Context, userID string, history []domain.Turn) (string, bool) {
	genCtx, cancel := context.WithTimeout(ctx, s.generationTimeout)
	defer cancel()

	reply, err := s.gen.Generate(genCtx, history)
	if err != nil {
		upstream := newError(ErrorUpstream, "generation_error", err)
		s.logger.Warn("generation failed, replying with fallback", "userId", userID, "err", upstream)
		return BuildFallback(history[len(history)-1].Content), true
	}
	return reply, false
}
