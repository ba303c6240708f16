package gemini

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"chat-history-proxy/internal/domain"
)

const (
	DefaultModel           = "gemini-1.5-pro"
	DefaultMaxOutputTokens = 1000

	roleUser  = "user"
	roleModel = "model"
)

var (
	ErrEmptyHistory    = errors.New("gemini: history must not be empty")
	ErrLastTurnNotUser = errors.New("gemini: last turn must be a user turn")
	ErrEmptyResponse   = errors.New("gemini: response contained no text")
)

// sendFunc performs one chat round-trip: history is the prior context and
// input is the new message to answer.
type sendFunc func(ctx context.Context, history []*genai.Content, input genai.Part) (*genai.GenerateContentResponse, error)

// Client generates replies through the Gemini chat API. One attempt per call;
// failures are returned to the caller untouched by retries.
type Client struct {
	genai           *genai.Client
	send            sendFunc
	model           string
	maxOutputTokens int32
}

type Option func(*Client)

func WithModel(name string) Option {
	return func(c *Client) {
		if name = strings.TrimSpace(name); name != "" {
			c.model = name
		}
	}
}

// WithMaxOutputTokens caps the reply length. Non-positive values keep the
// default; values above math.MaxInt32 are clamped.
func WithMaxOutputTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxOutputTokens = int32(min(n, math.MaxInt32))
		}
	}
}

// NewClient creates a Gemini-backed Client. Close releases the underlying
// connection.
func NewClient(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key must not be empty")
	}
	c := newClient(nil, opts...)

	gc, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	model := gc.GenerativeModel(c.model)
	model.SetMaxOutputTokens(c.maxOutputTokens)

	c.genai = gc
	c.send = func(ctx context.Context, history []*genai.Content, input genai.Part) (*genai.GenerateContentResponse, error) {
		cs := model.StartChat()
		cs.History = history
		return cs.SendMessage(ctx, input)
	}
	return c, nil
}

func newClient(send sendFunc, opts ...Option) *Client {
	c := &Client{
		send:            send,
		model:           DefaultModel,
		maxOutputTokens: DefaultMaxOutputTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Close() error {
	if c.genai == nil {
		return nil
	}
	return c.genai.Close()
}

// Generate sends every turn but the last as chat history and the last turn
// as the new message, then returns the reply text.
func (c *Client) Generate(ctx context.Context, history []domain.Turn) (string, error) {
	if c.send == nil {
		return "", errors.New("gemini: client not initialized")
	}
	prior, input, err := splitHistory(history)
	if err != nil {
		return "", err
	}

	resp, err := c.send(ctx, prior, input)
	if err != nil {
		return "", fmt.Errorf("gemini: send message: %w", err)
	}
	text := extractText(resp)
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func splitHistory(history []domain.Turn) ([]*genai.Content, genai.Text, error) {
	if len(history) == 0 {
		return nil, "", ErrEmptyHistory
	}
	last := history[len(history)-1]
	if last.Role != domain.RoleUser {
		return nil, "", fmt.Errorf("%w: got %q", ErrLastTurnNotUser, last.Role)
	}

	prior := make([]*genai.Content, 0, len(history)-1)
	for i, t := range history[:len(history)-1] {
		role, err := apiRole(t.Role)
		if err != nil {
			return nil, "", fmt.Errorf("gemini: turn %d: %w", i, err)
		}
		prior = append(prior, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(t.Content)},
		})
	}
	return prior, genai.Text(last.Content), nil
}

func apiRole(r domain.Role) (string, error) {
	switch r {
	case domain.RoleUser:
		return roleUser, nil
	case domain.RoleAssistant:
		return roleModel, nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownRole, r)
	}
}

// extractText joins the text parts of the first candidate that has content.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var text strings.Builder
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
		return text.String()
	}
	return ""
}
