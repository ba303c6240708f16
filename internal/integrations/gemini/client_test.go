package gemini

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/require"

	"chat-history-proxy/internal/domain"
)

type capturedSend struct {
	history []*genai.Content
	input   genai.Part
	calls   int
}

func fakeSend(resp *genai.GenerateContentResponse, err error, captured *capturedSend) sendFunc {
	return func(_ context.Context, history []*genai.Content, input genai.Part) (*genai.GenerateContentResponse, error) {
		captured.calls++
		captured.history = history
		captured.input = input
		return resp, err
	}
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{Role: roleModel}
	for _, p := range parts {
		content.Parts = append(content.Parts, genai.Text(p))
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: content}}}
}

func TestNewClient_EmptyAPIKey(t *testing.T) {
	_, err := NewClient(context.Background(), " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "api key")
}

func TestNewClient_Options(t *testing.T) {
	c := newClient(nil, WithModel("gemini-2.0-flash"), WithMaxOutputTokens(256))
	require.Equal(t, "gemini-2.0-flash", c.model)
	require.Equal(t, int32(256), c.maxOutputTokens)

	c = newClient(nil, WithModel(" "), WithMaxOutputTokens(0))
	require.Equal(t, DefaultModel, c.model)
	require.Equal(t, int32(DefaultMaxOutputTokens), c.maxOutputTokens)
}

func TestWithMaxOutputTokens_ClampsToInt32(t *testing.T) {
	c := newClient(nil, WithMaxOutputTokens(math.MaxInt32+1))
	require.Equal(t, int32(math.MaxInt32), c.maxOutputTokens)
}

func TestGenerate_SplitsContextAndInput(t *testing.T) {
	captured := &capturedSend{}
	c := newClient(fakeSend(textResponse("fine, thanks"), nil, captured))

	history := []domain.Turn{
		domain.UserTurn("hello"),
		domain.AssistantTurn("hi!"),
		domain.UserTurn("how are you?"),
	}
	reply, err := c.Generate(context.Background(), history)
	require.NoError(t, err)
	require.Equal(t, "fine, thanks", reply)
	require.Equal(t, 1, captured.calls)

	require.Len(t, captured.history, 2)
	require.Equal(t, "user", captured.history[0].Role)
	require.Equal(t, []genai.Part{genai.Text("hello")}, captured.history[0].Parts)
	require.Equal(t, "model", captured.history[1].Role)
	require.Equal(t, []genai.Part{genai.Text("hi!")}, captured.history[1].Parts)
	require.Equal(t, genai.Text("how are you?"), captured.input)
}

func TestGenerate_SingleTurnHasEmptyContext(t *testing.T) {
	captured := &capturedSend{}
	c := newClient(fakeSend(textResponse("hey"), nil, captured))

	_, err := c.Generate(context.Background(), []domain.Turn{domain.UserTurn("hello")})
	require.NoError(t, err)
	require.Empty(t, captured.history)
	require.Equal(t, genai.Text("hello"), captured.input)
}

func TestGenerate_RejectsBadHistory(t *testing.T) {
	captured := &capturedSend{}
	c := newClient(fakeSend(textResponse("x"), nil, captured))

	_, err := c.Generate(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyHistory)

	_, err = c.Generate(context.Background(), []domain.Turn{domain.UserTurn("a"), domain.AssistantTurn("b")})
	require.ErrorIs(t, err, ErrLastTurnNotUser)

	_, err = c.Generate(context.Background(), []domain.Turn{{Role: "system", Content: "x"}, domain.UserTurn("a")})
	require.ErrorIs(t, err, domain.ErrUnknownRole)

	require.Zero(t, captured.calls)
}

func TestGenerate_SendErrorIsWrapped(t *testing.T) {
	captured := &capturedSend{}
	upstream := errors.New("googleapi: Error 429: quota exceeded")
	c := newClient(fakeSend(nil, upstream, captured))

	_, err := c.Generate(context.Background(), []domain.Turn{domain.UserTurn("hello")})
	require.ErrorIs(t, err, upstream)
	require.Contains(t, err.Error(), "send message")
	require.Equal(t, 1, captured.calls)
}

func TestGenerate_EmptyResponse(t *testing.T) {
	cases := map[string]*genai.GenerateContentResponse{
		"nil response":  nil,
		"no candidates": {},
		"blank text":    textResponse("  "),
	}
	for name, resp := range cases {
		t.Run(name, func(t *testing.T) {
			c := newClient(fakeSend(resp, nil, &capturedSend{}))
			_, err := c.Generate(context.Background(), []domain.Turn{domain.UserTurn("hello")})
			require.ErrorIs(t, err, ErrEmptyResponse)
		})
	}
}

func TestGenerate_NotInitialized(t *testing.T) {
	_, err := (&Client{}).Generate(context.Background(), []domain.Turn{domain.UserTurn("hello")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestExtractText_JoinsPartsOfFirstCandidate(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: nil},
		{Content: &genai.Content{Parts: []genai.Part{genai.Text("Hello, "), genai.Blob{MIMEType: "image/png"}, genai.Text("world")}}},
		{Content: &genai.Content{Parts: []genai.Part{genai.Text("ignored")}}},
	}}
	require.Equal(t, "Hello, world", extractText(resp))
}

func TestClose_WithoutUnderlyingClient(t *testing.T) {
	require.NoError(t, newClient(nil).Close())
}
