package handler

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

// Handle serves API Gateway proxy events with the same routes and error
// mapping as Routes.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	corrID := resolveCorrelationID(event.Headers)
	ctx = withCorrelationID(ctx, corrID)

	raw := []byte(event.Body)
	if event.IsBase64Encoded {
		// Undecodable bodies fall through as empty and fail validation.
		raw, _ = base64.StdEncoding.DecodeString(event.Body)
	}

	res := h.route(ctx, event.HTTPMethod, event.Path, raw)

	h.logger.LogAttrs(ctx, slog.LevelInfo, "request",
		slog.String("method", event.HTTPMethod),
		slog.String("path", event.Path),
		slog.Int("status", res.status),
		slog.Duration("duration", time.Since(start)),
		slog.String("correlationId", corrID),
	)

	headers := map[string]string{
		"Content-Type":      "application/json",
		headerCorrelationID: corrID,
	}
	for k, v := range res.headers {
		headers[k] = v
	}
	return events.APIGatewayProxyResponse{
		StatusCode: res.status,
		Headers:    headers,
		Body:       string(encode(res.body)),
	}, nil
}

func (h *Handler) route(ctx context.Context, method, path string, raw []byte) result {
	var (
		want string
		fn   routeFunc
	)
	switch strings.TrimSuffix(path, "/") {
	case "/chat":
		want, fn = http.MethodPost, h.chat
	case "/logout":
		want, fn = http.MethodPost, h.logout
	case "/health":
		want, fn = http.MethodGet, health
	default:
		return errorResult(http.StatusNotFound, msgNotFound)
	}
	if !strings.EqualFold(method, want) {
		return errorResult(http.StatusMethodNotAllowed, msgMethodNotAllowed)
	}
	return fn(ctx, raw)
}
