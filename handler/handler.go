package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"chat-history-proxy/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	headerReplySource   = "X-Reply-Source"

	replySourceModel    = "model"
	replySourceFallback = "fallback"

	msgMissingChatFields = "Missing userId or message"
	msgMissingUserID     = "User ID required"
	msgLoggedOut         = "Chat history deleted, user logged out."
	msgInternal          = "Internal Server Error"
	msgNotFound          = "Not Found"
	msgMethodNotAllowed  = "Method Not Allowed"
)

// ChatUseCase is the application surface served over HTTP and Lambda.
type ChatUseCase interface {
	SendMessage(ctx context.Context, in usecase.SendMessageInput) (usecase.SendMessageOutput, error)
	Logout(ctx context.Context, userID string) error
}

type Handler struct {
	uc     ChatUseCase
	logger *slog.Logger
}

func NewHandler(uc ChatUseCase, logger *slog.Logger) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{uc: uc, logger: logger}, nil
}

type chatRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

type logoutRequest struct {
	UserID string `json:"userId"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// result is a transport-neutral response produced by the route functions.
type result struct {
	status  int
	body    any
	headers map[string]string
}

func (h *Handler) chat(ctx context.Context, raw []byte) result {
	var req chatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResult(http.StatusBadRequest, msgMissingChatFields)
	}

	out, err := h.uc.SendMessage(ctx, usecase.SendMessageInput{UserID: req.UserID, Message: req.Message})
	if err != nil {
		if usecase.CodeOf(err) == usecase.ErrorInvalidInput {
			return errorResult(http.StatusBadRequest, msgMissingChatFields)
		}
		h.logger.ErrorContext(ctx, "chat request failed", "correlationId", correlationIDFrom(ctx), "err", err)
		return errorResult(http.StatusInternalServerError, causeMessage(err))
	}

	source := replySourceModel
	if out.Fallback {
		source = replySourceFallback
	}
	return result{
		status:  http.StatusOK,
		body:    chatResponse{Reply: out.Reply},
		headers: map[string]string{headerReplySource: source},
	}
}

func (h *Handler) logout(ctx context.Context, raw []byte) result {
	var req logoutRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResult(http.StatusBadRequest, msgMissingUserID)
	}

	if err := h.uc.Logout(ctx, req.UserID); err != nil {
		if usecase.CodeOf(err) == usecase.ErrorInvalidInput {
			return errorResult(http.StatusBadRequest, msgMissingUserID)
		}
		h.logger.ErrorContext(ctx, "logout request failed", "correlationId", correlationIDFrom(ctx), "err", err)
		return errorResult(http.StatusInternalServerError, msgInternal)
	}
	return result{status: http.StatusOK, body: messageResponse{Message: msgLoggedOut}}
}

func health(context.Context, []byte) result {
	return result{status: http.StatusOK, body: healthResponse{Status: "ok"}}
}

func errorResult(status int, msg string) result {
	return result{status: status, body: errorResponse{Error: msg}}
}

// causeMessage returns the message of the error wrapped by a use case error,
// falling back to a generic message when there is none.
func causeMessage(err error) string {
	var ue *usecase.Error
	if errors.As(err, &ue) && ue.Err != nil {
		return ue.Err.Error()
	}
	return msgInternal
}

func encode(body any) []byte {
	b, err := json.Marshal(body)
	if err != nil {
		return []byte(`{"error":"` + msgInternal + `"}`)
	}
	return b
}
