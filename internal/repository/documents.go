package repository

import (
	"errors"
	"fmt"

	"chat-history-proxy/internal/domain"
)

// conversationDocument is the persisted shape shared by every backend:
// {userId, messages: [{role, content}]}.
type conversationDocument struct {
	UserID   string         `bson:"userId"`
	Messages []turnDocument `bson:"messages"`
}

type turnDocument struct {
	Role    string `bson:"role"`
	Content string `bson:"content"`
}

func toDocument(userID string, turns []domain.Turn) (conversationDocument, error) {
	doc := conversationDocument{UserID: userID, Messages: make([]turnDocument, 0, len(turns))}
	for i, t := range turns {
		if !t.Role.Valid() {
			return conversationDocument{}, fmt.Errorf("repository: turn %d: %w: %q", i, domain.ErrUnknownRole, t.Role)
		}
		doc.Messages = append(doc.Messages, turnDocument{Role: string(t.Role), Content: t.Content})
	}
	return doc, nil
}

func (d conversationDocument) toDomain() (domain.Conversation, error) {
	conv := domain.Conversation{UserID: d.UserID, Messages: make([]domain.Turn, 0, len(d.Messages))}
	for i, m := range d.Messages {
		role, err := domain.ParseRole(m.Role)
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("repository: message %d: %w", i, err)
		}
		conv.Messages = append(conv.Messages, domain.Turn{Role: role, Content: m.Content})
	}
	return conv, nil
}

// appended returns conv's turns followed by turns without aliasing conv's
// backing array, so a failed write leaves conv untouched.
func appended(conv *domain.Conversation, turns []domain.Turn) ([]domain.Turn, error) {
	if conv == nil {
		return nil, errors.New("repository: conversation must not be nil")
	}
	if conv.UserID == "" {
		return nil, errors.New("repository: conversation user id is required")
	}
	if len(turns) == 0 {
		return nil, errors.New("repository: at least one turn is required")
	}
	out := make([]domain.Turn, 0, len(conv.Messages)+len(turns))
	out = append(out, conv.Messages...)
	return append(out, turns...), nil
}
