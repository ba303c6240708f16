package domain

import (
	"errors"
	"fmt"
)

// ErrUnknownRole is returned when a turn carries a role outside the closed
// user/assistant set.
var ErrUnknownRole = errors.New("domain: unknown role")

// Role tags the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole converts a stored role string into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser:
		return RoleUser, nil
	case RoleAssistant:
		return RoleAssistant, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// Valid reports whether r is one of the supported roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is a single role-tagged message in a conversation.
type Turn struct {
	Role    Role   `json:"role" bson:"role"`
	Content string `json:"content" bson:"content"`
}

// Conversation is the full ordered history for one user. Persisted as one
// document per user.
type Conversation struct {
	UserID   string `json:"userId" bson:"userId"`
	Messages []Turn `json:"messages" bson:"messages"`
}

// NewConversation returns an empty, not yet persisted conversation.
func NewConversation(userID string) Conversation {
	return Conversation{UserID: userID, Messages: []Turn{}}
}

// UserTurn builds a user turn.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn builds an assistant turn.
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}

// LastAssistantReply returns the content of the most recent assistant turn.
func (c Conversation) LastAssistantReply() (string, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAssistant {
			return c.Messages[i].Content, true
		}
	}
	return "", false
}
