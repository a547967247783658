package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	ErrInvalidRole  = errors.New("invalid message role")
	ErrEmptyContent = errors.New("message content is empty")
)

// Valid reports whether the role is one the conversation accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one entry of a conversation transcript. Values are copied in and
// out of the session store and are never mutated after creation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage validates role and content and stamps the creation time.
func NewMessage(role Role, content string) (Message, error) {
	if !role.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if strings.TrimSpace(content) == "" {
		return Message{}, ErrEmptyContent
	}
	return Message{
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}, nil
}
