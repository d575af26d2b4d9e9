package conversation

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole accepts the wire representation of a role, case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", &InvalidRoleError{Role: s}
	}
	return r, nil
}

// ValidateContent rejects content that is empty or only whitespace.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return &InvalidContentError{Content: content}
	}
	return nil
}

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

func (r Role) String() string {
	return string(r)
}

// MessageID is assigned by the backend that created the message. Its format
// carries no meaning outside that backend.
type MessageID string

func (id MessageID) String() string {
	return string(id)
}

// Message is one immutable turn of a conversation.
type Message struct {
	ID        MessageID `json:"id" yaml:"id"`
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
}

func (m Message) String() string {
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Content, "\n"))
}
