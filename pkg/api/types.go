package api

import (
	"fmt"

	"github.com/go-go-golems/palaver/pkg/conversation"
)

// UserHeader carries the active identity on every /api request.
const UserHeader = "X-Palaver-User"

const (
	ConversationsPath = "/api/conversations"
	HealthPath        = "/health"
	MetricsPath       = "/metrics"
)

func ConversationPath(id conversation.ID) string {
	return fmt.Sprintf("%s/%s", ConversationsPath, id)
}

func MessagesPath(id conversation.ID) string {
	return fmt.Sprintf("%s/%s/messages", ConversationsPath, id)
}

type CreateConversationRequest struct {
	Title string `json:"title"`
}

type AppendMessageRequest struct {
	Role    conversation.Role `json:"role"`
	Content string            `json:"content"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
