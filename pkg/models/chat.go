package models

// ChatMessage represents a single message in a provider conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
