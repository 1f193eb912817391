package model

import "time"

// ConversationStatus is the lifecycle status of a conversation.
type ConversationStatus string

const (
	ConversationOpen   ConversationStatus = "open"
	ConversationClosed ConversationStatus = "closed"
)

// Contact is the person on the other side of a conversation.
type Contact struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Conversation is one chat thread with a contact.
type Conversation struct {
	ID            string             `json:"id"`
	ContactID     string             `json:"contact_id"`
	Status        ConversationStatus `json:"status"`
	LastMessageAt time.Time          `json:"last_message_at"`
	CreatedAt     time.Time          `json:"created_at"`
	Contact       *Contact           `json:"contact,omitempty"`
}

// ConversationList is a page of conversations plus pagination metadata.
type ConversationList struct {
	Items  []Conversation `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// Message is a single chat message within a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	FromUserID     string    `json:"from_user_id,omitempty"`
	Text           string    `json:"text,omitempty"`
	MediaURL       string    `json:"media_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Suggestion is an AI-generated reply suggestion for a conversation.
type Suggestion struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}
