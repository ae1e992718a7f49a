// Package model defines data structures for the conversation sync engine.
package model

// EventCountResponse is the side-channel response carrying the number of
// events that exist for a conversation.
type EventCountResponse struct {
	ConversationID string `json:"conversation_id"`
	Count          int    `json:"count"`
}

// EventPageResponse is one page of historical events fetched over REST.
type EventPageResponse struct {
	Events     []Event `json:"events"`
	HasMore    bool    `json:"has_more"`
	NextCursor string  `json:"next_cursor,omitempty"`
}
