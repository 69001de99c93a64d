package domain

// ConversationEntry is one exchange persisted in an orchestrator's history.
// Timestamp is ISO-8601 text; the stored format is part of the on-disk
// contract, so it is kept as a string rather than a time.Time.
type ConversationEntry struct {
	Timestamp  string         `json:"timestamp"`
	User       string         `json:"user"`
	Response   string         `json:"response"`
	UserValues map[string]any `json:"user_values,omitempty"`
}

// ConversationSummary is the list view of a stored conversation.
type ConversationSummary struct {
	OrchestratorID  string `json:"orchestrator_id"`
	MessageCount    int    `json:"message_count"`
	LatestTimestamp string `json:"latest_timestamp"`
}

// ConversationMatch is one search hit across stored conversations.
type ConversationMatch struct {
	OrchestratorID string            `json:"orchestrator_id"`
	MatchedIn      string            `json:"matched_in"` // "user" or "response"
	Entry          ConversationEntry `json:"entry"`
}
