package message

import "time"

// Message is a chat message resolved against the roster, ready for rule
// evaluation. Empty ConversationName or AuthorNickname means absent.
type Message struct {
	ConversationName string `json:"conversation_name,omitempty"` // Empty for direct messages and unknown conversations
	AuthorNickname   string `json:"author_nickname,omitempty"`   // Member handle or inline username
	AuthorRealName   string `json:"author_real_name"`            // Always resolved
	AuthorIsBot      bool   `json:"author_is_bot"`
	Text             string `json:"text"` // Body plus first attachment pretext and text
}

// Outcome of handling a matched message
type Outcome string

const (
	OutcomeMarkedRead  Outcome = "marked_read"
	OutcomeLeftUnread  Outcome = "left_unread"
	OutcomeCheckFailed Outcome = "check_failed"
	OutcomeMarkFailed  Outcome = "mark_failed"
)

// Suppression is a journal record for a message that matched an ignore rule
type Suppression struct {
	Time           time.Time `json:"time"`
	ConversationID string    `json:"conversation_id"`
	MessageTS      string    `json:"ts"`
	Outcome        Outcome   `json:"outcome"`
	Message
}
