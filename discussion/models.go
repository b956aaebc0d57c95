package discussion

import "time"

// AuthorRole distinguishes party comments from platform audit comments.
type AuthorRole string

const (
	AuthorCustomer AuthorRole = "customer"
	AuthorAgent    AuthorRole = "agent"
	AuthorSystem   AuthorRole = "system"
)

// Message is one comment on a request's thread.
type Message struct {
	ID         string     `json:"id"`
	RequestID  string     `json:"request_id"`
	AuthorID   string     `json:"author_id,omitempty"`
	AuthorRole AuthorRole `json:"author_role"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"created_at"`
}

const TopicMessagePosted = "discussion.message_posted"

// MaxBodyLength bounds a single comment, in runes.
const MaxBodyLength = 4000
