package compliance

import (
	"time"

	"quoteflow/auth"
	"quoteflow/contentpolicy"
)

// Status is the account standing held on a compliance record.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// SuspensionReason is stamped on every record suspended by escalation.
const SuspensionReason = "repeated attempts to share contact details before a job was confirmed"

// SuspendedMessage is shown to a suspended user whenever they try to act.
const SuspendedMessage = "Your account has been suspended for repeatedly sharing contact details. " +
	"You can still view your existing requests. To appeal, contact support."

const (
	TopicUserSuspended   = "compliance.user_suspended"
	TopicUserUnsuspended = "compliance.user_unsuspended"
)

// Record mirrors the compliance_records table. A user without a row is
// active with zero violations.
type Record struct {
	UserID           string
	ViolationCount   int
	Status           Status
	SuspendedAt      *time.Time
	SuspensionReason string
	UpdatedAt        time.Time
}

// Violation is one entry of a user's append-only violation log.
type Violation struct {
	ID         int64
	UserID     string
	Location   string
	Categories []string
	Excerpt    string
	CreatedAt  time.Time
}

// AuditEntry records an administrative action against a record.
type AuditEntry struct {
	UserID  string
	ActorID string
	Action  string
	Reason  string
	At      time.Time
}

const (
	AuditUnsuspend = "unsuspend"
	AuditReset     = "reset_violations"
)

// Standing is the read view consulted before every mutating action.
type Standing struct {
	Suspended      bool `json:"suspended"`
	ViolationCount int  `json:"violation_count"`
}

// Outcome reports the effect of recording one violation.
type Outcome struct {
	ViolationCountAfter int
	SuspendedNow        bool
}

// ViolationContext describes a blocked submission.
type ViolationContext struct {
	UserID     string
	Location   string
	Categories []contentpolicy.Category
	Text       string
}

// Policy holds the escalation knobs.
type Policy struct {
	// SuspendThreshold is the violation count at which an account is suspended.
	SuspendThreshold int
	// ExcerptLimit bounds, in runes, how much offending text is stored.
	ExcerptLimit int
}

func DefaultPolicy() Policy {
	return Policy{SuspendThreshold: 3, ExcerptLimit: 100}
}

// AdminParams identifies the administrator performing a privileged operation.
type AdminParams struct {
	UserID    string
	ActorID   string
	ActorRole auth.Role
	Reason    string
}

func (r Record) Standing() Standing {
	return Standing{
		Suspended:      r.Status == StatusSuspended,
		ViolationCount: r.ViolationCount,
	}
}

func excerpt(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

func categoryNames(cats []contentpolicy.Category) []string {
	out := make([]string, 0, len(cats))
	for _, c := range cats {
		out = append(out, string(c))
	}
	return out
}
