package appeal

import "time"

// Status is the lifecycle of a suspension appeal.
type Status string

const (
	StatusOpen    Status = "open"
	StatusGranted Status = "granted"
	StatusDenied  Status = "denied"
)

// Record mirrors the appeals table.
type Record struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Message        string     `json:"message"`
	Status         Status     `json:"status"`
	ResolvedBy     *string    `json:"resolved_by,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// Resolution is an administrator's decision on an open appeal.
type Resolution struct {
	Grant bool
	Note  string
}
