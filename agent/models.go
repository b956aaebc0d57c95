package agent

import "time"

// Profile captures the subset of agent data exposed via the public API layer.
type Profile struct {
	UserID      string
	DisplayName string
	Trade       string
	// BaseRate is the agent's standing rate as written by the agent, e.g.
	// "£45/hour". It is informational and used as a fallback price.
	BaseRate  string
	Bio       string
	Suspended bool
	UpdatedAt time.Time
}

// UpdateParams carries an agent's edit of their own profile.
type UpdateParams struct {
	UserID   string
	Trade    string
	BaseRate string
	Bio      string
}

// ListFilter narrows List.
type ListFilter struct {
	Trade string
	Limit int
}
