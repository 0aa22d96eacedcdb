package models

import "time"

// TransformationScript is a named, versioned procedure applied to a staged
// dataset. Content changes bump the version; a version referenced by a
// completed run's log is treated as immutable history.
type TransformationScript struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Content    string     `json:"content"`
	Version    int        `json:"version"`
	CreatedBy  string     `json:"created_by"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
