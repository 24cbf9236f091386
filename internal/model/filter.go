package model

import "time"

const (
	DefaultListLimit = 10
	MaxListLimit     = 50
)

// EventFilter holds criteria for querying events.
type EventFilter struct {
	UserID          string     `json:"user_id,omitempty"`
	Type            []string   `json:"type,omitempty"`
	Completed       *bool      `json:"completed,omitempty"`
	Successful      *bool      `json:"successful,omitempty"` // true = success, false = failure; implies completed
	Viewed          *bool      `json:"viewed,omitempty"`
	CompletedBefore *time.Time `json:"completed_before,omitempty"`
	Sort            string     `json:"sort,omitempty"` // e.g. "-completed_at"; prefix "-" = descending
	Limit           int        `json:"limit,omitempty"`
	Offset          int        `json:"offset,omitempty"`
}

// Clamp applies the default and maximum page size.
func (f *EventFilter) Clamp() {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Matches reports whether e satisfies every set criterion except paging.
func (f EventFilter) Matches(e *Event) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if len(f.Type) > 0 {
		found := false
		for _, t := range f.Type {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Completed != nil && e.Completed != *f.Completed {
		return false
	}
	if f.Successful != nil {
		if !e.Completed || e.Status != *f.Successful {
			return false
		}
	}
	if f.Viewed != nil && e.Viewed != *f.Viewed {
		return false
	}
	if f.CompletedBefore != nil {
		if e.CompletedAt == nil || e.CompletedAt.After(*f.CompletedBefore) {
			return false
		}
	}
	return true
}

// BoolPtr returns a pointer to v, for filter fields.
func BoolPtr(v bool) *bool { return &v }
