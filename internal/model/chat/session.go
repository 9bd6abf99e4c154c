package chat

import "time"

// Session captures the persisted conversation of one anonymous visitor.
// LockedName is empty until the visitor introduces themselves; once set it never changes.
type Session struct {
	VisitorToken string    `json:"visitorToken"`
	LockedName   string    `json:"lockedName,omitempty"`
	Transcript   []Turn    `json:"transcript"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasLockedName reports whether the visitor has a permanent display name.
func (s *Session) HasLockedName() bool {
	return s != nil && s.LockedName != ""
}
