package memory

import "time"

// Fact is an atomic piece of knowledge about a named owner.
// OwnerName is the locked display name, compared case-sensitively; there is no
// reference back to the session that produced the fact.
type Fact struct {
	ID        string    `json:"id"`
	OwnerName string    `json:"ownerName"`
	Content   string    `json:"content"`
	IsPrivate bool      `json:"isPrivate"`
	CreatedAt time.Time `json:"createdAt"`
}
