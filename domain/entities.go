package domain

import "time"

// Board is a collaborative workspace owned by one user and shared with members.
// The owner is always present in Members.
type Board struct {
	ID        string    `json:"_id"`
	Title     string    `json:"title"`
	Owner     string    `json:"owner"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasMember reports whether userID is the owner or a listed member.
func (b *Board) HasMember(userID string) bool {
	if b.Owner == userID {
		return true
	}
	for _, m := range b.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// List is an ordered column within a board.
type List struct {
	ID        string    `json:"_id"`
	Title     string    `json:"title"`
	Board     string    `json:"board"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Card is a task unit within a list. Board duplicates the parent list's board
// so membership checks and broadcasts need no extra lookup; the card service
// keeps it in sync on moves.
type Card struct {
	ID          string     `json:"_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	List        string     `json:"list"`
	Board       string     `json:"board"`
	Order       int        `json:"order"`
	AssignedTo  string     `json:"assignedTo,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// User mirrors the auth collaborator's account record. The password credential
// never reaches this service.
type User struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
