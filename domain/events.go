package domain

// Event names published on a board's channel.
const (
	CardCreated   = "cardCreated"
	CardUpdated   = "cardUpdated"
	CardDeleted   = "cardDeleted"
	CardMoved     = "cardMoved"
	ListReordered = "listReordered"
)

// CardDeletedEvent is the payload of a cardDeleted broadcast.
type CardDeletedEvent struct {
	ID    string `json:"_id"`
	List  string `json:"list"`
	Board string `json:"board"`
}

// CardMovedEvent is the payload of a cardMoved broadcast and of the move
// endpoint's response body.
type CardMovedEvent struct {
	Card      Card   `json:"card"`
	OldListID string `json:"oldListId"`
	NewListID string `json:"newListId"`
}

// CardOrder is one id to order pair of a listReordered broadcast.
type CardOrder struct {
	ID    string `json:"_id"`
	Order int    `json:"order"`
}

// ListReorderedEvent carries the compacted orders of a list after a delete.
type ListReorderedEvent struct {
	ListID string      `json:"listId"`
	Cards  []CardOrder `json:"cards"`
}
