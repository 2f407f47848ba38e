package api

import (
	"context"
	"fmt"

	"kanban-api/domain"
)

// Guard resolves whether an actor may act on a board. Lists are structural
// and owner-gated; cards are collaborative and member-gated. Both checks are
// pure reads.
type Guard struct {
	store Storage
}

// NewGuard creates a Guard reading boards from store.
func NewGuard(store Storage) *Guard { return &Guard{store: store} }

// RequireMember loads the board and verifies userID is its owner or a member.
func (g *Guard) RequireMember(ctx context.Context, boardID, userID string) (*domain.Board, error) {
	board, err := g.store.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if board == nil {
		return nil, fmt.Errorf("%w: board %s", domain.ErrNotFound, boardID)
	}
	if !board.HasMember(userID) {
		return nil, fmt.Errorf("%w: not a member of this board", domain.ErrForbidden)
	}
	return board, nil
}

// RequireOwner loads the board and verifies userID owns it.
func (g *Guard) RequireOwner(ctx context.Context, boardID, userID string) (*domain.Board, error) {
	board, err := g.store.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if board == nil {
		return nil, fmt.Errorf("%w: board %s", domain.ErrNotFound, boardID)
	}
	if board.Owner != userID {
		return nil, fmt.Errorf("%w: only the board owner may do this", domain.ErrForbidden)
	}
	return board, nil
}
