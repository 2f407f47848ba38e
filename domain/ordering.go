package domain

import (
	"context"
	"fmt"
	"sort"
)

// CardSource supplies the stored cards of a single list.
type CardSource interface {
	CardsByList(ctx context.Context, boardID, listID string) ([]Card, error)
}

// OrderAssignment is a single card position rewrite produced by the engine.
type OrderAssignment struct {
	CardID string
	Order  int
}

// Engine maintains the dense zero-based order of cards within a list. It never
// swaps two orders or shifts a range in place: the source and destination
// lists of a cross-list move carry unrelated sequences, so every operation
// re-sorts a fresh snapshot and emits the full target assignment. That also
// repairs duplicates or gaps left behind by an earlier failed batch.
type Engine struct {
	cards CardSource
}

// NewEngine creates an ordering engine reading snapshots from cards.
func NewEngine(cards CardSource) *Engine { return &Engine{cards: cards} }

// AppendToEnd returns the order for a card appended to the list: the current
// maximum order plus one, or zero when the list is empty. Pure read, existing
// positions are untouched.
func (e *Engine) AppendToEnd(ctx context.Context, boardID, listID string) (int, error) {
	cards, err := e.cards.CardsByList(ctx, boardID, listID)
	if err != nil {
		return 0, err
	}
	max := -1
	for _, c := range cards {
		if c.Order > max {
			max = c.Order
		}
	}
	return max + 1, nil
}

// ReindexAfterRemoval reassigns the remaining cards of a list to positions
// 0..n-1 after a delete, returning only the pairs whose order changed.
func (e *Engine) ReindexAfterRemoval(ctx context.Context, boardID, listID string) ([]OrderAssignment, error) {
	cards, err := e.cards.CardsByList(ctx, boardID, listID)
	if err != nil {
		return nil, err
	}
	return compact(cards, ""), nil
}

// ReindexForRemovalSide compacts the source list of a cross-list move. The
// leaving card is excluded by id because it is still stored in the list when
// the reindex runs.
func (e *Engine) ReindexForRemovalSide(ctx context.Context, boardID, listID, excludeCardID string) ([]OrderAssignment, error) {
	cards, err := e.cards.CardsByList(ctx, boardID, listID)
	if err != nil {
		return nil, err
	}
	return compact(cards, excludeCardID), nil
}

// ReindexForInsertion splices moving into the list at index and returns the
// changed pairs for the resident cards together with the moving card's settled
// order. An index beyond the list length appends; a negative index is
// rejected. This single primitive serves both within-list reorders and the
// destination side of cross-list moves.
func (e *Engine) ReindexForInsertion(ctx context.Context, boardID, listID, excludeCardID string, index int, moving Card) ([]OrderAssignment, int, error) {
	if index < 0 {
		return nil, 0, fmt.Errorf("%w: negative order index %d", ErrInvalidArgument, index)
	}
	cards, err := e.cards.CardsByList(ctx, boardID, listID)
	if err != nil {
		return nil, 0, err
	}
	rest := make([]Card, 0, len(cards))
	for _, c := range cards {
		if c.ID == excludeCardID {
			continue
		}
		rest = append(rest, c)
	}
	sortByOrder(rest)
	if index > len(rest) {
		index = len(rest)
	}
	changed := make([]OrderAssignment, 0, len(rest))
	for i, c := range rest {
		pos := i
		if i >= index {
			pos = i + 1
		}
		if c.Order != pos {
			changed = append(changed, OrderAssignment{CardID: c.ID, Order: pos})
		}
	}
	return changed, index, nil
}

// compact sorts cards by their stored order, drops exclude, and assigns
// positional indexes, keeping only the pairs that differ.
func compact(cards []Card, exclude string) []OrderAssignment {
	rest := make([]Card, 0, len(cards))
	for _, c := range cards {
		if exclude != "" && c.ID == exclude {
			continue
		}
		rest = append(rest, c)
	}
	sortByOrder(rest)
	changed := make([]OrderAssignment, 0, len(rest))
	for i, c := range rest {
		if c.Order != i {
			changed = append(changed, OrderAssignment{CardID: c.ID, Order: i})
		}
	}
	return changed
}

func sortByOrder(cards []Card) {
	sort.SliceStable(cards, func(i, j int) bool { return cards[i].Order < cards[j].Order })
}
