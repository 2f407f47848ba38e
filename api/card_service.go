package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"kanban-api/domain"
)

// CardService orchestrates card mutations end to end: authorization, order
// computation, persistence and broadcast. Each request is one sequential
// logical operation; there is no cross-request locking, the ordering engine
// always derives positions from a fresh snapshot instead.
type CardService struct {
	store    Storage
	engine   *domain.Engine
	guard    *Guard
	notifier Notifier
	logger   *log.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewCardService wires a CardService over the given collaborators.
func NewCardService(store Storage, guard *Guard, notifier Notifier, logger *log.Logger) *CardService {
	return &CardService{
		store:    store,
		engine:   domain.NewEngine(store),
		guard:    guard,
		notifier: notifier,
		logger:   logger,
		tracer:   otel.Tracer("kanban-api/cards"),
		now:      time.Now,
	}
}

// CreateCardInput carries the client-supplied fields of a new card.
type CreateCardInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	AssignedTo  string `json:"assignedTo"`
	DueDate     string `json:"dueDate"`
}

// UpdateCardInput is a partial patch: nil fields stay untouched, an empty
// assignee or due date clears the value.
type UpdateCardInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	AssignedTo  *string `json:"assignedTo"`
	DueDate     *string `json:"dueDate"`
}

// CardsForList returns the cards of listID sorted by order, after a
// membership check against the list's board.
func (s *CardService) CardsForList(ctx context.Context, listID, userID string) ([]domain.Card, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return nil, fmt.Errorf("%w: list %s", domain.ErrNotFound, listID)
	}
	if _, err := s.guard.RequireMember(ctx, list.Board, userID); err != nil {
		return nil, err
	}
	return s.store.CardsByList(ctx, list.Board, listID)
}

// Get returns a single card after a membership check.
func (s *CardService) Get(ctx context.Context, cardID, userID string) (*domain.Card, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, fmt.Errorf("%w: card %s", domain.ErrNotFound, cardID)
	}
	if _, err := s.guard.RequireMember(ctx, card.Board, userID); err != nil {
		return nil, err
	}
	return card, nil
}

// Create appends a new card to the end of listID. Appending never disturbs
// existing positions, so no sibling reindex is needed.
func (s *CardService) Create(ctx context.Context, listID string, in CreateCardInput, userID string) (*domain.Card, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: please add a title for the card", domain.ErrInvalidArgument)
	}
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return nil, fmt.Errorf("%w: list %s", domain.ErrNotFound, listID)
	}
	board, err := s.guard.RequireMember(ctx, list.Board, userID)
	if err != nil {
		return nil, err
	}
	if in.AssignedTo != "" {
		if err := s.checkAssignee(ctx, board, in.AssignedTo); err != nil {
			return nil, err
		}
	}
	due, err := parseDueDate(in.DueDate)
	if err != nil {
		return nil, err
	}

	order, err := s.engine.AppendToEnd(ctx, list.Board, listID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	card := domain.Card{
		ID:          uuid.NewString(),
		Title:       title,
		Description: in.Description,
		List:        listID,
		Board:       list.Board,
		Order:       order,
		AssignedTo:  in.AssignedTo,
		DueDate:     due,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertCard(ctx, card); err != nil {
		return nil, err
	}
	s.notifier.Publish(ctx, card.Board, domain.CardCreated, card)
	return &card, nil
}

// Update applies a plain field patch. Ordering is never touched here; moves
// go through Move.
func (s *CardService) Update(ctx context.Context, cardID string, in UpdateCardInput, userID string) (*domain.Card, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, fmt.Errorf("%w: card %s", domain.ErrNotFound, cardID)
	}
	board, err := s.guard.RequireMember(ctx, card.Board, userID)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: card title cannot be empty", domain.ErrInvalidArgument)
		}
		card.Title = title
	}
	if in.Description != nil {
		card.Description = *in.Description
	}
	if in.AssignedTo != nil {
		if *in.AssignedTo == "" {
			card.AssignedTo = ""
		} else {
			if err := s.checkAssignee(ctx, board, *in.AssignedTo); err != nil {
				return nil, err
			}
			card.AssignedTo = *in.AssignedTo
		}
	}
	if in.DueDate != nil {
		due, err := parseDueDate(*in.DueDate)
		if err != nil {
			return nil, err
		}
		card.DueDate = due
	}
	card.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateCard(ctx, *card); err != nil {
		return nil, err
	}
	s.notifier.Publish(ctx, card.Board, domain.CardUpdated, *card)
	return card, nil
}

// Delete removes a card and compacts its former list. The compaction is not
// optional: skipping it leaves permanent gaps that compound over repeated
// deletes.
func (s *CardService) Delete(ctx context.Context, cardID, userID string) error {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return err
	}
	if card == nil {
		return fmt.Errorf("%w: card %s", domain.ErrNotFound, cardID)
	}
	if _, err := s.guard.RequireMember(ctx, card.Board, userID); err != nil {
		return err
	}

	if err := s.store.DeleteCard(ctx, *card); err != nil {
		return err
	}
	assignments, err := s.engine.ReindexAfterRemoval(ctx, card.Board, card.List)
	if err != nil {
		return err
	}
	if err := s.store.ApplyOrders(ctx, card.Board, []string{card.List}, assignments); err != nil {
		return err
	}

	s.notifier.Publish(ctx, card.Board, domain.CardDeleted, domain.CardDeletedEvent{
		ID:    card.ID,
		List:  card.List,
		Board: card.Board,
	})
	if len(assignments) > 0 {
		pairs := make([]domain.CardOrder, len(assignments))
		for i, a := range assignments {
			pairs[i] = domain.CardOrder{ID: a.CardID, Order: a.Order}
		}
		s.notifier.Publish(ctx, card.Board, domain.ListReordered, domain.ListReorderedEvent{
			ListID: card.List,
			Cards:  pairs,
		})
	}
	return nil
}

// Move relocates a card to index within targetListID, which may be the card's
// current list or a sibling list on the same board. The moved card is saved
// first, then every other changed position is applied as one atomic batch; a
// failure between the two leaves a transient inconsistency that the next
// structural operation on the list repairs.
func (s *CardService) Move(ctx context.Context, cardID, targetListID string, index int, userID string) (result *domain.CardMovedEvent, err error) {
	ctx, span := s.tracer.Start(ctx, "cards.move", trace.WithAttributes(
		attribute.String("card.id", cardID),
		attribute.String("list.target", targetListID),
		attribute.Int("order.index", index),
	))
	defer span.End()

	metrics := newMoveRequestMetrics(s.logger)
	defer func() {
		metrics.Log(err)
		if err != nil {
			span.RecordError(err)
		}
	}()

	if index < 0 {
		metrics.SetErrorStage("validate")
		return nil, fmt.Errorf("%w: newOrderIndex must be zero or positive", domain.ErrInvalidArgument)
	}
	if targetListID == "" {
		metrics.SetErrorStage("validate")
		return nil, fmt.Errorf("%w: targetListId is required", domain.ErrInvalidArgument)
	}

	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		metrics.SetErrorStage("load_card")
		return nil, err
	}
	if card == nil {
		metrics.SetErrorStage("load_card")
		return nil, fmt.Errorf("%w: card %s", domain.ErrNotFound, cardID)
	}
	target, err := s.store.GetList(ctx, targetListID)
	if err != nil {
		metrics.SetErrorStage("load_target")
		return nil, err
	}
	if target == nil {
		metrics.SetErrorStage("load_target")
		return nil, fmt.Errorf("%w: list %s", domain.ErrNotFound, targetListID)
	}

	guardStart := time.Now()
	_, err = s.guard.RequireMember(ctx, card.Board, userID)
	metrics.ObserveGuard(time.Since(guardStart))
	if err != nil {
		metrics.SetErrorStage("guard")
		return nil, err
	}
	if target.Board != card.Board {
		metrics.SetErrorStage("validate")
		return nil, fmt.Errorf("%w: cannot move card to a list on a different board", domain.ErrInvalidArgument)
	}

	oldListID := card.List
	crossList := oldListID != targetListID
	metrics.SetCrossList(crossList)

	reindexStart := time.Now()
	var assignments []domain.OrderAssignment
	var settled int
	if crossList {
		srcAssignments, rerr := s.engine.ReindexForRemovalSide(ctx, card.Board, oldListID, card.ID)
		if rerr != nil {
			metrics.SetErrorStage("reindex")
			return nil, rerr
		}
		dstAssignments, dstSettled, rerr := s.engine.ReindexForInsertion(ctx, card.Board, targetListID, card.ID, index, *card)
		if rerr != nil {
			metrics.SetErrorStage("reindex")
			return nil, rerr
		}
		// Source and destination touch disjoint cards by construction.
		assignments = append(srcAssignments, dstAssignments...)
		settled = dstSettled
	} else {
		assignments, settled, err = s.engine.ReindexForInsertion(ctx, card.Board, targetListID, card.ID, index, *card)
		if err != nil {
			metrics.SetErrorStage("reindex")
			return nil, err
		}
	}
	metrics.ObserveReindex(time.Since(reindexStart))
	metrics.SetCardsReindexed(len(assignments))

	card.List = targetListID
	card.Order = settled
	card.UpdatedAt = s.now().UTC()

	persistStart := time.Now()
	if err = s.store.UpdateCard(ctx, *card); err != nil {
		metrics.SetErrorStage("persist_card")
		return nil, err
	}
	lists := []string{oldListID}
	if crossList {
		lists = append(lists, targetListID)
	}
	if err = s.store.ApplyOrders(ctx, card.Board, lists, assignments); err != nil {
		metrics.SetErrorStage("persist_batch")
		return nil, err
	}
	metrics.ObservePersist(time.Since(persistStart))

	// Reload the authoritative representation rather than echoing
	// client-asserted fields.
	reloaded, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		metrics.SetErrorStage("reload")
		return nil, err
	}
	if reloaded == nil {
		metrics.SetErrorStage("reload")
		return nil, fmt.Errorf("card %s vanished during move", cardID)
	}

	result = &domain.CardMovedEvent{Card: *reloaded, OldListID: oldListID, NewListID: targetListID}
	s.notifier.Publish(ctx, card.Board, domain.CardMoved, result)
	return result, nil
}

func (s *CardService) checkAssignee(ctx context.Context, board *domain.Board, assigneeID string) error {
	user, err := s.store.GetUser(ctx, assigneeID)
	if err != nil {
		return err
	}
	if user == nil || !board.HasMember(assigneeID) {
		return fmt.Errorf("%w: assignee must be a member of the board", domain.ErrInvalidArgument)
	}
	return nil
}

func parseDueDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: invalid due date %q", domain.ErrInvalidArgument, raw)
}
