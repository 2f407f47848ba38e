package api

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

type memStore struct {
	mu     sync.Mutex
	boards map[string]domain.Board
	lists  map[string]domain.List
	cards  map[string]domain.Card
	users  map[string]domain.User

	applyErr   error
	applyCalls [][]string
}

func newMemStore() *memStore {
	return &memStore{
		boards: map[string]domain.Board{},
		lists:  map[string]domain.List{},
		cards:  map[string]domain.Card{},
		users:  map[string]domain.User{},
	}
}

func (m *memStore) GetBoard(_ context.Context, id string) (*domain.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.boards[id]; ok {
		return &b, nil
	}
	return nil, nil
}

func (m *memStore) GetList(_ context.Context, id string) (*domain.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.lists[id]; ok {
		return &l, nil
	}
	return nil, nil
}

func (m *memStore) ListsByBoard(_ context.Context, boardID string) ([]domain.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.List
	for _, l := range m.lists {
		if l.Board == boardID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (m *memStore) InsertList(_ context.Context, l domain.List) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[l.ID] = l
	return nil
}

func (m *memStore) UpdateList(_ context.Context, l domain.List) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[l.ID] = l
	return nil
}

func (m *memStore) DeleteList(_ context.Context, l domain.List) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lists, l.ID)
	return nil
}

func (m *memStore) GetCard(_ context.Context, id string) (*domain.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cards[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (m *memStore) CardsByList(_ context.Context, boardID, listID string) ([]domain.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Card
	for _, c := range m.cards {
		if c.Board == boardID && c.List == listID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (m *memStore) InsertCard(_ context.Context, c domain.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards[c.ID] = c
	return nil
}

func (m *memStore) UpdateCard(_ context.Context, c domain.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards[c.ID] = c
	return nil
}

func (m *memStore) DeleteCard(_ context.Context, c domain.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cards, c.ID)
	return nil
}

func (m *memStore) ApplyOrders(_ context.Context, boardID string, listIDs []string, assignments []domain.OrderAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyCalls = append(m.applyCalls, listIDs)
	if m.applyErr != nil {
		return m.applyErr
	}
	for _, a := range assignments {
		c, ok := m.cards[a.CardID]
		if !ok {
			continue
		}
		c.Order = a.Order
		m.cards[a.CardID] = c
	}
	return nil
}

func (m *memStore) GetUser(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

type publishedEvent struct {
	board   string
	event   string
	payload any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (n *recordingNotifier) Publish(_ context.Context, boardID, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, publishedEvent{board: boardID, event: event, payload: payload})
}

func (n *recordingNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.event
	}
	return out
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestService(store *memStore) (*CardService, *recordingNotifier) {
	notifier := &recordingNotifier{}
	return NewCardService(store, NewGuard(store), notifier, quietLogger()), notifier
}

func seedBoard(store *memStore) {
	store.boards["b1"] = domain.Board{ID: "b1", Title: "Roadmap", Owner: "u1", Members: []string{"u2"}}
	store.users["u1"] = domain.User{ID: "u1", Name: "Ann"}
	store.users["u2"] = domain.User{ID: "u2", Name: "Ben"}
	store.users["u9"] = domain.User{ID: "u9", Name: "Zed"}
	store.lists["l1"] = domain.List{ID: "l1", Title: "Todo", Board: "b1", Order: 0}
	store.lists["l2"] = domain.List{ID: "l2", Title: "Doing", Board: "b1", Order: 1}
}

func seedCard(store *memStore, id, listID string, order int) {
	store.cards[id] = domain.Card{ID: id, Title: id, List: listID, Board: "b1", Order: order}
}

func listOrders(t *testing.T, store *memStore, listID string) map[string]int {
	t.Helper()
	cards, err := store.CardsByList(context.Background(), "b1", listID)
	if err != nil {
		t.Fatalf("CardsByList: %v", err)
	}
	out := make(map[string]int, len(cards))
	for _, c := range cards {
		out[c.ID] = c.Order
	}
	return out
}

func assertDense(t *testing.T, store *memStore, listID string) {
	t.Helper()
	cards, err := store.CardsByList(context.Background(), "b1", listID)
	if err != nil {
		t.Fatalf("CardsByList: %v", err)
	}
	for i, c := range cards {
		if c.Order != i {
			t.Fatalf("list %s not dense: card %s has order %d at position %d", listID, c.ID, c.Order, i)
		}
	}
}

func TestCreateAppendsToEnd(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	seedCard(store, "a", "l1", 0)
	seedCard(store, "b", "l1", 1)
	svc, notifier := newTestService(store)

	card, err := svc.Create(context.Background(), "l1", CreateCardInput{Title: "Ship it"}, "u2")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if card.Order != 2 {
		t.Fatalf("expected order 2, got %d", card.Order)
	}
	if card.Board != "b1" || card.List != "l1" {
		t.Fatalf("unexpected placement: %+v", card)
	}
	if got := notifier.names(); len(got) != 1 || got[0] != domain.CardCreated {
		t.Fatalf("expected one cardCreated event, got %v", got)
	}
	assertDense(t, store, "l1")
}

func TestCreateFirstCardGetsOrderZero(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	svc, _ := newTestService(store)

	card, err := svc.Create(context.Background(), "l1", CreateCardInput{Title: "First"}, "u1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if card.Order != 0 {
		t.Fatalf("expected order 0, got %d", card.Order)
	}
}

func TestCreateRequiresTitle(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	svc, notifier := newTestService(store)

	_, err := svc.Create(context.Background(), "l1", CreateCardInput{Title: "   "}, "u1")
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if len(notifier.names()) != 0 {
		t.Fatal("no event expected on rejected create")
	}
}

func TestCreateRejectsOutsideAssignee(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	svc, _ := newTestService(store)

	_, err := svc.Create(context.Background(), "l1", CreateCardInput{Title: "X", AssignedTo: "u9"}, "u1")
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestUpdatePatchSemantics(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	store.cards["a"] = domain.Card{ID: "a", Title: "Old", Description: "keep", List: "l1", Board: "b1", AssignedTo: "u2"}
	svc, notifier := newTestService(store)

	title := "New"
	clear := ""
	card, err := svc.Update(context.Background(), "a", UpdateCardInput{Title: &title, AssignedTo: &clear}, "u1")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if card.Title != "New" {
		t.Fatalf("title not updated: %q", card.Title)
	}
	if card.Description != "keep" {
		t.Fatalf("nil field must stay untouched, got %q", card.Description)
	}
	if card.AssignedTo != "" {
		t.Fatalf("empty assignee must clear, got %q", card.AssignedTo)
	}
	if got := notifier.names(); len(got) != 1 || got[0] != domain.CardUpdated {
		t.Fatalf("expected one cardUpdated event, got %v", got)
	}
}

func TestUpdateRejectsEmptyTitle(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	seedCard(store, "a", "l1", 0)
	svc, _ := newTestService(store)

	empty := ""
	_, err := svc.Update(context.Background(), "a", UpdateCardInput{Title: &empty}, "u1")
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestDeleteCompactsList(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	seedCard(store, "a", "l1", 0)
	seedCard(store, "b", "l1", 1)
	seedCard(store, "c", "l1", 2)
	svc, notifier := newTestService(store)

	if err := svc.Delete(context.Background(), "b", "u2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got := listOrders(t, store, "l1")
	if got["a"] != 0 || got["c"] != 1 {
		t.Fatalf("unexpected orders after delete: %v", got)
	}
	assertDense(t, store, "l1")
	names := notifier.names()
	if len(names) != 2 || names[0] != domain.CardDeleted || names[1] != domain.ListReordered {
		t.Fatalf("expected cardDeleted then listReordered, got %v", names)
	}
}

func TestDeleteLastCardSkipsReorderEvent(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	seedCard(store, "a", "l1", 0)
	seedCard(store, "b", "l1", 1)
	svc, notifier := newTestService(store)

	if err := svc.Delete(context.Background(), "b", "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if names := notifier.names(); len(names) != 1 || names[0] != domain.CardDeleted {
		t.Fatalf("tail delete moves nothing, expected only cardDeleted, got %v", names)
	}
}

func TestMoveWithinList(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	seedCard(store, "a", "l1", 0)
	seedCard(store, "b", "l1", 1)
	seedCard(store, "c", "l1", 2)
	svc, notifier := newTestService(store)

	result, err := svc.Move(context.Background(), "c", "l1", 0, "u2")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if result.Card.Order != 0 {
		t.Fatalf("expected moved card at 0, got %d", result.Card.Order)
	}
	if result.OldListID != "l1" || result.NewListID != "l1" {
		t.Fatalf("unexpected list ids: %+v", result)
	}
	got := listOrders(t, store, "l1")
	want := map[string]int{"c": 0, "a": 1, "b": 2}
	for id, order := range want {
		if got[id] != order {
			t.Fatalf("card %s: want order %d, got %d (all: %v)", id, order, got[id], got)
		}
	}
	assertDense(t, store, "l1")
	if names := notifier.names(); len(names) != 1 || names[0] != domain.CardMoved {
		t.Fatalf("expected one cardMoved event, got %v", names)
	}
}

func TestMoveCrossList(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	seedCard(store, "a", "l1", 0)
	seedCard(store, "b", "l1", 1)
	seedCard(store, "c", "l1", 2)
	seedCard(store, "d", "l2", 0)
	svc, _ := newTestService(store)

	result, err := svc.Move(context.Background(), "b", "l2", 1, "u2")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if result.Card.List != "l2" || result.Card.Order != 1 {
		t.Fatalf("moved card landed wrong: list=%s order=%d", result.Card.List, result.Card.Order)
	}
	if result.OldListID != "l1" || result.NewListID != "l2" {
		t.Fatalf("unexpected list ids: %+v", result)
	}
	src := listOrders(t, store, "l1")
	if src["a"] != 0 || src["c"] != 1 || len(src) != 2 {
		t.Fatalf("source list not compacted: %v", src)
	}
	dst := listOrders(t, store, "l2")
	if dst["d"] != 0 || dst["b"] != 1 {
		t.Fatalf("destination orders wrong: %v", dst)
	}
	assertDense(t, store, "l1")
	assertDense(t, store, "l2")
}

func TestMoveClampsPastEnd(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	seedCard(store, "a", "l1", 0)
	seedCard(store, "b", "l1", 1)
	seedCard(store, "d", "l2", 0)
	svc, _ := newTestService(store)

	result, err := svc.Move(context.Background(), "a", "l2", 99, "u1")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if result.Card.Order != 1 {
		t.Fatalf("index past end must clamp to append, got %d", result.Card.Order)
	}
	assertDense(t, store, "l2")
}

func TestMoveRejectsNegativeIndex(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	seedCard(store, "a", "l1", 0)
	svc, _ := newTestService(store)

	_, err := svc.Move(context.Background(), "a", "l1", -1, "u1")
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestMoveRejectsForeignBoardList(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	store.boards["b2"] = domain.Board{ID: "b2", Title: "Other", Owner: "u1"}
	store.lists["lx"] = domain.List{ID: "lx", Title: "Elsewhere", Board: "b2", Order: 0}
	seedCard(store, "a", "l1", 0)
	svc, _ := newTestService(store)

	_, err := svc.Move(context.Background(), "a", "lx", 0, "u1")
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestMoveForbiddenLeavesStateUntouched(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	seedCard(store, "a", "l1", 0)
	seedCard(store, "b", "l1", 1)
	svc, notifier := newTestService(store)

	_, err := svc.Move(context.Background(), "b", "l1", 0, "u9")
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	got := listOrders(t, store, "l1")
	if got["a"] != 0 || got["b"] != 1 {
		t.Fatalf("rejected move must not touch orders: %v", got)
	}
	if len(notifier.names()) != 0 {
		t.Fatal("no event expected on rejected move")
	}
}

func TestMoveUnknownCard(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	svc, _ := newTestService(store)

	_, err := svc.Move(context.Background(), "ghost", "l1", 0, "u1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMoveBatchFailureSkipsEvent(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	seedCard(store, "a", "l1", 0)
	seedCard(store, "b", "l1", 1)
	store.applyErr = errors.New("table unavailable")
	svc, notifier := newTestService(store)

	_, err := svc.Move(context.Background(), "b", "l1", 0, "u1")
	if err == nil {
		t.Fatal("expected batch failure to surface")
	}
	// The moved card is saved before the sibling batch, so its new position
	// survives even when the batch fails.
	moved, _ := store.GetCard(context.Background(), "b")
	if moved.Order != 0 {
		t.Fatalf("moved card must keep its new order, got %d", moved.Order)
	}
	if len(notifier.names()) != 0 {
		t.Fatal("no cardMoved event on failed move")
	}
}

func TestMoveBatchScopesLists(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	seedCard(store, "a", "l1", 0)
	seedCard(store, "b", "l1", 1)
	seedCard(store, "d", "l2", 0)
	svc, _ := newTestService(store)

	if _, err := svc.Move(context.Background(), "a", "l2", 0, "u1"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if len(store.applyCalls) != 1 {
		t.Fatalf("expected one batch, got %d", len(store.applyCalls))
	}
	lists := store.applyCalls[0]
	if len(lists) != 2 || lists[0] != "l1" || lists[1] != "l2" {
		t.Fatalf("cross-list batch must name both lists, got %v", lists)
	}
}

func TestGetForbiddenForNonMember(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	seedCard(store, "a", "l1", 0)
	svc, _ := newTestService(store)

	_, err := svc.Get(context.Background(), "a", "u9")
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCardsForListSorted(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	seedCard(store, "c", "l1", 2)
	seedCard(store, "a", "l1", 0)
	seedCard(store, "b", "l1", 1)
	svc, _ := newTestService(store)

	cards, err := svc.CardsForList(context.Background(), "l1", "u2")
	if err != nil {
		t.Fatalf("CardsForList: %v", err)
	}
	for i, c := range cards {
		if c.Order != i {
			t.Fatalf("cards not sorted by order: %+v", cards)
		}
	}
}
