package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"kanban-api/domain"
)

type stubBackend struct {
	cardsByListFn func(ctx context.Context, boardID, listID string) ([]domain.Card, error)
	listsFn       func(ctx context.Context, boardID string) ([]domain.List, error)
	applyOrdersFn func(ctx context.Context, boardID string, listIDs []string, asgs []domain.OrderAssignment) error
	writeErr      error
}

func (s *stubBackend) CardsByList(ctx context.Context, boardID, listID string) ([]domain.Card, error) {
	if s.cardsByListFn == nil {
		return nil, errors.New("unexpected CardsByList call")
	}
	return s.cardsByListFn(ctx, boardID, listID)
}

func (s *stubBackend) ListsByBoard(ctx context.Context, boardID string) ([]domain.List, error) {
	if s.listsFn == nil {
		return nil, errors.New("unexpected ListsByBoard call")
	}
	return s.listsFn(ctx, boardID)
}

func (s *stubBackend) InsertCard(ctx context.Context, c domain.Card) error { return s.writeErr }
func (s *stubBackend) UpdateCard(ctx context.Context, c domain.Card) error { return s.writeErr }
func (s *stubBackend) DeleteCard(ctx context.Context, c domain.Card) error { return s.writeErr }
func (s *stubBackend) InsertList(ctx context.Context, l domain.List) error { return s.writeErr }
func (s *stubBackend) UpdateList(ctx context.Context, l domain.List) error { return s.writeErr }
func (s *stubBackend) DeleteList(ctx context.Context, l domain.List) error { return s.writeErr }

func (s *stubBackend) ApplyOrders(ctx context.Context, boardID string, listIDs []string, asgs []domain.OrderAssignment) error {
	if s.applyOrdersFn != nil {
		return s.applyOrdersFn(ctx, boardID, listIDs, asgs)
	}
	return s.writeErr
}

func newCacheForTest(t *testing.T, base backend) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCache(base, client, time.Minute), mr
}

func cardFixture() domain.Card {
	return domain.Card{ID: "c1", Title: "Ship it", List: "l1", Board: "b1", Order: 0, AssignedTo: "u2"}
}

func TestCacheCardsByListMissThenHit(t *testing.T) {
	ctx := context.Background()
	expected := []domain.Card{cardFixture()}

	var calls int
	cache, mr := newCacheForTest(t, &stubBackend{
		cardsByListFn: func(ctx context.Context, boardID, listID string) ([]domain.Card, error) {
			calls++
			if boardID != "b1" || listID != "l1" {
				t.Fatalf("unexpected args: %s %s", boardID, listID)
			}
			return append([]domain.Card(nil), expected...), nil
		},
	})

	for i := 0; i < 2; i++ {
		cards, err := cache.CardsByList(ctx, "b1", "l1")
		if err != nil {
			t.Fatalf("fetch cards: %v", err)
		}
		if !reflect.DeepEqual(cards, expected) {
			t.Fatalf("unexpected cards: %#v", cards)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 backend call, got %d", calls)
	}
	if ttl := mr.TTL(cardsCacheKey("l1")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
}

func TestCacheApplyOrdersEvictsNamedLists(t *testing.T) {
	ctx := context.Background()
	cache, mr := newCacheForTest(t, &stubBackend{
		cardsByListFn: func(ctx context.Context, boardID, listID string) ([]domain.Card, error) {
			return []domain.Card{cardFixture()}, nil
		},
	})

	if _, err := cache.CardsByList(ctx, "b1", "l1"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if !mr.Exists(cardsCacheKey("l1")) {
		t.Fatal("expected cached snapshot")
	}

	err := cache.ApplyOrders(ctx, "b1", []string{"l1", "l2"}, []domain.OrderAssignment{{CardID: "c1", Order: 1}})
	if err != nil {
		t.Fatalf("apply orders: %v", err)
	}
	if mr.Exists(cardsCacheKey("l1")) {
		t.Fatal("expected snapshot evicted after order rewrite")
	}
}

func TestCacheWriteFailureKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("store down")
	cache, mr := newCacheForTest(t, &stubBackend{
		cardsByListFn: func(ctx context.Context, boardID, listID string) ([]domain.Card, error) {
			return []domain.Card{cardFixture()}, nil
		},
		writeErr: boom,
	})

	if _, err := cache.CardsByList(ctx, "b1", "l1"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if err := cache.InsertCard(ctx, cardFixture()); !errors.Is(err, boom) {
		t.Fatalf("expected write error, got %v", err)
	}
	if !mr.Exists(cardsCacheKey("l1")) {
		t.Fatal("failed write must not evict")
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	ctx := context.Background()
	var calls int
	cache, mr := newCacheForTest(t, &stubBackend{
		listsFn: func(ctx context.Context, boardID string) ([]domain.List, error) {
			calls++
			return []domain.List{{ID: "l1", Board: "b1", Title: "Todo"}}, nil
		},
	})

	mr.Set(listsCacheKey("b1"), "not json")
	lists, err := cache.ListsByBoard(ctx, "b1")
	if err != nil {
		t.Fatalf("fetch lists: %v", err)
	}
	if calls != 1 || len(lists) != 1 {
		t.Fatalf("expected backend fallback, calls=%d lists=%v", calls, lists)
	}
	if mr.Exists(listsCacheKey("b1")) && mr.TTL(listsCacheKey("b1")) == 0 {
		t.Fatal("corrupt entry should be dropped or rewritten")
	}
}
