package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"kanban-api/domain"
)

type backend interface {
	CardsByList(ctx context.Context, boardID, listID string) ([]domain.Card, error)
	ListsByBoard(ctx context.Context, boardID string) ([]domain.List, error)
	InsertCard(ctx context.Context, c domain.Card) error
	UpdateCard(ctx context.Context, c domain.Card) error
	DeleteCard(ctx context.Context, c domain.Card) error
	ApplyOrders(ctx context.Context, boardID string, listIDs []string, assignments []domain.OrderAssignment) error
	InsertList(ctx context.Context, l domain.List) error
	UpdateList(ctx context.Context, l domain.List) error
	DeleteList(ctx context.Context, l domain.List) error
}

// Cache wraps a Storage instance with Redis-backed caching for the hot list
// snapshot reads. Every structural write evicts the snapshots it invalidates,
// so the ordering engine always reindexes from fresh data after a mutation.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

func (c *Cache) CardsByList(ctx context.Context, boardID, listID string) ([]domain.Card, error) {
	if cards, ok := c.loadCards(ctx, listID); ok {
		return cards, nil
	}

	cards, err := c.base.CardsByList(ctx, boardID, listID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, cardsCacheKey(listID), cards)
	return cards, nil
}

func (c *Cache) ListsByBoard(ctx context.Context, boardID string) ([]domain.List, error) {
	if lists, ok := c.loadLists(ctx, boardID); ok {
		return lists, nil
	}

	lists, err := c.base.ListsByBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, listsCacheKey(boardID), lists)
	return lists, nil
}

func (c *Cache) InsertCard(ctx context.Context, card domain.Card) error {
	if err := c.base.InsertCard(ctx, card); err != nil {
		return err
	}
	c.evict(ctx, cardsCacheKey(card.List))
	return nil
}

func (c *Cache) UpdateCard(ctx context.Context, card domain.Card) error {
	if err := c.base.UpdateCard(ctx, card); err != nil {
		return err
	}
	c.evict(ctx, cardsCacheKey(card.List))
	return nil
}

func (c *Cache) DeleteCard(ctx context.Context, card domain.Card) error {
	if err := c.base.DeleteCard(ctx, card); err != nil {
		return err
	}
	c.evict(ctx, cardsCacheKey(card.List))
	return nil
}

func (c *Cache) ApplyOrders(ctx context.Context, boardID string, listIDs []string, assignments []domain.OrderAssignment) error {
	if err := c.base.ApplyOrders(ctx, boardID, listIDs, assignments); err != nil {
		return err
	}
	keys := make([]string, 0, len(listIDs))
	for _, id := range listIDs {
		keys = append(keys, cardsCacheKey(id))
	}
	c.evict(ctx, keys...)
	return nil
}

func (c *Cache) InsertList(ctx context.Context, l domain.List) error {
	if err := c.base.InsertList(ctx, l); err != nil {
		return err
	}
	c.evict(ctx, listsCacheKey(l.Board))
	return nil
}

func (c *Cache) UpdateList(ctx context.Context, l domain.List) error {
	if err := c.base.UpdateList(ctx, l); err != nil {
		return err
	}
	c.evict(ctx, listsCacheKey(l.Board))
	return nil
}

func (c *Cache) DeleteList(ctx context.Context, l domain.List) error {
	if err := c.base.DeleteList(ctx, l); err != nil {
		return err
	}
	c.evict(ctx, listsCacheKey(l.Board), cardsCacheKey(l.ID))
	return nil
}

func (c *Cache) loadCards(ctx context.Context, listID string) ([]domain.Card, bool) {
	data, ok := c.load(ctx, cardsCacheKey(listID))
	if !ok {
		return nil, false
	}
	var cards []domain.Card
	if err := json.Unmarshal(data, &cards); err != nil {
		c.evict(ctx, cardsCacheKey(listID))
		return nil, false
	}
	return cards, true
}

func (c *Cache) loadLists(ctx context.Context, boardID string) ([]domain.List, bool) {
	data, ok := c.load(ctx, listsCacheKey(boardID))
	if !ok {
		return nil, false
	}
	var lists []domain.List
	if err := json.Unmarshal(data, &lists); err != nil {
		c.evict(ctx, listsCacheKey(boardID))
		return nil, false
	}
	return lists, true
}

func (c *Cache) load(ctx context.Context, key string) ([]byte, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	return data, true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil || len(keys) == 0 {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func cardsCacheKey(listID string) string {
	return "cards:" + listID
}

func listsCacheKey(boardID string) string {
	return "lists:" + boardID
}
