package api

import (
	"context"
	"errors"
	"testing"

	"kanban-api/domain"
)

func TestRequireMember(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	guard := NewGuard(store)
	ctx := context.Background()

	for _, userID := range []string{"u1", "u2"} {
		board, err := guard.RequireMember(ctx, "b1", userID)
		if err != nil {
			t.Fatalf("user %s: %v", userID, err)
		}
		if board.ID != "b1" {
			t.Fatalf("unexpected board %+v", board)
		}
	}

	if _, err := guard.RequireMember(ctx, "b1", "u9"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := guard.RequireMember(ctx, "nope", "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRequireOwner(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	guard := NewGuard(store)
	ctx := context.Background()

	if _, err := guard.RequireOwner(ctx, "b1", "u1"); err != nil {
		t.Fatalf("owner: %v", err)
	}
	// Membership is not enough for owner-gated operations.
	if _, err := guard.RequireOwner(ctx, "b1", "u2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for member, got %v", err)
	}
	if _, err := guard.RequireOwner(ctx, "nope", "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
