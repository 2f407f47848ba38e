package api

import (
	"context"

	"kanban-api/domain"
)

// Storage abstracts persistence for handlers and services.
type Storage interface {
	GetBoard(ctx context.Context, boardID string) (*domain.Board, error)
	GetList(ctx context.Context, listID string) (*domain.List, error)
	ListsByBoard(ctx context.Context, boardID string) ([]domain.List, error)
	InsertList(ctx context.Context, l domain.List) error
	UpdateList(ctx context.Context, l domain.List) error
	DeleteList(ctx context.Context, l domain.List) error
	GetCard(ctx context.Context, cardID string) (*domain.Card, error)
	CardsByList(ctx context.Context, boardID, listID string) ([]domain.Card, error)
	InsertCard(ctx context.Context, c domain.Card) error
	UpdateCard(ctx context.Context, c domain.Card) error
	DeleteCard(ctx context.Context, c domain.Card) error
	ApplyOrders(ctx context.Context, boardID string, listIDs []string, assignments []domain.OrderAssignment) error
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Notifier fans a named event out to every session on a board's channel.
// Fire and forget: implementations log failures and never surface them to the
// triggering request.
type Notifier interface {
	Publish(ctx context.Context, boardID, event string, payload any)
}
