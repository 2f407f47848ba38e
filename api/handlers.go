package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

const requestBodyMaxSize = 64 * 1024 // 64 KiB

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, notifier Notifier, logger *log.Logger) {
	guard := NewGuard(store)
	cards := NewCardService(store, guard, notifier, logger)

	e.GET("/healthz", healthz())

	e.GET("/api/boards/:boardId/lists", getLists(store, auth, guard))
	e.POST("/api/boards/:boardId/lists", createList(store, auth, guard))
	e.GET("/api/lists/:listId", getList(store, auth, guard))
	e.PUT("/api/lists/:listId", updateList(store, auth, guard))
	e.DELETE("/api/lists/:listId", deleteList(store, auth, guard))

	e.GET("/api/lists/:listId/cards", getCards(cards, auth))
	e.POST("/api/lists/:listId/cards", createCard(cards, auth))
	e.GET("/api/cards/:id", getCard(cards, auth))
	e.PUT("/api/cards/:id", updateCard(cards, auth))
	e.DELETE("/api/cards/:id", deleteCard(cards, auth))
	e.PUT("/api/cards/:id/move", moveCard(cards, auth))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func requireUser(c echo.Context, auth Authenticator) (string, bool) {
	userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		_ = c.String(http.StatusUnauthorized, err.Error())
		return "", false
	}
	return userID, true
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func getLists(store Storage, auth Authenticator, guard *Guard) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := requireUser(c, auth)
		if !ok {
			return nil
		}
		ctx := c.Request().Context()
		if _, err := guard.RequireMember(ctx, c.Param("boardId"), userID); err != nil {
			return respondError(c, err)
		}
		lists, err := store.ListsByBoard(ctx, c.Param("boardId"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, lists)
	}
}

type createListRequest struct {
	Title string `json:"title"`
}

func createList(store Storage, auth Authenticator, guard *Guard) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := requireUser(c, auth)
		if !ok {
			return nil
		}
		var req createListRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, messageResponse{Message: "invalid body"})
		}
		title := strings.TrimSpace(req.Title)
		if title == "" {
			return c.JSON(http.StatusBadRequest, messageResponse{Message: "please add a title for the list"})
		}
		ctx := c.Request().Context()
		boardID := c.Param("boardId")
		if _, err := guard.RequireOwner(ctx, boardID, userID); err != nil {
			return respondError(c, err)
		}
		siblings, err := store.ListsByBoard(ctx, boardID)
		if err != nil {
			return respondError(c, err)
		}
		order := 0
		for _, l := range siblings {
			if l.Order >= order {
				order = l.Order + 1
			}
		}
		now := time.Now().UTC()
		list := domain.List{
			ID:        uuid.NewString(),
			Title:     title,
			Board:     boardID,
			Order:     order,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := store.InsertList(ctx, list); err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusCreated, list)
	}
}

func getList(store Storage, auth Authenticator, guard *Guard) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := requireUser(c, auth)
		if !ok {
			return nil
		}
		ctx := c.Request().Context()
		list, err := store.GetList(ctx, c.Param("listId"))
		if err != nil {
			return respondError(c, err)
		}
		if list == nil {
			return respondError(c, fmt.Errorf("%w: list %s", domain.ErrNotFound, c.Param("listId")))
		}
		if _, err := guard.RequireMember(ctx, list.Board, userID); err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, list)
	}
}

type updateListRequest struct {
	Title *string `json:"title"`
	Order *int    `json:"order"`
}

func updateList(store Storage, auth Authenticator, guard *Guard) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := requireUser(c, auth)
		if !ok {
			return nil
		}
		var req updateListRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, messageResponse{Message: "invalid body"})
		}
		ctx := c.Request().Context()
		list, err := store.GetList(ctx, c.Param("listId"))
		if err != nil {
			return respondError(c, err)
		}
		if list == nil {
			return respondError(c, fmt.Errorf("%w: list %s", domain.ErrNotFound, c.Param("listId")))
		}
		if _, err := guard.RequireOwner(ctx, list.Board, userID); err != nil {
			return respondError(c, err)
		}
		if req.Title != nil {
			title := strings.TrimSpace(*req.Title)
			if title == "" {
				return c.JSON(http.StatusBadRequest, messageResponse{Message: "list title cannot be empty"})
			}
			list.Title = title
		}
		if req.Order != nil {
			if *req.Order < 0 {
				return c.JSON(http.StatusBadRequest, messageResponse{Message: "order must be zero or positive"})
			}
			list.Order = *req.Order
		}
		list.UpdatedAt = time.Now().UTC()
		if err := store.UpdateList(ctx, *list); err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, list)
	}
}

func deleteList(store Storage, auth Authenticator, guard *Guard) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := requireUser(c, auth)
		if !ok {
			return nil
		}
		ctx := c.Request().Context()
		list, err := store.GetList(ctx, c.Param("listId"))
		if err != nil {
			return respondError(c, err)
		}
		if list == nil {
			return respondError(c, fmt.Errorf("%w: list %s", domain.ErrNotFound, c.Param("listId")))
		}
		if _, err := guard.RequireOwner(ctx, list.Board, userID); err != nil {
			return respondError(c, err)
		}
		if err := store.DeleteList(ctx, *list); err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "List removed"})
	}
}

func getCards(cards *CardService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := requireUser(c, auth)
		if !ok {
			return nil
		}
		out, err := cards.CardsForList(c.Request().Context(), c.Param("listId"), userID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, out)
	}
}

func createCard(cards *CardService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := requireUser(c, auth)
		if !ok {
			return nil
		}
		var req CreateCardInput
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, messageResponse{Message: "invalid body"})
		}
		card, err := cards.Create(c.Request().Context(), c.Param("listId"), req, userID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusCreated, card)
	}
}

func getCard(cards *CardService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := requireUser(c, auth)
		if !ok {
			return nil
		}
		card, err := cards.Get(c.Request().Context(), c.Param("id"), userID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, card)
	}
}

func updateCard(cards *CardService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := requireUser(c, auth)
		if !ok {
			return nil
		}
		var req UpdateCardInput
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, messageResponse{Message: "invalid body"})
		}
		card, err := cards.Update(c.Request().Context(), c.Param("id"), req, userID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, card)
	}
}

func deleteCard(cards *CardService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := requireUser(c, auth)
		if !ok {
			return nil
		}
		if err := cards.Delete(c.Request().Context(), c.Param("id"), userID); err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "Card removed"})
	}
}

type moveCardRequest struct {
	TargetListID  string `json:"targetListId"`
	NewOrderIndex *int   `json:"newOrderIndex"`
}

func moveCard(cards *CardService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := requireUser(c, auth)
		if !ok {
			return nil
		}
		var req moveCardRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, messageResponse{Message: "invalid body"})
		}
		if req.NewOrderIndex == nil {
			return c.JSON(http.StatusBadRequest, messageResponse{Message: "newOrderIndex is required"})
		}
		result, err := cards.Move(c.Request().Context(), c.Param("id"), req.TargetListID, *req.NewOrderIndex, userID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, result)
	}
}
