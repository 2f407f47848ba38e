package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"kanban-api/domain"
)

type messageResponse struct {
	Message string `json:"message"`
}

// respondError maps the domain error taxonomy onto HTTP statuses. Anything
// outside the taxonomy is an internal failure: logged, reported generically.
func respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, messageResponse{Message: err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		return c.JSON(http.StatusForbidden, messageResponse{Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidArgument):
		return c.JSON(http.StatusBadRequest, messageResponse{Message: err.Error()})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, messageResponse{Message: "server error"})
	}
}
