package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/tavernfall/loreweave-backend/internal/pkg/errors"
)

type errorBody struct {
	Error string `json:"error"`
}

// respondError maps the domain error taxonomy onto status codes. Unknown
// errors become opaque 500s; internals never leak into responses.
func respondError(c *gin.Context, err error) {
	var validationErr *apperrors.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, errorBody{Error: validationErr.Error()})
	case errors.Is(err, apperrors.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid argument"})
	case errors.Is(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, apperrors.ErrQueueFull):
		c.JSON(http.StatusTooManyRequests, errorBody{Error: "note pipeline is at capacity, try again shortly"})
	default:
		c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}
