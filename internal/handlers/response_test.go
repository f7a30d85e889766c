package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	apperrors "github.com/tavernfall/loreweave-backend/internal/pkg/errors"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantOpaque bool
	}{
		{"validation", &apperrors.ValidationError{Field: "title", Message: "required"}, http.StatusBadRequest, false},
		{"invalid argument", apperrors.ErrInvalidArgument, http.StatusBadRequest, false},
		{"not found", apperrors.ErrNotFound, http.StatusNotFound, false},
		{"queue full", apperrors.ErrQueueFull, http.StatusTooManyRequests, false},
		{"lookalike text is not a match", errors.New("wrap: " + apperrors.ErrNotFound.Error()), http.StatusInternalServerError, true},
		{"unknown", errors.New("pg: connection refused"), http.StatusInternalServerError, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(recorder)
			respondError(ctx, c.err)

			if recorder.Code != c.wantStatus {
				t.Fatalf("status: want=%d got=%d", c.wantStatus, recorder.Code)
			}
			var body errorBody
			if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
				t.Fatalf("body: %v", err)
			}
			if body.Error == "" {
				t.Fatalf("empty error message")
			}
			// Internal failure details must never reach the client.
			if c.wantOpaque && body.Error != "internal error" {
				t.Fatalf("leaked internals: %q", body.Error)
			}
		})
	}
}

func TestPathUUID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Params = gin.Params{{Key: "id", Value: "6ba7b810-9dad-11d1-80b4-00c04fd430c8"}}
	if _, ok := pathUUID(ctx, "id"); !ok {
		t.Fatalf("valid uuid rejected")
	}

	recorder = httptest.NewRecorder()
	ctx, _ = gin.CreateTestContext(recorder)
	ctx.Params = gin.Params{{Key: "id", Value: "not-a-uuid"}}
	if _, ok := pathUUID(ctx, "id"); ok {
		t.Fatalf("invalid uuid accepted")
	}
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status: want=400 got=%d", recorder.Code)
	}
}
