package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"livepoll-backend/internal/apperr"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"validation", apperr.Validation("bad option"), fiber.StatusBadRequest, "VALIDATION_FAILED", "bad option"},
		{"not found", apperr.NotFound("poll"), fiber.StatusNotFound, "NOT_FOUND", "poll not found"},
		{"conflict", apperr.ErrRoomFull, fiber.StatusConflict, "ROOM_FULL", "room is full"},
		{"forbidden", apperr.Forbidden("hosts only"), fiber.StatusForbidden, "FORBIDDEN", "hosts only"},
		{"internal hides cause", apperr.Internal("db down", errors.New("dial tcp: refused")), fiber.StatusInternalServerError, "INTERNAL", "internal server error"},
		{"plain error", errors.New("boom"), fiber.StatusInternalServerError, "INTERNAL", "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error {
				return respondError(c, tt.err)
			})

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var body struct {
				Error string `json:"error"`
				Code  string `json:"code"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Code != tt.wantCode || body.Error != tt.wantMsg {
				t.Errorf("body = %+v, want code %s message %q", body, tt.wantCode, tt.wantMsg)
			}
		})
	}
}

func TestParamID(t *testing.T) {
	app := fiber.New()
	app.Get("/rooms/:roomId", func(c *fiber.Ctx) error {
		id, ok := paramID(c, "roomId")
		if !ok {
			return badRequest(c, "invalid room id")
		}
		return c.JSON(fiber.Map{"id": id})
	})

	tests := map[string]int{
		"/rooms/12":  fiber.StatusOK,
		"/rooms/0":   fiber.StatusBadRequest,
		"/rooms/-3":  fiber.StatusBadRequest,
		"/rooms/abc": fiber.StatusBadRequest,
	}
	for path, want := range tests {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("%s: status = %d, want %d", path, resp.StatusCode, want)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := sanitizeString("  Ali\x00ce\t\n"); got != "Alice" {
		t.Errorf("sanitizeString = %q, want Alice", got)
	}
}
