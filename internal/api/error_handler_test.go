package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/99minutos/account-service/internal/core/domain"
)

func TestHTTPErrorHandler_StatusMapping(t *testing.T) {
	verr := domain.NewValidationError()
	verr.Add("email", "email is required")

	cases := map[string]struct {
		err  error
		code int
	}{
		"echo error":         {echo.NewHTTPError(http.StatusUnauthorized, "invalid token"), http.StatusUnauthorized},
		"validation":         {verr, http.StatusBadRequest},
		"credentials":        {domain.ErrInvalidCredentials, http.StatusBadRequest},
		"duplicate":          {domain.ErrDuplicateIdentity, http.StatusBadRequest},
		"invalid token":      {fmt.Errorf("%w: expired", domain.ErrInvalidToken), http.StatusUnauthorized},
		"store unavailable":  {fmt.Errorf("list users: %w", domain.ErrStoreUnavailable), http.StatusServiceUnavailable},
		"unexpected failure": {errors.New("boom"), http.StatusInternalServerError},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			NewHTTPErrorHandler(zerolog.Nop())(tc.err, c)

			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, rec.Code)
			}
			var resp errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if resp.Error == "" {
				t.Fatalf("expected error message")
			}
		})
	}
}

func TestHTTPErrorHandler_DoesNotLeakInternalErrors(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	NewHTTPErrorHandler(zerolog.Nop())(errors.New("pq: password authentication failed"), c)

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Error != "internal server error" {
		t.Fatalf("unexpected message: %s", resp.Error)
	}
}
