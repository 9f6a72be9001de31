package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/account-service/internal/api/metrics"
	"github.com/99minutos/account-service/internal/core/domain"
	"github.com/99minutos/account-service/internal/core/ports"
)

const publicContent = "This is public content"

type AccountHandler struct {
	accounts ports.AccountService
}

func NewAccountHandler(accounts ports.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// Register creates a new account with the default role.
//
// @Summary      Register a new account
// @Tags         account
// @Accept       json
// @Produce      json
// @Param        body  body      registerRequest  true  "Account details"
// @Success      200   {object}  accountResponse
// @Failure      400   {object}  accountResponse
// @Failure      503   {object}  errorResponse
// @Router       /api/account/register [post]
func (h *AccountHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		return c.JSON(http.StatusBadRequest, accountResponse{Message: "invalid payload"})
	}
	if err := c.Validate(&req); err != nil {
		return registerFailure(c, err)
	}

	if err := h.accounts.Register(c.Request().Context(), req.Email, req.Password); err != nil {
		return registerFailure(c, err)
	}

	metrics.RegistrationsTotal.WithLabelValues("success").Inc()
	return c.JSON(http.StatusOK, accountResponse{IsSuccess: true})
}

// registerFailure renders the recoverable registration errors. Anything else
// is left to the HTTP error handler.
func registerFailure(c echo.Context, err error) error {
	var (
		verr *domain.ValidationError
		cerr *domain.CredentialCreationError
	)
	switch {
	case errors.As(err, &verr):
		metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		return c.JSON(http.StatusBadRequest, accountResponse{Message: "bad request", Result: verr.Fields})
	case errors.Is(err, domain.ErrDuplicateIdentity):
		metrics.RegistrationsTotal.WithLabelValues("duplicate").Inc()
		return c.JSON(http.StatusBadRequest, accountResponse{Message: domain.ErrDuplicateIdentity.Error()})
	case errors.As(err, &cerr):
		metrics.RegistrationsTotal.WithLabelValues("rejected").Inc()
		return c.JSON(http.StatusBadRequest, accountResponse{Message: cerr.Reason})
	}
	metrics.RegistrationsTotal.WithLabelValues("error").Inc()
	return err
}

// CreateToken authenticates the caller and returns a signed access token.
// Every credential failure is a bare 400 so callers cannot tell an unknown
// account from a wrong password.
//
// @Summary      Create an access token
// @Tags         account
// @Accept       json
// @Produce      json
// @Param        body  body      createTokenRequest  true  "Credentials"
// @Success      201   {object}  tokenResponse
// @Failure      400
// @Failure      503   {object}  errorResponse
// @Router       /api/account/create-token [post]
func (h *AccountHandler) CreateToken(c echo.Context) error {
	var req createTokenRequest
	if err := c.Bind(&req); err != nil {
		metrics.TokenRequestsTotal.WithLabelValues("invalid").Inc()
		return c.NoContent(http.StatusBadRequest)
	}
	if err := c.Validate(&req); err != nil {
		metrics.TokenRequestsTotal.WithLabelValues("invalid").Inc()
		return c.NoContent(http.StatusBadRequest)
	}

	token, err := h.accounts.CreateToken(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			metrics.TokenRequestsTotal.WithLabelValues("rejected").Inc()
			return c.NoContent(http.StatusBadRequest)
		}
		metrics.TokenRequestsTotal.WithLabelValues("error").Inc()
		return err
	}

	metrics.TokenRequestsTotal.WithLabelValues("issued").Inc()
	return c.JSON(http.StatusCreated, tokenResponse{
		AccessToken: token.AccessToken,
		Expiration:  token.Expiration,
		ID:          token.IdentityID,
		UserName:    token.UserName,
		Email:       token.Email,
		Roles:       token.Roles,
	})
}

// ListUsers returns one row per (account, role) pair.
//
// @Summary      List accounts with their roles
// @Tags         account
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   userRow
// @Failure      401  {object}  errorResponse
// @Failure      503  {object}  errorResponse
// @Router       /api/account [get]
// @Router       /api/account/user [get]
func (h *AccountHandler) ListUsers(c echo.Context) error {
	rows, err := h.accounts.ListUsers(c.Request().Context())
	if err != nil {
		return err
	}

	out := make([]userRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, userRow{
			ID:             r.ID,
			Username:       r.Username,
			Email:          r.Email,
			EmailConfirmed: r.EmailConfirmed,
			Roles:          r.Role,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// Public is an unauthenticated placeholder endpoint.
//
// @Summary      Public content
// @Tags         account
// @Produce      plain
// @Success      200  {string}  string
// @Router       /api/account/all [get]
func (h *AccountHandler) Public(c echo.Context) error {
	return c.String(http.StatusOK, publicContent)
}
