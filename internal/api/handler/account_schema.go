package handler

import "time"

type registerRequest struct {
	Email    string `json:"email"    validate:"required,email,max=256"`
	Password string `json:"password" validate:"required"`
	// Username is sent by the browser client but the email is always the
	// login name.
	Username string `json:"username,omitempty"`
}

type createTokenRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type accountResponse struct {
	IsSuccess bool   `json:"isSuccess"`
	Message   string `json:"message,omitempty"`
	Result    any    `json:"result,omitempty"`
}

type tokenResponse struct {
	AccessToken string    `json:"accessToken"`
	Expiration  time.Time `json:"expiration"`
	ID          string    `json:"id"`
	UserName    string    `json:"userName"`
	Email       string    `json:"email"`
	Roles       []string  `json:"roles"`
}

type userRow struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	EmailConfirmed bool   `json:"emailConfirmed"`
	Roles          string `json:"roles"`
}
