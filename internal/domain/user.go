package domain

import (
	"time"
)

// User represents a registered account.
//
// PasswordHash and RefreshToken are never serialized: every response payload
// built from a User is sanitized by construction. RefreshToken holds the single
// currently-valid refresh token for the account; overwriting or clearing it
// revokes any previously issued refresh token.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FullName     string    `json:"fullname"`
	Avatar       string    `json:"avatar"`
	CoverImage   string    `json:"cover_image,omitempty"`
	PasswordHash string    `json:"-"`
	RefreshToken string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TokenPair holds an access and refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
