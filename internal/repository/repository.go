package repository

import (
	"context"

	"github.com/clipstream/account-service/internal/domain"
)

// UserRepository defines the interface for user persistence operations.
type UserRepository interface {
	// Create inserts a new user into the store. A username or email collision
	// surfaces as an AlreadyExists error.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByUsernameOrEmail retrieves a user matching either the given username
	// or the given email. Either argument may be empty.
	GetByUsernameOrEmail(ctx context.Context, username, email string) (*domain.User, error)

	// UpdateRefreshToken overwrites the stored refresh token for the user.
	// An empty token clears the field, revoking any outstanding refresh token.
	// Only the refresh token column is touched.
	UpdateRefreshToken(ctx context.Context, id, token string) error
}
