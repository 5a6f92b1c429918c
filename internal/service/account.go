package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/clipstream/account-service/internal/auth"
	"github.com/clipstream/account-service/internal/domain"
	"github.com/clipstream/account-service/internal/event"
	"github.com/clipstream/account-service/internal/repository"
	"github.com/clipstream/account-service/internal/storage"
	apperrors "github.com/clipstream/account-service/pkg/errors"
)

// bcryptCost is the cost factor for bcrypt password hashing.
const bcryptCost = 12

// AccountService implements the registration, login, logout, and token
// refresh flows. All session state lives on the user record: the single
// refresh_token field is the source of truth for refresh validity.
type AccountService struct {
	repo     repository.UserRepository
	uploader storage.Uploader
	tokens   *auth.TokenManager
	producer *event.Producer
	logger   *slog.Logger
}

// NewAccountService creates a new account service.
func NewAccountService(
	repo repository.UserRepository,
	uploader storage.Uploader,
	tokens *auth.TokenManager,
	producer *event.Producer,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		repo:     repo,
		uploader: uploader,
		tokens:   tokens,
		producer: producer,
		logger:   logger,
	}
}

// RegisterInput holds the parameters for registering a new account.
// AvatarPath and CoverImagePath point at files staged on local disk by the
// upload middleware.
type RegisterInput struct {
	FullName       string
	Email          string
	Username       string
	Password       string
	AvatarPath     string
	CoverImagePath string
}

// LoginInput holds the parameters for logging in. At least one of Username or
// Email must be set.
type LoginInput struct {
	Username string
	Email    string
	Password string
}

// Register creates a new account: it uploads the avatar and cover image,
// stores the user with a normalized username and hashed password, and returns
// the freshly re-fetched record.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	if strings.TrimSpace(input.FullName) == "" {
		return nil, apperrors.InvalidInput("fullname is required")
	}
	if strings.TrimSpace(input.Email) == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	if strings.TrimSpace(input.Username) == "" {
		return nil, apperrors.InvalidInput("username is required")
	}
	if strings.TrimSpace(input.Password) == "" {
		return nil, apperrors.InvalidInput("password is required")
	}

	username := strings.ToLower(strings.TrimSpace(input.Username))

	existing, err := s.repo.GetByUsernameOrEmail(ctx, username, input.Email)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("check existing user: %w", err)
	}
	if existing != nil {
		return nil, apperrors.AlreadyExists("user", "username or email", username)
	}

	if input.AvatarPath == "" {
		return nil, apperrors.InvalidInput("avatar file is required")
	}
	if input.CoverImagePath == "" {
		return nil, apperrors.InvalidInput("cover image file is required")
	}

	avatarURL, err := s.uploader.Upload(ctx, input.AvatarPath)
	if err != nil {
		s.logger.ErrorContext(ctx, "avatar upload failed",
			slog.String("path", input.AvatarPath),
			slog.String("error", err.Error()),
		)
		return nil, apperrors.InvalidInput("avatar file could not be stored")
	}

	// A cover image upload failure is tolerated; the account is created with
	// an empty cover image URL.
	coverURL, err := s.uploader.Upload(ctx, input.CoverImagePath)
	if err != nil {
		s.logger.WarnContext(ctx, "cover image upload failed, continuing without it",
			slog.String("path", input.CoverImagePath),
			slog.String("error", err.Error()),
		)
		coverURL = ""
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        input.Email,
		FullName:     input.FullName,
		Avatar:       avatarURL,
		CoverImage:   coverURL,
		PasswordHash: string(hashedPassword),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	// Re-fetch the stored record to detect a persistence race and to return
	// exactly what the store holds.
	created, err := s.repo.GetByID(ctx, user.ID)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("fetch created user: %w", err))
	}

	// Publish registration event (non-blocking on failure).
	if err := s.producer.PublishUserRegistered(ctx, created); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", created.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", created.ID),
		slog.String("username", created.Username),
	)

	return created, nil
}

// Login verifies the supplied credentials and issues a token pair. The new
// refresh token is persisted onto the user record, revoking any previous one.
func (s *AccountService) Login(ctx context.Context, input LoginInput) (*domain.User, *domain.TokenPair, error) {
	if input.Username == "" && input.Email == "" {
		return nil, nil, apperrors.InvalidInput("username or email is required")
	}

	username := strings.ToLower(input.Username)

	user, err := s.repo.GetByUsernameOrEmail(ctx, username, input.Email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil, apperrors.NotFound("user", identity(username, input.Email))
		}
		return nil, nil, fmt.Errorf("find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, nil, apperrors.Unauthorized("invalid credentials")
	}

	tokens, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, nil, apperrors.Internal(err)
	}

	// Publish login event (non-blocking on failure).
	if err := s.producer.PublishUserLoggedIn(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.logged_in event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return user, tokens, nil
}

// Logout clears the stored refresh token for the user, immediately revoking
// any outstanding refresh token.
func (s *AccountService) Logout(ctx context.Context, userID string) error {
	if err := s.repo.UpdateRefreshToken(ctx, userID, ""); err != nil {
		return apperrors.Internal(fmt.Errorf("clear refresh token: %w", err))
	}

	if err := s.producer.PublishUserLoggedOut(ctx, userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.logged_out event",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user logged out", slog.String("user_id", userID))
	return nil
}

// Refresh validates a refresh token against both its signature and the value
// stored on the user record, then rotates the pair. The stored value is the
// revocation gate: a token that no longer matches it is rejected even when its
// signature is still valid.
func (s *AccountService) Refresh(ctx context.Context, refreshToken string) (*domain.User, *domain.TokenPair, error) {
	if refreshToken == "" {
		return nil, nil, apperrors.Unauthorized("refresh token is required")
	}

	claims, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, nil, apperrors.Unauthorized("invalid or expired refresh token")
	}

	user, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, apperrors.Unauthorized("invalid or expired refresh token")
	}

	if user.RefreshToken == "" || user.RefreshToken != refreshToken {
		return nil, nil, apperrors.Unauthorized("refresh token is expired or has been revoked")
	}

	tokens, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, nil, apperrors.Internal(err)
	}

	s.logger.InfoContext(ctx, "session refreshed", slog.String("user_id", user.ID))

	return user, tokens, nil
}

// Profile retrieves a user by their ID.
func (s *AccountService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("user", userID)
		}
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	return user, nil
}

// issueTokenPair generates an access/refresh pair and persists the refresh
// token on the user record. Racing logins simply overwrite each other; the
// last persisted token wins.
func (s *AccountService) issueTokenPair(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	accessToken, err := s.tokens.GenerateAccessToken(user.ID, user.Username, user.Email)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	refreshToken, err := s.tokens.GenerateRefreshToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	if err := s.repo.UpdateRefreshToken(ctx, user.ID, refreshToken); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	user.RefreshToken = refreshToken

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// identity returns whichever identifier the caller supplied, for error messages.
func identity(username, email string) string {
	if username != "" {
		return username
	}
	return email
}
