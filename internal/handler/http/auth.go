package http

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/clipstream/account-service/internal/domain"
	"github.com/clipstream/account-service/internal/service"
	apperrors "github.com/clipstream/account-service/pkg/errors"
	"github.com/clipstream/account-service/pkg/httputil"
	"github.com/clipstream/account-service/pkg/validator"
)

const (
	accessTokenCookie  = "accessToken"
	refreshTokenCookie = "refreshToken"

	// Multipart uploads are capped well above any reasonable profile image.
	maxUploadBytes = 20 << 20
)

// AuthHandler handles HTTP requests for auth endpoints.
type AuthHandler struct {
	service       *service.AccountService
	logger        *slog.Logger
	accessExpiry  time.Duration
	refreshExpiry time.Duration
}

// NewAuthHandler creates a new auth HTTP handler. The expiries bound the
// lifetime of the cookies carrying the corresponding tokens.
func NewAuthHandler(svc *service.AccountService, accessExpiry, refreshExpiry time.Duration, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:       svc,
		logger:        logger,
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
	}
}

// --- Request DTOs ---

// RegisterForm is the multipart form for user registration. The avatar and
// cover image arrive as file parts named "avatar" and "coverImage".
type RegisterForm struct {
	FullName string `validate:"required,min=1,max=100"`
	Email    string `validate:"required,email"`
	Username string `validate:"required,min=3,max=30"`
	Password string `validate:"required"`
}

// LoginRequest is the JSON request body for user login.
type LoginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest is the JSON request body for token refresh, used when the
// refresh token is not supplied as a cookie.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// AuthResponse wraps user data with tokens.
type AuthResponse struct {
	User   *domain.User      `json:"user"`
	Tokens *domain.TokenPair `json:"tokens"`
}

// --- Handlers ---

// Register handles POST /api/v1/auth/register. The request is
// multipart/form-data: text fields plus an "avatar" file part (required) and
// a "coverImage" file part. Uploaded files are staged to a temp directory and
// handed to the service by path.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid multipart form: " + err.Error()},
		})
		return
	}

	form := RegisterForm{
		FullName: r.FormValue("fullname"),
		Email:    r.FormValue("email"),
		Username: r.FormValue("username"),
		Password: r.FormValue("password"),
	}
	if err := validator.Validate(form); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	avatarPath, cleanupAvatar, err := h.stageFile(r, "avatar")
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	defer cleanupAvatar()

	coverPath, cleanupCover, err := h.stageFile(r, "coverImage")
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	defer cleanupCover()

	user, err := h.service.Register(r.Context(), service.RegisterInput{
		FullName:       form.FullName,
		Email:          form.Email,
		Username:       form.Username,
		Password:       form.Password,
		AvatarPath:     avatarPath,
		CoverImagePath: coverPath,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: user})
}

// Login handles POST /api/v1/auth/login. On success both tokens are set as
// httpOnly, secure cookies and also returned in the body.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	user, tokens, err := h.service.Login(r.Context(), service.LoginInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.setTokenCookies(w, tokens)
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: AuthResponse{User: user, Tokens: tokens}})
}

// Logout handles POST /api/v1/auth/logout. Requires authentication; the user
// identity comes from the request context set by RequireAuth.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized("unauthorized"), h.logger)
		return
	}

	if err := h.service.Logout(r.Context(), user.ID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.clearTokenCookies(w)
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"message": "logged out"}})
}

// Refresh handles POST /api/v1/auth/refresh. The refresh token is read from
// the refreshToken cookie, falling back to the JSON body.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	token := ""
	if c, err := r.Cookie(refreshTokenCookie); err == nil {
		token = c.Value
	}
	if token == "" {
		var req RefreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			token = req.RefreshToken
		}
	}

	user, tokens, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.setTokenCookies(w, tokens)
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: AuthResponse{User: user, Tokens: tokens}})
}

// Me handles GET /api/v1/users/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized("unauthorized"), h.logger)
		return
	}

	profile, err := h.service.Profile(r.Context(), user.ID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: profile})
}

// --- Cookie helpers ---

func (h *AuthHandler) setTokenCookies(w http.ResponseWriter, tokens *domain.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessTokenCookie,
		Value:    tokens.AccessToken,
		Path:     "/",
		MaxAge:   int(h.accessExpiry.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenCookie,
		Value:    tokens.RefreshToken,
		Path:     "/",
		MaxAge:   int(h.refreshExpiry.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearTokenCookies(w http.ResponseWriter) {
	for _, name := range []string{accessTokenCookie, refreshTokenCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// --- File staging ---

// stageFile copies an uploaded multipart file part to a temp file on local
// disk and returns its path with a cleanup func. A missing part is not an
// error here; it yields an empty path and the service decides whether the
// part was required.
func (h *AuthHandler) stageFile(r *http.Request, field string) (string, func(), error) {
	file, header, err := r.FormFile(field)
	if err == http.ErrMissingFile {
		return "", func() {}, nil
	}
	if err != nil {
		return "", func() {}, apperrors.InvalidInput(fmt.Sprintf("invalid %s file part", field))
	}
	defer file.Close()

	path, err := copyToTemp(file, header)
	if err != nil {
		return "", func() {}, apperrors.Internal(fmt.Errorf("stage uploaded file: %w", err))
	}
	return path, func() { _ = os.Remove(path) }, nil
}

func copyToTemp(file multipart.File, header *multipart.FileHeader) (string, error) {
	tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, file); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
