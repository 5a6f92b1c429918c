package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipstream/account-service/internal/auth"
	"github.com/clipstream/account-service/internal/domain"
	"github.com/clipstream/account-service/internal/event"
	"github.com/clipstream/account-service/internal/service"
	"github.com/clipstream/account-service/internal/storage/memory"
	apperrors "github.com/clipstream/account-service/pkg/errors"
	"github.com/clipstream/account-service/pkg/health"
	pkgkafka "github.com/clipstream/account-service/pkg/kafka"
)

// fakeUserRepo is an in-memory UserRepository for end-to-end handler tests.
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*domain.User)}
}

func (f *fakeUserRepo) Create(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == user.Username || u.Email == user.Email {
			return apperrors.AlreadyExists("user", "username or email", user.Username)
		}
	}
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperrors.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) GetByUsernameOrEmail(_ context.Context, username, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if (username != "" && u.Username == username) || (email != "" && u.Email == email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("user", username)
}

func (f *fakeUserRepo) UpdateRefreshToken(_ context.Context, id, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperrors.NotFound("user", id)
	}
	u.RefreshToken = token
	return nil
}

func (f *fakeUserRepo) delete(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, id)
}

// --- Test fixture ---

type fixture struct {
	router   http.Handler
	repo     *fakeUserRepo
	uploader *memory.Uploader
	tokens   *auth.TokenManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo := newFakeUserRepo()
	uploader := memory.New("https://cdn.test")
	tokens := auth.NewTokenManager("access-secret-for-tests", "refresh-secret-for-tests", 15*time.Minute, 7*24*time.Hour)

	kafkaProducer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig([]string{"localhost:9092"}), logger)
	producer := event.NewProducer(kafkaProducer, logger)

	svc := service.NewAccountService(repo, uploader, tokens, producer, logger)

	router := NewRouter(RouterConfig{
		Service:       svc,
		Repo:          repo,
		Tokens:        tokens,
		Health:        health.NewHandler(),
		Logger:        logger,
		CORS:          CORSConfig{Environment: "development"},
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
	})

	return &fixture{router: router, repo: repo, uploader: uploader, tokens: tokens}
}

// registerRequest builds a multipart registration request. File part names map
// to the upload middleware's field names; empty content skips the part.
func registerRequest(t *testing.T, fields map[string]string, avatar, cover []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if avatar != nil {
		part, err := mw.CreateFormFile("avatar", "avatar.png")
		require.NoError(t, err)
		_, err = part.Write(avatar)
		require.NoError(t, err)
	}
	if cover != nil {
		part, err := mw.CreateFormFile("coverImage", "cover.png")
		require.NoError(t, err)
		_, err = part.Write(cover)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func validRegisterFields() map[string]string {
	return map[string]string{
		"fullname": "Alice A",
		"email":    "a@x.com",
		"username": "Alice",
		"password": "secret",
	}
}

func (fx *fixture) register(t *testing.T) *domain.User {
	t.Helper()
	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, registerRequest(t, validRegisterFields(), []byte("avatar-bytes"), []byte("cover-bytes")))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp struct {
		Data domain.User `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return &resp.Data
}

func (fx *fixture) login(t *testing.T) *httptest.ResponseRecorder {
	t.Helper()
	body := strings.NewReader(`{"username":"alice","password":"secret"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", body)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, req)
	return rr
}

func cookieByName(t *testing.T, rr *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- Register ---

func TestRegister_Created(t *testing.T) {
	fx := newFixture(t)

	user := fx.register(t)

	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice", user.Username, "username is normalized to lowercase")
	assert.Contains(t, user.Avatar, "https://cdn.test/")
	assert.Contains(t, user.CoverImage, "https://cdn.test/")
	assert.Len(t, fx.uploader.Uploads(), 2)
}

func TestRegister_ResponseNeverContainsCredentials(t *testing.T) {
	fx := newFixture(t)

	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, registerRequest(t, validRegisterFields(), []byte("a"), []byte("c")))

	require.Equal(t, http.StatusCreated, rr.Code)
	assert.NotContains(t, rr.Body.String(), "password")
	assert.NotContains(t, rr.Body.String(), "refresh_token")
}

func TestRegister_MissingField(t *testing.T) {
	fx := newFixture(t)

	fields := validRegisterFields()
	delete(fields, "email")

	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, registerRequest(t, fields, []byte("a"), []byte("c")))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "VALIDATION_ERROR")
}

func TestRegister_MissingAvatar(t *testing.T) {
	fx := newFixture(t)

	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, registerRequest(t, validRegisterFields(), nil, []byte("c")))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRegister_MissingCoverImage(t *testing.T) {
	fx := newFixture(t)

	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, registerRequest(t, validRegisterFields(), []byte("a"), nil))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRegister_Duplicate(t *testing.T) {
	fx := newFixture(t)
	fx.register(t)

	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, registerRequest(t, validRegisterFields(), []byte("a"), []byte("c")))

	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRegister_CoverUploadFailureStoredAsEmpty(t *testing.T) {
	fx := newFixture(t)

	// First upload (avatar) succeeds, then fail the cover upload.
	fx.uploader.FailAfter(1)

	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, registerRequest(t, validRegisterFields(), []byte("a"), []byte("c")))

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp struct {
		Data domain.User `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "", resp.Data.CoverImage)
	assert.NotEmpty(t, resp.Data.Avatar)
}

// --- Login ---

func TestLogin_SetsHttpOnlySecureCookies(t *testing.T) {
	fx := newFixture(t)
	fx.register(t)

	rr := fx.login(t)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	for _, name := range []string{"accessToken", "refreshToken"} {
		c := cookieByName(t, rr, name)
		require.NotNil(t, c, "cookie %s must be set", name)
		assert.True(t, c.HttpOnly, "cookie %s must be httpOnly", name)
		assert.True(t, c.Secure, "cookie %s must be secure", name)
		assert.NotEmpty(t, c.Value)
	}

	var resp struct {
		Data AuthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Data.Tokens.AccessToken)
	assert.NotEmpty(t, resp.Data.Tokens.RefreshToken)
	assert.Equal(t, "alice", resp.Data.User.Username)
}

func TestLogin_UnknownUser(t *testing.T) {
	fx := newFixture(t)

	rr := fx.login(t)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Nil(t, cookieByName(t, rr, "accessToken"))
}

func TestLogin_WrongPassword(t *testing.T) {
	fx := newFixture(t)
	fx.register(t)

	body := strings.NewReader(`{"username":"alice","password":"nope-wrong"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", body)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Nil(t, cookieByName(t, rr, "accessToken"))
	assert.Nil(t, cookieByName(t, rr, "refreshToken"))
}

func TestLogin_MissingIdentifier(t *testing.T) {
	fx := newFixture(t)
	fx.register(t)

	body := strings.NewReader(`{"password":"secret"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", body)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// --- Logout ---

func TestLogout_ClearsCookiesAndRevokesRefresh(t *testing.T) {
	fx := newFixture(t)
	user := fx.register(t)

	loginRR := fx.login(t)
	require.Equal(t, http.StatusOK, loginRR.Code)
	access := cookieByName(t, loginRR, "accessToken")
	refresh := cookieByName(t, loginRR, "refreshToken")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.AddCookie(access)
	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	for _, name := range []string{"accessToken", "refreshToken"} {
		c := cookieByName(t, rr, name)
		require.NotNil(t, c)
		assert.Empty(t, c.Value)
		assert.Negative(t, c.MaxAge, "cookie %s must be expired", name)
	}

	stored, err := fx.repo.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.RefreshToken)

	// The outstanding refresh token is now rejected.
	refreshReq := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	refreshReq.AddCookie(refresh)
	refreshRR := httptest.NewRecorder()
	fx.router.ServeHTTP(refreshRR, refreshReq)
	assert.Equal(t, http.StatusUnauthorized, refreshRR.Code)
}

func TestLogout_WithoutAuth(t *testing.T) {
	fx := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

// --- Refresh ---

func TestRefresh_RotatesTokens(t *testing.T) {
	fx := newFixture(t)
	fx.register(t)

	loginRR := fx.login(t)
	refresh := cookieByName(t, loginRR, "refreshToken")
	require.NotNil(t, refresh)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(refresh)
	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NotNil(t, cookieByName(t, rr, "accessToken"))
	assert.NotNil(t, cookieByName(t, rr, "refreshToken"))
}

func TestRefresh_WithoutToken(t *testing.T) {
	fx := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

// --- Guard (/api/v1/users/me) ---

func meRequest(token string, asCookie bool) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	if token == "" {
		return req
	}
	if asCookie {
		req.AddCookie(&http.Cookie{Name: "accessToken", Value: token})
	} else {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	}
	return req
}

func TestMe_WithCookieToken(t *testing.T) {
	fx := newFixture(t)
	user := fx.register(t)

	token, err := fx.tokens.GenerateAccessToken(user.ID, user.Username, user.Email)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, meRequest(token, true))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"alice"`)
	assert.NotContains(t, rr.Body.String(), "password")
}

func TestMe_WithBearerToken(t *testing.T) {
	fx := newFixture(t)
	user := fx.register(t)

	token, err := fx.tokens.GenerateAccessToken(user.ID, user.Username, user.Email)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, meRequest(token, false))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMe_GuardRejections(t *testing.T) {
	fx := newFixture(t)
	user := fx.register(t)

	expired := auth.NewTokenManager("access-secret-for-tests", "refresh-secret-for-tests", -time.Minute, time.Hour)
	expiredToken, err := expired.GenerateAccessToken(user.ID, user.Username, user.Email)
	require.NoError(t, err)

	wrongKey := auth.NewTokenManager("some-other-secret", "refresh-secret-for-tests", time.Hour, time.Hour)
	forgedToken, err := wrongKey.GenerateAccessToken(user.ID, user.Username, user.Email)
	require.NoError(t, err)

	deletedToken, err := fx.tokens.GenerateAccessToken(user.ID, user.Username, user.Email)
	require.NoError(t, err)

	tests := []struct {
		name  string
		setup func()
		token string
	}{
		{"absent token", func() {}, ""},
		{"malformed token", func() {}, "not-a-jwt"},
		{"expired token", func() {}, expiredToken},
		{"wrong signing key", func() {}, forgedToken},
		{"deleted user", func() { fx.repo.delete(user.ID) }, deletedToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()

			rr := httptest.NewRecorder()
			fx.router.ServeHTTP(rr, meRequest(tt.token, true))

			// Every rejection is the same opaque 401.
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Contains(t, rr.Body.String(), "UNAUTHORIZED")
			assert.NotContains(t, rr.Body.String(), "expired")
		})
	}
}
