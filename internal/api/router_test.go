package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/userhub/account-api/internal/api/handler"
	"github.com/userhub/account-api/internal/core/domain"
	"github.com/userhub/account-api/internal/core/ports"
	"github.com/userhub/account-api/internal/core/service"
	redisdb "github.com/userhub/account-api/internal/infrastructure/db/redis"
)

// memUserRepo is an in-memory ports.UserRepository.
type memUserRepo struct {
	mu    sync.Mutex
	users []domain.User
}

func (r *memUserRepo) Create(_ context.Context, u *domain.User) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *u
	stored.ID = fmt.Sprintf("%024x", len(r.users)+1)
	r.users = append(r.users, stored)
	out := stored
	return &out, nil
}

func (r *memUserRepo) find(match func(domain.User) bool) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			out := u
			return &out, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Email == email })
}

func (r *memUserRepo) FindByID(_ context.Context, id string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.ID == id })
}

func (r *memUserRepo) FindAll(_ context.Context) ([]*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.User, 0, len(r.users))
	for _, u := range r.users {
		u := u
		out = append(out, &u)
	}
	return out, nil
}

type testServer struct {
	e        *echo.Echo
	accounts *service.AccountService
	tokens   *service.TokenService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithGuard(t, nil)
}

func newTestServerWithGuard(t *testing.T, guard ports.RegistrationGuard) *testServer {
	t.Helper()
	tokens, err := service.NewTokenService("router-secret", time.Hour)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	accounts := service.NewAccountService(&memUserRepo{}, service.NewBcryptHasher(bcrypt.MinCost), tokens, guard, zerolog.Nop())
	reg := prometheus.NewRegistry()

	e := NewRouter(Dependencies{
		Accounts:   accounts,
		Tokens:     tokens,
		Health:     []handler.Dependency{{Name: "mongodb", Check: func(context.Context) error { return nil }}},
		Log:        zerolog.Nop(),
		Registerer: reg,
		Gatherer:   reg,
	})
	return &testServer{e: e, accounts: accounts, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path, body, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	return s.doWithHeaders(t, method, path, body, token, nil)
}

func (s *testServer) doWithHeaders(t *testing.T, method, path, body, token string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	var resp map[string]any
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("invalid json %q: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

func TestRouter_RegisterLoginMe(t *testing.T) {
	s := newTestServer(t)

	rec, resp := s.do(t, http.MethodPost, "/auth/register", `{"name":"Alice","email":"alice@x.com","password":"secret1"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	registered := resp["user"].(map[string]any)
	id, _ := registered["id"].(string)
	if id == "" {
		t.Fatalf("expected non-empty id")
	}
	if strings.Contains(rec.Body.String(), "secret1") || strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("credential leaked: %s", rec.Body.String())
	}

	rec, resp = s.do(t, http.MethodPost, "/auth/login", `{"email":"alice@x.com","password":"secret1"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", rec.Code)
	}
	token, _ := resp["token"].(string)
	if token == "" {
		t.Fatalf("expected token")
	}
	if resp["user"].(map[string]any)["id"] != id {
		t.Fatalf("login user id mismatch")
	}

	rec, resp = s.do(t, http.MethodGet, "/me", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", rec.Code)
	}
	if resp["user"].(map[string]any)["email"] != "alice@x.com" {
		t.Fatalf("unexpected me payload: %+v", resp)
	}
}

func TestRouter_LoginFailures(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/auth/register", `{"name":"Alice","email":"alice@x.com","password":"secret1"}`, "")

	rec, resp := s.do(t, http.MethodPost, "/auth/login", `{"email":"alice@x.com","password":"wrong"}`, "")
	if rec.Code != http.StatusUnauthorized || resp["error"] != "invalid credentials" {
		t.Fatalf("expected 401 invalid credentials, got %d %+v", rec.Code, resp)
	}

	rec, resp = s.do(t, http.MethodPost, "/auth/login", `{"email":"ghost@x.com","password":"secret1"}`, "")
	if rec.Code != http.StatusNotFound || resp["error"] != "user not found" {
		t.Fatalf("expected 404 user not found, got %d %+v", rec.Code, resp)
	}

	rec, _ = s.do(t, http.MethodPost, "/auth/login", `{"email":"not-an-email"}`, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestRouter_MeRequiresAuthentication(t *testing.T) {
	s := newTestServer(t)

	for name, token := range map[string]string{"no token": "", "bad token": "garbage"} {
		t.Run(name, func(t *testing.T) {
			rec, resp := s.do(t, http.MethodGet, "/me", "", token)
			if rec.Code != http.StatusUnauthorized || resp["error"] != "not authenticated" {
				t.Fatalf("expected 401 not authenticated, got %d %+v", rec.Code, resp)
			}
		})
	}
}

func TestRouter_MeForDeletedUser(t *testing.T) {
	s := newTestServer(t)
	token, err := s.tokens.Issue("000000000000000000000099", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	rec, resp := s.do(t, http.MethodGet, "/me", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if v, ok := resp["user"]; !ok || v != nil {
		t.Fatalf("expected user null, got %+v", resp)
	}
}

func TestRouter_UsersRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	if _, _, err := s.accounts.EnsureAdmin(ctx, "Root", "root@x.com", "rootpw"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	s.do(t, http.MethodPost, "/auth/register", `{"name":"Alice","email":"alice@x.com","password":"secret1"}`, "")

	rec, _ := s.do(t, http.MethodGet, "/users", "", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("anonymous: expected 403, got %d", rec.Code)
	}

	userToken, _, err := s.accounts.Login(ctx, "alice@x.com", "secret1")
	if err != nil {
		t.Fatalf("login alice: %v", err)
	}
	rec, resp := s.do(t, http.MethodGet, "/users", "", userToken)
	if rec.Code != http.StatusForbidden || resp["error"] != "access denied" {
		t.Fatalf("role user: expected 403 access denied, got %d %+v", rec.Code, resp)
	}

	lowercaseUser, err := s.tokens.Issue("000000000000000000000001", "user")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if rec, _ := s.do(t, http.MethodGet, "/users", "", lowercaseUser); rec.Code != http.StatusForbidden {
		t.Fatalf("explicit role user: expected 403, got %d", rec.Code)
	}

	adminToken, _, err := s.accounts.Login(ctx, "root@x.com", "rootpw")
	if err != nil {
		t.Fatalf("login admin: %v", err)
	}
	rec, resp = s.do(t, http.MethodGet, "/users", "", adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d", rec.Code)
	}
	if resp["count"] != float64(2) {
		t.Fatalf("expected 2 users, got %+v", resp)
	}
}

func TestRouter_Infrastructure(t *testing.T) {
	s := newTestServer(t)

	if rec, _ := s.do(t, http.MethodGet, "/health", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rec.Code)
	}
	if rec, _ := s.do(t, http.MethodGet, "/health/ready", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d", rec.Code)
	}

	s.do(t, http.MethodPost, "/auth/login", `{"email":"ghost@x.com","password":"x"}`, "")
	rec, _ := s.do(t, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "accounts_requests_total") {
		t.Fatalf("expected echo request metrics in output")
	}
}

func TestRouter_RegisterIdempotencyKey(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	s := newTestServerWithGuard(t, redisdb.NewRegistrationGuard(rdb, 0))

	key := map[string]string{handler.HeaderIdempotencyKey: "retry-1"}
	alice := `{"name":"Alice","email":"alice@x.com","password":"secret1"}`

	rec, first := s.doWithHeaders(t, http.MethodPost, "/auth/register", alice, "", key)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first register: expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	rec, again := s.doWithHeaders(t, http.MethodPost, "/auth/register", alice, "", key)
	if rec.Code != http.StatusCreated {
		t.Fatalf("retry: expected 201, got %d", rec.Code)
	}
	if again["user"].(map[string]any)["id"] != first["user"].(map[string]any)["id"] {
		t.Fatalf("retry must replay the first user")
	}

	rec, resp := s.doWithHeaders(t, http.MethodPost, "/auth/register", `{"name":"Bob","email":"bob@x.com","password":"secret2"}`, "", key)
	if rec.Code != http.StatusConflict {
		t.Fatalf("reused key: expected 409, got %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "alice") {
		t.Fatalf("reused key leaked the first registration: %s", rec.Body.String())
	}
	if resp["error"] == "" {
		t.Fatalf("expected error message")
	}

	users, err := s.accounts.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected a single stored user, got %d", len(users))
	}
}
