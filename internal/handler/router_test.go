package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/usermigrator/internal/middleware"
	"github.com/hitoshi/usermigrator/internal/model"
)

const testAdminToken = "admin-token"

func newTestRouter(t *testing.T, svc MigrationServiceInterface, limiter *middleware.RateLimiter) http.Handler {
	t.Helper()
	return NewRouter(&RouterDeps{
		Logger:           slog.New(slog.NewJSONHandler(io.Discard, nil)),
		AdminToken:       testAdminToken,
		LoginRateLimiter: limiter,
		HealthChecker:    &mockHealthChecker{},
		MigrationService: svc,
		Importer:         &mockImporter{},
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "usermigrator_reconcile_total 0\n")
		}),
	})
}

func doRequest(h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.10:40000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_PublicRoutes(t *testing.T) {
	router := newTestRouter(t, &mockMigrationService{}, nil)

	t.Run("ヘルスチェック", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/health", "", "")
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if w.Header().Get("X-Request-ID") == "" {
			t.Error("X-Request-ID should be set by the logging middleware")
		}
		if w.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Error("security headers should be applied")
		}
	})

	t.Run("メトリクス", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/metrics", "", "")
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if !strings.Contains(w.Body.String(), "usermigrator_reconcile_total") {
			t.Errorf("body = %q", w.Body.String())
		}
	})
}

func TestRouter_APIRequiresAdminToken(t *testing.T) {
	called := false
	svc := &mockMigrationService{
		migrateFn: func(ctx context.Context, realm, username string) (*model.LocalUser, error) {
			called = true
			return &model.LocalUser{ID: "u-1", Realm: realm, Username: username}, nil
		},
	}
	router := newTestRouter(t, svc, nil)

	w := doRequest(router, http.MethodPost, "/api/realms/acme/migrations/users/alice", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if called {
		t.Fatal("service must not be called without a valid token")
	}

	w = doRequest(router, http.MethodPost, "/api/realms/acme/migrations/users/alice", "", testAdminToken)
	if w.Code != http.StatusOK {
		t.Errorf("status with token = %d, want %d", w.Code, http.StatusOK)
	}
	if !called {
		t.Error("service should be called with a valid token")
	}
}

func TestRouter_RoutesURLParams(t *testing.T) {
	var gotRealm, gotUsername string
	svc := &mockMigrationService{
		migrateFn: func(ctx context.Context, realm, username string) (*model.LocalUser, error) {
			gotRealm, gotUsername = realm, username
			return &model.LocalUser{}, nil
		},
	}
	router := newTestRouter(t, svc, nil)

	doRequest(router, http.MethodPost, "/api/realms/acme/migrations/users/j.doe", "", testAdminToken)

	if gotRealm != "acme" {
		t.Errorf("realm = %q, want acme", gotRealm)
	}
	if gotUsername != "j.doe" {
		t.Errorf("username = %q, want j.doe", gotUsername)
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(t, &mockMigrationService{}, nil)

	w := doRequest(router, http.MethodGet, "/api/realms/acme/migrations/login", "", testAdminToken)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

// TestRouter_LoginIsRateLimited はログイン移行のみにレート制限が適用されることを検証する。
func TestRouter_LoginIsRateLimited(t *testing.T) {
	svc := &mockMigrationService{
		loginFn: func(ctx context.Context, realm, username, password string) (*model.LocalUser, error) {
			return nil, model.NewInvalidCredentialsError()
		},
		migrateFn: func(ctx context.Context, realm, username string) (*model.LocalUser, error) {
			return &model.LocalUser{}, nil
		},
	}
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{Rate: 0.01, Burst: 2, CleanupInterval: time.Minute}, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	t.Cleanup(limiter.Stop)
	router := newTestRouter(t, svc, limiter)

	body := `{"username":"alice","password":"wrong"}`
	for i := 0; i < 2; i++ {
		w := doRequest(router, http.MethodPost, "/api/realms/acme/migrations/login", body, testAdminToken)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want %d", i, w.Code, http.StatusUnauthorized)
		}
	}

	w := doRequest(router, http.MethodPost, "/api/realms/acme/migrations/login", body, testAdminToken)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	w = doRequest(router, http.MethodPost, "/api/realms/acme/migrations/users/alice", "", testAdminToken)
	if w.Code != http.StatusOK {
		t.Errorf("migrate route should not be rate limited, status = %d", w.Code)
	}
}

// TestRouter_LoginRateLimitIsPerAccount は同一の呼び出し元からでも
// アカウントごとに独立して制限され、ボディがハンドラーに届くことを検証する。
func TestRouter_LoginRateLimitIsPerAccount(t *testing.T) {
	var gotUsers []string
	svc := &mockMigrationService{
		loginFn: func(ctx context.Context, realm, username, password string) (*model.LocalUser, error) {
			gotUsers = append(gotUsers, username)
			return &model.LocalUser{Username: username}, nil
		},
	}
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{Rate: 0.01, Burst: 1, CleanupInterval: time.Minute}, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	t.Cleanup(limiter.Stop)
	router := newTestRouter(t, svc, limiter)

	for _, username := range []string{"alice", "bob", "carol"} {
		body := `{"username":"` + username + `","password":"pw"}`
		w := doRequest(router, http.MethodPost, "/api/realms/acme/migrations/login", body, testAdminToken)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want %d", username, w.Code, http.StatusOK)
		}
	}
	if len(gotUsers) != 3 || gotUsers[2] != "carol" {
		t.Errorf("service received %v, want [alice bob carol]", gotUsers)
	}

	// 大文字小文字違いは同一アカウントとして扱う
	w := doRequest(router, http.MethodPost, "/api/realms/acme/migrations/login", `{"username":"ALICE","password":"pw"}`, testAdminToken)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("repeated account: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	// 別レルムの同名アカウントは独立
	w = doRequest(router, http.MethodPost, "/api/realms/other/migrations/login", `{"username":"alice","password":"pw"}`, testAdminToken)
	if w.Code != http.StatusOK {
		t.Errorf("other realm: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_RecoversFromPanic(t *testing.T) {
	svc := &mockMigrationService{
		migrateFn: func(ctx context.Context, realm, username string) (*model.LocalUser, error) {
			panic("unexpected")
		},
	}
	router := newTestRouter(t, svc, nil)

	w := doRequest(router, http.MethodPost, "/api/realms/acme/migrations/users/alice", "", testAdminToken)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
