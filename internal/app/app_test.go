package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"signly/internal/config"
	"signly/internal/store"
)

func testConfig() *config.Config {
	cfg := &config.Config{
		Env:         "development",
		ListenAddr:  ":0",
		BaseURL:     "http://localhost:8080",
		FrontendURL: "http://localhost:3000",
		DevUsers:    []string{"u1:ana@example.com", "u2"},
	}
	cfg.Session.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.OAuth.ClientID = "client-id"
	cfg.OAuth.ClientSecret = "client-secret"
	cfg.OAuth.RedirectURI = "http://localhost:8080/calendar/oauth/callback"
	return cfg
}

func TestNew_MemoryStores(t *testing.T) {
	a, err := New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer a.Close()

	if _, ok := a.Users.(*store.MemoryUsers); !ok {
		t.Errorf("Users = %T, want *store.MemoryUsers", a.Users)
	}
	user, err := a.Users.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get(u1) error: %v", err)
	}
	if user.Email != "ana@example.com" {
		t.Errorf("Email = %q, want ana@example.com", user.Email)
	}

	authURL, err := a.Flow.Initiate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Initiate() error: %v", err)
	}
	u, _ := url.Parse(authURL)
	if got := u.Query().Get("redirect_uri"); got != "http://localhost:8080/calendar/oauth/callback" {
		t.Errorf("redirect_uri = %q", got)
	}
	if u.Query().Get("client_id") != "client-id" {
		t.Errorf("client_id = %q", u.Query().Get("client_id"))
	}
}

func TestRouter_Wiring(t *testing.T) {
	a, err := New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer a.Close()

	router, stop := a.Router("test")
	defer stop()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/readyz status = %d, want 200", rec.Code)
	}

	token, _ := a.Sessions.Issue("u2", "")
	req := httptest.NewRequest(http.MethodGet, "/calendar/oauth/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"connected":false`) {
		t.Errorf("status = %d body %s", rec.Code, rec.Body)
	}
}

func TestParseDevUsers(t *testing.T) {
	users := ParseDevUsers([]string{"u1:ana@example.com", " u2 ", ":orphan@example.com", ""})
	if len(users) != 2 {
		t.Fatalf("ParseDevUsers() returned %d users, want 2", len(users))
	}
	if users[0].ID != "u1" || users[0].Email != "ana@example.com" {
		t.Errorf("users[0] = %+v", users[0])
	}
	if users[1].ID != "u2" || users[1].Email != "" {
		t.Errorf("users[1] = %+v", users[1])
	}
}

func TestClose_Idempotent(t *testing.T) {
	a, err := New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}
