package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"signly/internal/calendar"
	"signly/internal/googleauth"
	"signly/internal/httpserver/ratelimit"
	"signly/internal/oauthflow"
	"signly/internal/oauthstate"
	"signly/internal/store"
	"signly/pkg/auth"
)

var (
	jwtSecret = []byte("0123456789abcdef0123456789abcdef")
	stateKey  = []byte("fedcba9876543210fedcba9876543210")
)

type fakeOAuth struct{}

func (fakeOAuth) AuthorizationURL(state string) string {
	return "https://accounts.google.com/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func (fakeOAuth) Exchange(_ context.Context, code string) (*googleauth.Tokens, error) {
	return &googleauth.Tokens{AccessToken: "at-" + code, RefreshToken: "rt-" + code, Expiry: time.Now().Add(time.Hour)}, nil
}

func (fakeOAuth) FetchProfile(context.Context, string) *googleauth.Profile {
	return &googleauth.Profile{Email: "ana@gmail.com"}
}

func (fakeOAuth) Refresh(context.Context, string) (*googleauth.Tokens, error) {
	return nil, errors.New("unexpected refresh")
}

type fakeAPI struct {
	events    []*gcal.Event
	calendars []*gcal.CalendarListEntry
	err       error
	lastReq   calendar.EventsRequest
}

func (f *fakeAPI) ListEvents(_ context.Context, _ string, req calendar.EventsRequest) ([]*gcal.Event, error) {
	f.lastReq = req
	return f.events, f.err
}

func (f *fakeAPI) ListCalendars(context.Context, string) ([]*gcal.CalendarListEntry, error) {
	return f.calendars, f.err
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("firestore unavailable") }

type fixture struct {
	router   http.Handler
	handler  *Handler
	api      *fakeAPI
	users    *store.MemoryUsers
	sessions *auth.Sessions
}

type fixtureOptions struct {
	showInternal bool
	limiter      *ratelimit.IPRateLimiter
	ready        store.Pinger
	mcp          http.Handler
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()

	users := store.NewMemoryUsers()
	expiry := time.Now().Add(time.Hour)
	users.Put(store.User{ID: "u1", Name: "Ana", Calendar: store.CalendarCredential{
		Connected:    true,
		RefreshToken: "rt",
		AccessToken:  "at",
		TokenExpiry:  &expiry,
		CalendarID:   "work@example.com",
		Email:        "ana@gmail.com",
	}})
	users.Put(store.User{ID: "u2", Name: "Bruno"})

	api := &fakeAPI{}
	gateway := calendar.NewGateway(users, calendar.NewRefreshGate(fakeOAuth{}, users), api)

	nonces := oauthstate.NewMemoryNonces(time.Minute)
	t.Cleanup(nonces.Close)

	flow := oauthflow.New(&oauthflow.Config{
		OAuth:       fakeOAuth{},
		States:      oauthstate.NewCodec(stateKey),
		Nonces:      nonces,
		Users:       users,
		Calendars:   gateway,
		FrontendURL: "https://app.example.com",
	})

	sessions := auth.NewSessions(jwtSecret, time.Hour)
	handler := NewHandler(flow, gateway, opts.showInternal)
	router := NewRouter(&Deps{
		Handler:           handler,
		Auth:              NewAuthenticator(sessions, users),
		Ready:             opts.ready,
		OAuthLimiter:      opts.limiter,
		MCP:               opts.mcp,
		PrometheusEnabled: true,
	})

	return &fixture{router: router, handler: handler, api: api, users: users, sessions: sessions}
}

func (f *fixture) do(t *testing.T, method, target, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if userID != "" {
		token, err := f.sessions.Issue(userID, userID+"@example.com")
		if err != nil {
			t.Fatalf("Issue(%q) error: %v", userID, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	if rec := f.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("/readyz status = %d, want 200", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", rec.Code)
	}

	unready := newFixture(t, fixtureOptions{ready: failingPinger{}})
	if rec := unready.do(t, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz with failing store status = %d, want 503", rec.Code)
	}
}

func TestRequireSession(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"missing", "", "token not provided"},
		{"malformed", "Bearer abc.def.ghi", "invalid token"},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "token not provided"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/calendar/oauth/status", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			body := decode(t, rec)
			if body["success"] != false || body["error"] != tc.message {
				t.Errorf("body = %v, want error %q", body, tc.message)
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}

	t.Run("unknown user", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/calendar/oauth/status", "ghost")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
		if body := decode(t, rec); body["error"] != "user not found" {
			t.Errorf("error = %v, want user not found", body["error"])
		}
	})
}

func TestConnectRoutes(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	rec := f.do(t, http.MethodGet, "/calendar/oauth/initiate", "u2")
	if rec.Code != http.StatusOK {
		t.Fatalf("initiate status = %d, body %s", rec.Code, rec.Body)
	}
	body := decode(t, rec)
	data, _ := body["data"].(map[string]any)
	authURL, _ := data["authUrl"].(string)
	u, err := url.Parse(authURL)
	if err != nil || u.Query().Get("state") == "" {
		t.Fatalf("authUrl = %q, want URL with state", authURL)
	}

	callback := "/calendar/oauth/callback?code=abc&state=" + url.QueryEscape(u.Query().Get("state"))
	rec = f.do(t, http.MethodGet, callback, "")
	if rec.Code != http.StatusFound {
		t.Fatalf("callback status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://app.example.com/calendar/connected?success=true" {
		t.Errorf("Location = %q", loc)
	}

	rec = f.do(t, http.MethodGet, "/calendar/oauth/status", "u2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status status = %d", rec.Code)
	}
	status, _ := decode(t, rec)["data"].(map[string]any)
	if status["connected"] != true || status["email"] != "ana@gmail.com" {
		t.Errorf("status data = %v", status)
	}

	rec = f.do(t, http.MethodPost, "/calendar/oauth/disconnect", "u2")
	if rec.Code != http.StatusOK {
		t.Fatalf("disconnect status = %d", rec.Code)
	}
	status, _ = decode(t, f.do(t, http.MethodGet, "/calendar/oauth/status", "u2"))["data"].(map[string]any)
	if status["connected"] != false || status["calendarId"] != nil {
		t.Errorf("status after disconnect = %v", status)
	}
}

func TestCallback_ErrorRedirects(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	rec := f.do(t, http.MethodGet, "/calendar/oauth/callback?error=access_denied", "")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	want := "https://app.example.com/calendar/connected?success=false&error=permissions%20denied"
	if loc := rec.Header().Get("Location"); loc != want {
		t.Errorf("Location = %q, want %q", loc, want)
	}
}

func TestCallback_RateLimited(t *testing.T) {
	limiter := ratelimit.New(1, 1, time.Minute, nil)
	defer limiter.Close()
	f := newFixture(t, fixtureOptions{limiter: limiter})

	if rec := f.do(t, http.MethodGet, "/calendar/oauth/callback", ""); rec.Code != http.StatusFound {
		t.Fatalf("first status = %d, want 302", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/calendar/oauth/callback", ""); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", rec.Code)
	}
	// Calendar reads are not throttled.
	if rec := f.do(t, http.MethodGet, "/calendar/calendars", "u1"); rec.Code != http.StatusOK {
		t.Errorf("calendars status = %d, want 200", rec.Code)
	}
}

func TestEvents(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.api.events = []*gcal.Event{
		{Id: "b", Summary: "Standup", Start: &gcal.EventDateTime{DateTime: "2024-01-02T09:00:00Z"}},
		{Id: "a", Summary: "Review", Start: &gcal.EventDateTime{DateTime: "2024-01-02T08:00:00Z"}},
		{Id: "c", Summary: "Holiday", Start: &gcal.EventDateTime{Date: "2024-01-03"}},
	}

	rec := f.do(t, http.MethodGet, "/calendar/events?startDate=2024-01-01&endDate=2024-01-31T23:59:59Z&maxEventsPerDay=1", "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	body := decode(t, rec)
	if body["success"] != true || body["calendarId"] != "work@example.com" {
		t.Errorf("body = %v", body)
	}
	if body["totalEvents"] != float64(3) || body["totalDays"] != float64(2) {
		t.Errorf("totalEvents = %v totalDays = %v, want 3 and 2", body["totalEvents"], body["totalDays"])
	}
	grouped, _ := body["groupedByDate"].(map[string]any)
	day, _ := grouped["2024-01-02"].([]any)
	if len(day) != 1 || day[0].(map[string]any)["id"] != "a" {
		t.Errorf("groupedByDate[2024-01-02] = %v, want only the earliest event", day)
	}

	req := f.api.lastReq
	if req.MaxResults != calendar.DefaultMaxResults {
		t.Errorf("MaxResults = %d, want default %d", req.MaxResults, calendar.DefaultMaxResults)
	}
	if !req.TimeMin.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("TimeMin = %v", req.TimeMin)
	}
}

func TestEvents_CalendarOverride(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	rec := f.do(t, http.MethodGet, "/calendar/events?calendarId=team%40example.com&maxResults=2500", "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got := decode(t, rec)["calendarId"]; got != "team@example.com" {
		t.Errorf("calendarId = %v, want team@example.com", got)
	}
	if data := decode(t, rec)["data"]; data == nil {
		t.Error("data = null, want []")
	}
}

func TestEvents_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		user   string
		apiErr error
		status int
		code   string
	}{
		{"bad start", "/calendar/events?startDate=tomorrow", "u1", nil, http.StatusBadRequest, CodeInvalidParameter},
		{"bad max results", "/calendar/events?maxResults=ten", "u1", nil, http.StatusBadRequest, CodeInvalidParameter},
		{"max results zero", "/calendar/events?maxResults=0", "u1", nil, http.StatusBadRequest, CodeInvalidParameter},
		{"max results over limit", "/calendar/events?maxResults=2501", "u1", nil, http.StatusBadRequest, CodeInvalidParameter},
		{"negative per day", "/calendar/events?maxEventsPerDay=-1", "u1", nil, http.StatusBadRequest, CodeInvalidParameter},
		{"window reversed", "/calendar/events?startDate=2024-02-01&endDate=2024-01-01", "u1", nil, http.StatusBadRequest, CodeInvalidParameter},
		{"not connected", "/calendar/events", "u2", nil, http.StatusForbidden, CodeNotConnected},
		{"revoked", "/calendar/events", "u1", &googleapi.Error{Code: 401, Message: "Invalid Credentials"}, http.StatusUnauthorized, CodeAuthError},
		{"forbidden", "/calendar/events", "u1", &googleapi.Error{Code: 403, Message: "Forbidden"}, http.StatusForbidden, CodePermissionError},
		{"missing calendar", "/calendar/events", "u1", &googleapi.Error{Code: 404, Message: "Not Found"}, http.StatusNotFound, CodeCalendarNotFound},
		{"provider outage", "/calendar/events", "u1", &googleapi.Error{Code: 503, Message: "Backend Error"}, http.StatusInternalServerError, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, fixtureOptions{})
			f.api.err = tc.apiErr

			rec := f.do(t, http.MethodGet, tc.target, tc.user)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.status, rec.Body)
			}
			body := decode(t, rec)
			if body["success"] != false {
				t.Errorf("success = %v, want false", body["success"])
			}
			code, _ := body["code"].(string)
			if code != tc.code {
				t.Errorf("code = %q, want %q", code, tc.code)
			}
		})
	}
}

func TestUserNotFound_ClientMessage(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	tests := []struct {
		name   string
		method string
		target string
		handle http.HandlerFunc
	}{
		{"status", http.MethodGet, "/calendar/oauth/status", f.handler.Status},
		{"disconnect", http.MethodPost, "/calendar/oauth/disconnect", f.handler.Disconnect},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, nil)
			req = req.WithContext(auth.WithUserID(req.Context(), "ghost"))
			rec := httptest.NewRecorder()
			tc.handle(rec, req)

			if rec.Code != http.StatusNotFound {
				t.Fatalf("status = %d, want 404", rec.Code)
			}
			body := decode(t, rec)
			if body["error"] != "user not found" || body["code"] != CodeUserNotFound {
				t.Errorf("body = %v, want user not found with %s", body, CodeUserNotFound)
			}
		})
	}
}

func TestInternalErrorMessage(t *testing.T) {
	outage := &googleapi.Error{Code: 503, Message: "Backend Error"}

	f := newFixture(t, fixtureOptions{})
	f.api.err = outage
	if got := decode(t, f.do(t, http.MethodGet, "/calendar/calendars", "u1"))["error"]; got != internalErrorMessage {
		t.Errorf("error = %v, want generic message", got)
	}

	dev := newFixture(t, fixtureOptions{showInternal: true})
	dev.api.err = outage
	got, _ := decode(t, dev.do(t, http.MethodGet, "/calendar/calendars", "u1"))["error"].(string)
	if !strings.Contains(got, "Backend Error") {
		t.Errorf("error = %q, want provider message in development", got)
	}
}

func TestCalendars(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.api.calendars = []*gcal.CalendarListEntry{
		{Id: "ana@gmail.com", Summary: "Ana", Primary: true, AccessRole: "owner"},
		{Id: "team@example.com", Summary: "Team"},
	}

	rec := f.do(t, http.MethodGet, "/calendar/calendars", "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["total"] != float64(2) {
		t.Errorf("total = %v, want 2", body["total"])
	}
	data, _ := body["data"].([]any)
	if len(data) != 2 || data[0].(map[string]any)["isPrimary"] != true {
		t.Errorf("data = %v", data)
	}
}

func TestMCPRequiresSession(t *testing.T) {
	called := false
	mcpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if id, ok := auth.UserIDFromContext(r.Context()); !ok || id != "u1" {
			t.Errorf("user id = %q, %v, want u1", id, ok)
		}
		w.WriteHeader(http.StatusAccepted)
	})
	f := newFixture(t, fixtureOptions{mcp: mcpHandler})

	if rec := f.do(t, http.MethodPost, "/mcp", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", rec.Code)
	}
	if called {
		t.Fatal("MCP handler reached without a session")
	}
	if rec := f.do(t, http.MethodPost, "/mcp", "u1"); rec.Code != http.StatusAccepted {
		t.Errorf("authenticated status = %d, want 202", rec.Code)
	}
}

func TestParseEventsQuery_Defaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/calendar/events?calendarId=%20%20", nil)
	q, perDay, err := parseEventsQuery(req)
	if err != nil {
		t.Fatalf("parseEventsQuery() error: %v", err)
	}
	if q.CalendarID != "" || q.MaxResults != calendar.DefaultMaxResults || perDay != 0 {
		t.Errorf("query = %+v perDay = %d, want defaults", q, perDay)
	}
	if !q.TimeMin.IsZero() || !q.TimeMax.IsZero() {
		t.Errorf("window = %v..%v, want zero", q.TimeMin, q.TimeMax)
	}
}
