// Package app assembles the signly components from the configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"signly/internal/calendar"
	"signly/internal/config"
	"signly/internal/googleauth"
	"signly/internal/httpserver"
	"signly/internal/httpserver/ratelimit"
	"signly/internal/mcp"
	"signly/internal/oauthflow"
	"signly/internal/oauthstate"
	"signly/internal/store"
	"signly/pkg/auth"
)

// OAuth routes: 5 requests per second, burst of 10 per client IP.
const (
	oauthRate  = rate.Limit(5)
	oauthBurst = 10
)

// App holds the wired components of a running service.
type App struct {
	Config   *config.Config
	Users    store.UserRepository
	Nonces   oauthstate.NonceStore
	States   *oauthstate.Codec
	Sessions *auth.Sessions
	OAuth    *googleauth.Client
	Gateway  *calendar.Gateway
	Flow     *oauthflow.Controller

	closers []func() error
}

// New connects the stores and builds the services. Call Close when done.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config:   cfg,
		States:   oauthstate.NewCodec(cfg.StateKey()),
		Sessions: auth.NewSessions([]byte(cfg.Session.JWTSecret), auth.DefaultSessionTTL),
	}

	if err := a.initStores(ctx); err != nil {
		return nil, err
	}

	oauthConfig, err := googleauth.LoadConfig(ctx, googleauth.CredentialSource{
		ClientID:       cfg.OAuth.ClientID,
		ClientSecret:   cfg.OAuth.ClientSecret,
		SecretProject:  cfg.OAuth.SecretProject,
		SecretName:     cfg.OAuth.SecretName,
		CredentialFile: cfg.OAuth.CredentialFile,
		RedirectURL:    cfg.OAuth.RedirectURI,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.OAuth = googleauth.NewClient(oauthConfig)
	a.Gateway = calendar.NewGateway(a.Users, calendar.NewRefreshGate(a.OAuth, a.Users), calendar.NewGoogleAPI())
	a.Flow = oauthflow.New(&oauthflow.Config{
		OAuth:       a.OAuth,
		States:      a.States,
		Nonces:      a.Nonces,
		Users:       a.Users,
		Calendars:   a.Gateway,
		FrontendURL: cfg.FrontendURL,
	})

	return a, nil
}

// initStores selects Firestore when a project is configured, otherwise the
// in-memory stores seeded with the development users.
func (a *App) initStores(ctx context.Context) error {
	if a.Config.FirestoreProject != "" {
		client, err := store.NewFirestoreClient(ctx, a.Config.FirestoreProject)
		if err != nil {
			return err
		}
		a.Users = store.NewFirestoreUsers(client)
		a.Nonces = store.NewFirestoreNonces(client)
		a.closers = append(a.closers, client.Close)
		return nil
	}

	users := store.NewMemoryUsers()
	for _, u := range ParseDevUsers(a.Config.DevUsers) {
		users.Put(u)
		log.Printf("Seeded development user: %s", u.ID)
	}
	nonces := oauthstate.NewMemoryNonces(time.Minute)

	a.Users = users
	a.Nonces = nonces
	a.closers = append(a.closers, func() error {
		nonces.Close()
		return nil
	})
	return nil
}

// Router builds the HTTP handler. The returned function releases the rate
// limiter and must be called on shutdown.
func (a *App) Router(version string) (http.Handler, func()) {
	limiter := ratelimit.New(oauthRate, oauthBurst, 5*time.Minute, a.Config.TrustedProxies)

	mcpServer := mcp.NewServer(&mcp.Config{
		Version:     version,
		Calendars:   a.Gateway,
		Connections: a.Flow,
	})

	deps := &httpserver.Deps{
		Handler:           httpserver.NewHandler(a.Flow, a.Gateway, a.Config.IsDevelopment()),
		Auth:              httpserver.NewAuthenticator(a.Sessions, a.Users),
		OAuthLimiter:      limiter,
		MCP:               mcpServer.Handler(),
		PrometheusEnabled: a.Config.PrometheusEnabled,
	}
	if p, ok := a.Users.(store.Pinger); ok {
		deps.Ready = p
	}

	return httpserver.NewRouter(deps), limiter.Close
}

// Close releases the store clients.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("failed to close app: %w", errors.Join(errs...))
	}
	return nil
}

// ParseDevUsers reads APP_DEV_USERS entries of the form "id" or "id:email".
func ParseDevUsers(entries []string) []store.User {
	var users []store.User
	for _, entry := range entries {
		id, email, _ := strings.Cut(entry, ":")
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		users = append(users, store.User{ID: id, Name: id, Email: strings.TrimSpace(email)})
	}
	return users
}
