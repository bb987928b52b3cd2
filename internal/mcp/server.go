// Package mcp provides the MCP (Model Context Protocol) endpoint of signly,
// letting AI assistants read a user's connected Google Calendar.
package mcp

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"signly/internal/calendar"
	"signly/internal/oauthflow"
	"signly/pkg/auth"
)

// Calendars reads calendar data for a user.
type Calendars interface {
	ListCalendars(ctx context.Context, userID string) ([]calendar.Calendar, error)
	ListEvents(ctx context.Context, userID string, q calendar.EventQuery) (*calendar.EventList, error)
}

// Connections reports a user's calendar connection.
type Connections interface {
	Status(ctx context.Context, userID string) (*oauthflow.Status, error)
}

// Config holds the MCP server dependencies.
type Config struct {
	Version     string
	Calendars   Calendars
	Connections Connections
}

// Server builds MCP sessions bound to the authenticated user.
type Server struct {
	version     string
	calendars   Calendars
	connections Connections
	now         func() time.Time
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg *Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	return &Server{
		version:     version,
		calendars:   cfg.Calendars,
		connections: cfg.Connections,
		now:         time.Now,
	}
}

// Handler returns the streamable HTTP handler. It must run behind a
// middleware that stores the user id in the request context; requests
// without one are rejected by the SDK.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			log.Printf("MCP request without authenticated user")
			return nil
		}
		return s.serverFor(userID)
	}, &mcp.StreamableHTTPOptions{
		// Each request gets a server bound to its own user.
		Stateless: true,
	})
}

// serverFor creates an MCP server whose tools act on behalf of userID.
func (s *Server) serverFor(userID string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "signly",
		Version: s.version,
	}, nil)

	t := &tools{server: s, userID: userID}
	t.register(server)
	return server
}
