// Package cli provides the command-line interface for signly.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"signly/internal/app"
	"signly/internal/calendar"
	"signly/internal/config"
	"signly/internal/httpserver"
	"signly/internal/oauthflow"
	"signly/internal/oauthstate"
	"signly/pkg/auth"
)

// Version information
const Version = "0.1.0"

// RootCmd is the root command for the CLI.
var RootCmd = &cobra.Command{
	Use:   "signly",
	Short: "signly - Google Calendar connection service",
	Long:  "Connect users' Google Calendars through OAuth2 and serve their calendars and events over HTTP and MCP",
}

// Serve command flags
var (
	serveHost string
	servePort int
)

// Token command flags
var (
	tokenEmail string
	tokenTTL   time.Duration
)

// Command definitions
var (
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("signly version %s\n", Version)
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the signly HTTP server.

Configuration is read from the environment:
  JWT_SECRET, STATE_SECRET:        signing secrets (at least 32 characters)
  GOOGLE_CLIENT_ID/SECRET:         OAuth client, or OAUTH_SECRET_PROJECT and
                                   OAUTH_SECRET_NAME, or OAUTH_CREDENTIALS_FILE
  FRONTEND_URL:                    where the OAuth callback redirects
  FIRESTORE_PROJECT:               user store (in memory when unset)
  APP_DEV_USERS:                   seeded users for the in-memory store ("id" or "id:email")

--host and --port override the address from APP_LISTEN_ADDR.`,
		Example: `  # Listen on the configured address
  signly serve

  # Listen on localhost only
  signly serve --host 127.0.0.1 --port 9090`,
		RunE: runServe,
	}

	tokenCmd = &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a session token for a user",
		Long: `Mint a bearer session token signed with JWT_SECRET.

The token is accepted by every authenticated route. Use it for local testing.`,
		Example: `  # Token valid for the default session lifetime
  signly token u1

  # Token with an email claim, valid for one hour
  signly token u1 --email ana@example.com --ttl 1h`,
		Args: cobra.ExactArgs(1),
		RunE: runToken,
	}

	stateCmd = &cobra.Command{
		Use:   "state",
		Short: "Work with OAuth state tokens",
	}

	stateInspectCmd = &cobra.Command{
		Use:   "inspect <state>",
		Short: "Verify and decode an OAuth state token",
		Long: `Verify the signature and age of an OAuth state token and print its payload.

The nonce is not consumed, so inspecting a token does not invalidate it.`,
		Args: cobra.ExactArgs(1),
		RunE: runStateInspect,
	}

	statusCmd = &cobra.Command{
		Use:   "status <user-id>",
		Short: "Show a user's calendar connection",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}

	calendarsCmd = &cobra.Command{
		Use:   "calendars <user-id>",
		Short: "List the calendars of a connected user",
		Args:  cobra.ExactArgs(1),
		RunE:  runCalendars,
	}
)

// runServe handles the serve command.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	addr, err := listenAddr(cfg.ListenAddr, serveHost, servePort)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer a.Close()

	handler, stop := a.Router(Version)
	defer stop()

	return httpserver.NewServer(addr, handler).Run(ctx)
}

// runToken handles the token command.
func runToken(cmd *cobra.Command, args []string) error {
	cfg := config.Read()
	if err := cfg.ValidateSecrets(); err != nil {
		return err
	}

	token, err := auth.NewSessions([]byte(cfg.Session.JWTSecret), tokenTTL).Issue(args[0], tokenEmail)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	fmt.Println(token)
	return nil
}

// runStateInspect handles the state inspect command.
func runStateInspect(cmd *cobra.Command, args []string) error {
	cfg := config.Read()
	if err := cfg.ValidateSecrets(); err != nil {
		return err
	}

	st, err := oauthstate.NewCodec(cfg.StateKey()).Decode(args[0])
	if err != nil {
		if errors.Is(err, oauthstate.ErrStateExpired) {
			return errors.New("state expired")
		}
		return fmt.Errorf("state rejected: %w", err)
	}

	displayState(os.Stdout, st, time.Now())
	return nil
}

// runStatus handles the status command.
func runStatus(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	status, err := a.Flow.Status(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	displayStatus(os.Stdout, args[0], status)
	return nil
}

// runCalendars handles the calendars command.
func runCalendars(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	calendars, err := a.Gateway.ListCalendars(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to list calendars: %w", err)
	}

	if len(calendars) == 0 {
		fmt.Println("No calendars found.")
		return nil
	}
	displayCalendarTable(os.Stdout, calendars)
	return nil
}

func loadApp() (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	a, err := app.New(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return a, nil
}

// listenAddr applies the --host and --port overrides to the configured address.
func listenAddr(configured, host string, port int) (string, error) {
	if host == "" && port == 0 {
		return configured, nil
	}

	h, p, err := net.SplitHostPort(configured)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", configured, err)
	}
	if host != "" {
		h = host
	}
	if port != 0 {
		if port < 0 || port > 65535 {
			return "", fmt.Errorf("invalid port %d", port)
		}
		p = strconv.Itoa(port)
	}
	return net.JoinHostPort(h, p), nil
}

// displayState prints a decoded state token.
func displayState(w io.Writer, st *oauthstate.State, now time.Time) {
	green := color.New(color.FgGreen).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	issued := st.IssuedTime()
	expires := issued.Add(oauthstate.TTL)

	fmt.Fprintf(w, "%s State is valid\n\n", green("✓"))
	fmt.Fprintf(w, "  User:     %s\n", cyan(st.UserID))
	fmt.Fprintf(w, "  Issued:   %s\n", formatTime(&issued))
	fmt.Fprintf(w, "  Expires:  %s (in %s)\n", formatTime(&expires), expires.Sub(now).Round(time.Second))
	fmt.Fprintf(w, "  Nonce:    %s\n", st.Nonce)
}

// displayStatus prints a user's connection status.
func displayStatus(w io.Writer, userID string, status *oauthflow.Status) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	if !status.Connected {
		fmt.Fprintf(w, "%s %s has no Google Calendar connected\n", yellow("○"), cyan(userID))
		return
	}

	fmt.Fprintf(w, "%s %s is connected\n\n", green("✓"), cyan(userID))
	fmt.Fprintf(w, "  Email:      %s\n", valueOr(status.Email, "-"))
	fmt.Fprintf(w, "  Calendar:   %s\n", valueOr(status.CalendarID, calendar.PrimaryCalendarID+" (fallback)"))
	fmt.Fprintf(w, "  Connected:  %s\n", formatTime(status.ConnectedAt))
}

// displayCalendarTable displays calendars in a table format.
func displayCalendarTable(w io.Writer, calendars []calendar.Calendar) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tROLE\tTIME ZONE\tPRIMARY")
	fmt.Fprintln(tw, "--\t----\t----\t---------\t-------")
	for _, c := range calendars {
		primary := ""
		if c.IsPrimary {
			primary = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			truncate(c.ID, 40),
			truncate(c.Name, 25),
			c.AccessRole,
			c.TimeZone,
			primary)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nFound %d calendar(s)\n", len(calendars))
}

// truncate shortens a string to the specified length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// formatTime formats a timestamp for display in UTC.
func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05") + " UTC"
}

func valueOr(s *string, fallback string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return fallback
	}
	return *s
}

// Init initializes the CLI commands and flags.
func Init() {
	// Add version flag to root command
	RootCmd.Version = Version
	RootCmd.SetVersionTemplate("signly version {{.Version}}\n")

	// Setup serve command flags
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind (overrides APP_LISTEN_ADDR)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides APP_LISTEN_ADDR)")

	// Setup token command flags
	tokenCmd.Flags().StringVarP(&tokenEmail, "email", "e", "", "Email claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultSessionTTL, "Token lifetime")

	// Register commands
	stateCmd.AddCommand(stateInspectCmd)

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(tokenCmd)
	RootCmd.AddCommand(stateCmd)
	RootCmd.AddCommand(statusCmd)
	RootCmd.AddCommand(calendarsCmd)
}
