package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"signly/internal/metrics"
)

const (
	usersCollection  = "users"
	statesCollection = "oauth_states"
)

// FirestoreUsers is a UserRepository backed by Cloud Firestore.
type FirestoreUsers struct {
	client *firestore.Client
}

// NewFirestoreClient creates a Firestore client for the given project.
func NewFirestoreClient(ctx context.Context, project string) (*firestore.Client, error) {
	client, err := firestore.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	log.Printf("Firestore client initialized for project: %s", project)
	return client, nil
}

// NewFirestoreUsers wraps an existing Firestore client.
func NewFirestoreUsers(client *firestore.Client) *FirestoreUsers {
	return &FirestoreUsers{client: client}
}

func (s *FirestoreUsers) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(usersCollection).Doc(id)
}

// Get loads a user document.
func (s *FirestoreUsers) Get(ctx context.Context, id string) (*User, error) {
	defer metrics.ObserveStoreLatency(ctx, "get_user", time.Now())

	if id == "" {
		return nil, ErrUserNotFound
	}

	snap, err := s.doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}

	var user User
	if err := snap.DataTo(&user); err != nil {
		return nil, fmt.Errorf("failed to parse user document %s: %w", id, err)
	}
	user.ID = snap.Ref.ID
	return &user, nil
}

// SaveConnection writes every field of a new connection in one update.
func (s *FirestoreUsers) SaveConnection(ctx context.Context, id string, conn Connection) error {
	defer metrics.ObserveStoreLatency(ctx, "save_connection", time.Now())

	return s.update(ctx, id, []firestore.Update{
		{Path: "googleCalendar.connected", Value: true},
		{Path: "googleCalendar.refreshToken", Value: conn.RefreshToken},
		{Path: "googleCalendar.accessToken", Value: nullableString(conn.AccessToken)},
		{Path: "googleCalendar.tokenExpiry", Value: timePtr(conn.TokenExpiry)},
		{Path: "googleCalendar.email", Value: nullableString(conn.Email)},
		{Path: "googleCalendar.connectedAt", Value: timePtr(conn.ConnectedAt)},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
}

// UpdateAccessToken writes the access token and its expiry together. The
// write runs in a transaction that requires googleCalendar.connected, so a
// refresh racing a disconnect cannot bring a token back.
func (s *FirestoreUsers) UpdateAccessToken(ctx context.Context, id, accessToken string, expiry time.Time) error {
	defer metrics.ObserveStoreLatency(ctx, "update_access_token", time.Now())

	if id == "" {
		return ErrUserNotFound
	}

	ref := s.doc(id)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		connected, err := snap.DataAt("googleCalendar.connected")
		if err != nil || connected != true {
			return ErrDisconnected
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "googleCalendar.accessToken", Value: accessToken},
			{Path: "googleCalendar.tokenExpiry", Value: expiry.UTC()},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		})
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDisconnected):
		return ErrDisconnected
	case status.Code(err) == codes.NotFound:
		return ErrUserNotFound
	}
	return fmt.Errorf("failed to update access token for user %s: %w", id, err)
}

// SetCalendarID stores the default calendar id.
func (s *FirestoreUsers) SetCalendarID(ctx context.Context, id, calendarID string) error {
	defer metrics.ObserveStoreLatency(ctx, "set_calendar_id", time.Now())

	return s.update(ctx, id, []firestore.Update{
		{Path: "googleCalendar.calendarId", Value: nullableString(calendarID)},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
}

// ClearConnection resets the whole credential in one update.
func (s *FirestoreUsers) ClearConnection(ctx context.Context, id string) error {
	defer metrics.ObserveStoreLatency(ctx, "clear_connection", time.Now())

	return s.update(ctx, id, []firestore.Update{
		{Path: "googleCalendar", Value: map[string]any{
			"connected":    false,
			"refreshToken": nil,
			"accessToken":  nil,
			"tokenExpiry":  nil,
			"calendarId":   nil,
			"email":        nil,
			"connectedAt":  nil,
		}},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
}

func (s *FirestoreUsers) update(ctx context.Context, id string, updates []firestore.Update) error {
	if id == "" {
		return ErrUserNotFound
	}
	if _, err := s.doc(id).Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to update user %s: %w", id, err)
	}
	return nil
}

// Ping checks that the users collection can be queried.
func (s *FirestoreUsers) Ping(ctx context.Context) error {
	iter := s.client.Collection(usersCollection).Limit(1).Documents(ctx)
	defer iter.Stop()

	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("failed to query Firestore: %w", err)
	}
	return nil
}

// stateDocument records a consumed OAuth state nonce.
// Collection: oauth_states, Document ID: the nonce itself
type stateDocument struct {
	ConsumedAt time.Time `firestore:"consumedAt"`
	ExpiresAt  time.Time `firestore:"expiresAt"`
}

// FirestoreNonces records consumed OAuth state nonces so a state is accepted once
// across every server instance. Configure a Firestore TTL policy on expiresAt to
// purge old documents.
type FirestoreNonces struct {
	client *firestore.Client
	now    func() time.Time
}

// NewFirestoreNonces wraps an existing Firestore client.
func NewFirestoreNonces(client *firestore.Client) *FirestoreNonces {
	return &FirestoreNonces{client: client, now: time.Now}
}

// Consume reports true the first time a nonce is seen and false afterwards.
func (s *FirestoreNonces) Consume(ctx context.Context, nonce string, expiresAt time.Time) (bool, error) {
	defer metrics.ObserveStoreLatency(ctx, "consume_state", time.Now())

	if nonce == "" {
		return false, nil
	}

	_, err := s.client.Collection(statesCollection).Doc(nonce).Create(ctx, stateDocument{
		ConsumedAt: s.now().UTC(),
		ExpiresAt:  expiresAt.UTC(),
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return false, nil
		}
		return false, fmt.Errorf("failed to record state nonce: %w", err)
	}
	return true, nil
}
