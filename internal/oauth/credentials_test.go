package oauth

import (
	"context"
	"errors"
	"testing"
	"time"

	pberrors "github.com/parishbot/parishbot/internal/errors"
	"github.com/parishbot/parishbot/internal/store"
	"github.com/parishbot/parishbot/internal/store/memory"
)

func newTestCredentials(t *testing.T, client TokenClient) (*CredentialStore, *TokenSource, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	st := memory.New(memory.WithClock(clock))
	t.Cleanup(func() { st.Close() })

	manager := NewManager(FlowConfig{
		AuthorizeURL: "https://provider.example.com/oauth/authorize",
		ClientID:     "parishbot-client",
		RedirectURI:  "https://bot.example.com/auth/callback",
	}, st, client, WithClock(clock))

	creds := NewCredentialStore(st, time.Hour)
	source := NewTokenSource(creds, manager)
	source.now = clock

	return creds, source, &now
}

func TestSaveAndLookup(t *testing.T) {
	creds, _, now := newTestCredentials(t, &fakeTokenClient{})
	ctx := context.Background()

	pair := &TokenPair{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		ExpiresAt:    now.Add(time.Hour),
	}
	if err := creds.Save(ctx, "u1", pair); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := creds.BySubject(ctx, "u1")
	if err != nil {
		t.Fatalf("BySubject failed: %v", err)
	}
	if got.AccessToken != "access-1" || got.RefreshToken != "refresh-1" {
		t.Errorf("Unexpected pair: %+v", got)
	}

	subject, err := creds.SubjectForRefreshToken(ctx, "refresh-1")
	if err != nil {
		t.Fatalf("SubjectForRefreshToken failed: %v", err)
	}
	if subject != "u1" {
		t.Errorf("Expected subject u1, got %q", subject)
	}
}

func TestLookupUnknown(t *testing.T) {
	creds, _, _ := newTestCredentials(t, &fakeTokenClient{})
	ctx := context.Background()

	if _, err := creds.BySubject(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := creds.SubjectForRefreshToken(ctx, "never-issued"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRotateDropsOldRefreshIndex(t *testing.T) {
	creds, _, now := newTestCredentials(t, &fakeTokenClient{})
	ctx := context.Background()

	old := &TokenPair{AccessToken: "a1", RefreshToken: "r1", ExpiresAt: now.Add(time.Hour)}
	if err := creds.Save(ctx, "u1", old); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	fresh := &TokenPair{AccessToken: "a2", RefreshToken: "r2", ExpiresAt: now.Add(2 * time.Hour)}
	if err := creds.Rotate(ctx, "u1", "r1", fresh); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	if _, err := creds.SubjectForRefreshToken(ctx, "r1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Spent refresh token should be unindexed, got %v", err)
	}
	subject, err := creds.SubjectForRefreshToken(ctx, "r2")
	if err != nil || subject != "u1" {
		t.Errorf("New refresh token should resolve to u1, got %q, %v", subject, err)
	}
	got, err := creds.BySubject(ctx, "u1")
	if err != nil || got.AccessToken != "a2" {
		t.Errorf("Expected rotated pair, got %+v, %v", got, err)
	}
}

func TestAccessTokenReturnsValidPair(t *testing.T) {
	client := &fakeTokenClient{}
	creds, source, now := newTestCredentials(t, client)
	ctx := context.Background()

	pair := &TokenPair{AccessToken: "a1", RefreshToken: "r1", ExpiresAt: now.Add(time.Hour)}
	if err := creds.Save(ctx, "u1", pair); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := source.AccessToken(ctx, "u1")
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	if got != "a1" {
		t.Errorf("Expected a1, got %q", got)
	}
	if client.refreshHits != 0 {
		t.Errorf("Valid pair should not trigger a refresh, got %d", client.refreshHits)
	}
}

func TestAccessTokenRefreshesExpiredPair(t *testing.T) {
	client := &fakeTokenClient{}
	creds, source, now := newTestCredentials(t, client)
	ctx := context.Background()

	pair := &TokenPair{AccessToken: "a1", RefreshToken: "r1", ExpiresAt: now.Add(-time.Minute)}
	if err := creds.Save(ctx, "u1", pair); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := source.AccessToken(ctx, "u1")
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	if got != "access-refreshed" {
		t.Errorf("Expected refreshed token, got %q", got)
	}
	if client.refreshHits != 1 {
		t.Errorf("Expected exactly one refresh, got %d", client.refreshHits)
	}

	// The rotation was persisted
	if _, err := creds.SubjectForRefreshToken(ctx, "r1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Old refresh token should be gone, got %v", err)
	}
	subject, err := creds.SubjectForRefreshToken(ctx, "refresh-rotated")
	if err != nil || subject != "u1" {
		t.Errorf("Rotated refresh token should resolve to u1, got %q, %v", subject, err)
	}
}

func TestAccessTokenMissingCredentials(t *testing.T) {
	_, source, _ := newTestCredentials(t, &fakeTokenClient{})

	_, err := source.AccessToken(context.Background(), "stranger")
	if err == nil {
		t.Fatal("Expected an error")
	}
	if pberrors.CodeOf(err) != pberrors.CodeRefreshFailed {
		t.Errorf("Expected refresh_failed, got %q", pberrors.CodeOf(err))
	}
	if !errors.Is(err, ErrInvalidGrant) {
		t.Error("Missing credentials should look like a rejected grant")
	}
}

func TestAccessTokenRefreshRejected(t *testing.T) {
	client := &fakeTokenClient{refreshErr: ErrInvalidGrant}
	creds, source, now := newTestCredentials(t, client)
	ctx := context.Background()

	pair := &TokenPair{AccessToken: "a1", RefreshToken: "r1", ExpiresAt: now.Add(-time.Minute)}
	if err := creds.Save(ctx, "u1", pair); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	_, err := source.AccessToken(ctx, "u1")
	if err == nil {
		t.Fatal("Expected an error")
	}
	if !errors.Is(err, ErrInvalidGrant) {
		t.Errorf("Expected ErrInvalidGrant to surface, got %v", err)
	}
}
