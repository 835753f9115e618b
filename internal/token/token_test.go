package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	pberrors "github.com/parishbot/parishbot/internal/errors"
)

const testSecret = "test-secret-key-for-session-tokens"

func newFixedClockService(t *testing.T, lifetime time.Duration) (*Service, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(testSecret, lifetime, "parishbot-test", WithClock(func() time.Time {
		return now
	}))
	return svc, &now
}

func TestIssueAndVerify(t *testing.T) {
	svc := NewService(testSecret, 30*time.Minute, "parishbot-test")

	tok, expiresAt, err := svc.Issue("u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if tok == "" {
		t.Fatal("Token should not be empty")
	}
	if parts := strings.Split(tok, "."); len(parts) != 3 {
		t.Errorf("Token should have 3 parts, got %d", len(parts))
	}
	if expiresAt.Before(time.Now()) {
		t.Error("Token expiry should be in the future")
	}

	identity, err := svc.Verify(tok)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if identity.Subject != "u1" {
		t.Errorf("Expected subject u1, got %q", identity.Subject)
	}
}

func TestIssueRequiresSubject(t *testing.T) {
	svc := NewService(testSecret, 30*time.Minute, "parishbot-test")

	if _, _, err := svc.Issue(""); !pberrors.IsCode(err, pberrors.CodeInvalidRequest) {
		t.Errorf("Expected invalid_request, got %v", err)
	}
}

func TestVerifyExpiryBoundary(t *testing.T) {
	lifetime := 30 * time.Minute
	svc, now := newFixedClockService(t, lifetime)

	tok, _, err := svc.Issue("u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// One second before expiry: valid
	*now = now.Add(lifetime - time.Second)
	if _, err := svc.Verify(tok); err != nil {
		t.Errorf("Token should be valid 1s before expiry, got %v", err)
	}

	// One second past expiry: rejected as expired, specifically
	*now = now.Add(2 * time.Second)
	_, err = svc.Verify(tok)
	if err == nil {
		t.Fatal("Token should be rejected past expiry")
	}
	if got := errReason(err); got != pberrors.ReasonExpiredToken {
		t.Errorf("Expected reason %q, got %q", pberrors.ReasonExpiredToken, got)
	}
}

func TestVerifyTamperedSignature(t *testing.T) {
	svc := NewService(testSecret, 30*time.Minute, "parishbot-test")

	tok, _, err := svc.Issue("u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// Flip one byte of the signature, staying inside the base64url alphabet
	tampered := []byte(tok)
	last := len(tampered) - 1
	if tampered[last] == 'A' {
		tampered[last] = 'B'
	} else {
		tampered[last] = 'A'
	}

	_, err = svc.Verify(string(tampered))
	if err == nil {
		t.Fatal("Tampered token should be rejected")
	}
	if got := errReason(err); got != pberrors.ReasonInvalidSignature {
		t.Errorf("Expected reason %q, got %q", pberrors.ReasonInvalidSignature, got)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	svc := NewService(testSecret, 30*time.Minute, "parishbot-test")
	other := NewService("a-completely-different-secret", 30*time.Minute, "parishbot-test")

	tok, _, err := other.Issue("u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	_, err = svc.Verify(tok)
	if err == nil {
		t.Fatal("Token signed with another secret should be rejected")
	}
	if got := errReason(err); got != pberrors.ReasonInvalidSignature {
		t.Errorf("Expected reason %q, got %q", pberrors.ReasonInvalidSignature, got)
	}
}

func TestVerifyMalformedTokens(t *testing.T) {
	svc := NewService(testSecret, 30*time.Minute, "parishbot-test")

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"two parts", "abc.def"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Verify(tt.token)
			if err == nil {
				t.Fatal("Malformed token should be rejected")
			}
			if got := errReason(err); got != pberrors.ReasonMalformedToken {
				t.Errorf("Expected reason %q, got %q", pberrors.ReasonMalformedToken, got)
			}
		})
	}
}

func TestVerifyMissingExpiry(t *testing.T) {
	svc := NewService(testSecret, 30*time.Minute, "parishbot-test")

	// Signed with the right secret but no exp claim
	claims := jwt.MapClaims{"sub": "u1"}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}

	_, err = svc.Verify(signed)
	if err == nil {
		t.Fatal("Token without exp should be rejected")
	}
	if got := errReason(err); got != pberrors.ReasonMalformedToken {
		t.Errorf("Expected reason %q, got %q", pberrors.ReasonMalformedToken, got)
	}
}

func TestVerifyMissingSubject(t *testing.T) {
	svc := NewService(testSecret, 30*time.Minute, "parishbot-test")

	claims := jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}

	_, err = svc.Verify(signed)
	if err == nil {
		t.Fatal("Token without sub should be rejected")
	}
	if got := errReason(err); got != pberrors.ReasonMalformedToken {
		t.Errorf("Expected reason %q, got %q", pberrors.ReasonMalformedToken, got)
	}
}

func errReason(err error) string {
	if !pberrors.IsCode(err, pberrors.CodeUnauthenticated) {
		return ""
	}
	var e *pberrors.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}
