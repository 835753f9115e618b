package churchsuite

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, 2*time.Second)
}

func TestSearchPeople(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("search")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"people": [{"id": 1}]}`))
	})

	raw, err := client.SearchPeople(context.Background(), "tok-1", "smith")
	if err != nil {
		t.Fatalf("SearchPeople failed: %v", err)
	}
	if gotPath != "/addressbook/people" {
		t.Errorf("Unexpected path: %q", gotPath)
	}
	if gotQuery != "smith" {
		t.Errorf("Unexpected search param: %q", gotQuery)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("Unexpected Authorization header: %q", gotAuth)
	}
	if !strings.Contains(string(raw), `"people"`) {
		t.Errorf("Response body not passed through: %s", raw)
	}
}

func TestListEventsDateRange(t *testing.T) {
	var gotStart, gotEnd string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotStart = r.URL.Query().Get("start_date")
		gotEnd = r.URL.Query().Get("end_date")
		w.Write([]byte(`{"events": []}`))
	})

	if _, err := client.ListEvents(context.Background(), "tok", "2025-06-01", "2025-06-30"); err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if gotStart != "2025-06-01" || gotEnd != "2025-06-30" {
		t.Errorf("Date range not forwarded: start=%q end=%q", gotStart, gotEnd)
	}
}

func TestListEventsOmitsEmptyDates(t *testing.T) {
	var gotRawQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotRawQuery = r.URL.RawQuery
		w.Write([]byte(`{}`))
	})

	if _, err := client.ListEvents(context.Background(), "tok", "", ""); err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if gotRawQuery != "" {
		t.Errorf("Expected no query parameters, got %q", gotRawQuery)
	}
}

func TestMyProfilePath(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"id": 42}`))
	})

	if _, err := client.MyProfile(context.Background(), "tok"); err != nil {
		t.Fatalf("MyProfile failed: %v", err)
	}
	if gotPath != "/people/me" {
		t.Errorf("Unexpected path: %q", gotPath)
	}
}

func TestNonSuccessStatusReturnsAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "invalid_token"}`))
	})

	_, err := client.ListGroups(context.Background(), "stale")
	if err == nil {
		t.Fatal("Expected an error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Body, "invalid_token") {
		t.Errorf("Expected body in error, got %q", apiErr.Body)
	}
}

func TestAPIErrorBodyTruncated(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(strings.Repeat("x", 1000)))
	})

	_, err := client.ListGroups(context.Background(), "tok")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %v", err)
	}
	if len(apiErr.Body) > 256 {
		t.Errorf("Error body not truncated: %d bytes", len(apiErr.Body))
	}
}

func TestContextCancellation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.ListGroups(ctx, "tok"); err == nil {
		t.Error("Expected error on cancelled context")
	}
}
