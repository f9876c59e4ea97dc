package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPVerifierValidToken(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request: %v", err)
		}
		if req.Token != "good-token" {
			t.Errorf("token = %s", req.Token)
		}
		_ = json.NewEncoder(w).Encode(verifyResponse{Valid: true, UserID: "u1", Username: "alice"})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	identity, err := v.Verify(context.Background(), "good-token")
	if err != nil {
		t.Fatal(err)
	}
	if identity.UserID != "u1" || identity.Username != "alice" {
		t.Errorf("identity = %+v", identity)
	}
}

func TestHTTPVerifierInvalidToken(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	if _, err := v.Verify(context.Background(), "bad-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestHTTPVerifierRejectsInvalidFlag(t *testing.T) {
	t.Parallel()
	// A 200 with valid=false is still a rejection.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(verifyResponse{Valid: false, Error: "expired"})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	if _, err := v.Verify(context.Background(), "expired-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestHTTPVerifierEmptyToken(t *testing.T) {
	t.Parallel()
	// The empty token short-circuits without a network call.
	v := NewHTTPVerifier("http://127.0.0.1:1")
	if _, err := v.Verify(context.Background(), ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestHTTPVerifierUnavailable(t *testing.T) {
	t.Parallel()
	v := NewHTTPVerifier("http://127.0.0.1:1")
	if _, err := v.Verify(context.Background(), "token"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	v = NewHTTPVerifier(srv.URL)
	if _, err := v.Verify(context.Background(), "token"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("5xx: got %v, want ErrUnavailable", err)
	}
}

func TestStaticVerifier(t *testing.T) {
	t.Parallel()
	v := NewStaticVerifier(map[string]Identity{
		"tok-1": {UserID: "u1", Username: "alice"},
	})

	identity, err := v.Verify(context.Background(), "tok-1")
	if err != nil || identity.UserID != "u1" {
		t.Fatalf("got %+v, %v", identity, err)
	}
	if _, err := v.Verify(context.Background(), "tok-2"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unknown token: %v, want ErrInvalidToken", err)
	}
}

func TestInsecureVerifier(t *testing.T) {
	t.Parallel()
	v := InsecureVerifier{}

	identity, err := v.Verify(context.Background(), "whoever")
	if err != nil || identity.UserID != "whoever" {
		t.Fatalf("got %+v, %v", identity, err)
	}
	if _, err := v.Verify(context.Background(), ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token: %v, want ErrInvalidToken", err)
	}
}
