// Package auth verifies the bearer credentials presented at connection time.
// Identity issuance lives in an external service; the engine only asks
// whether a token maps to a user.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrInvalidToken indicates the token is definitively invalid.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrUnavailable indicates the auth service is unreachable. Connections
	// are refused in that case; the engine fails closed.
	ErrUnavailable = errors.New("auth: unavailable")
)

// Identity is an authenticated user.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Verifier validates bearer tokens.
type Verifier interface {
	// Verify returns the identity for a valid token, ErrInvalidToken for a
	// definitively bad one, and ErrUnavailable when the service cannot be
	// reached.
	Verify(ctx context.Context, token string) (*Identity, error)
}

// HTTPVerifier verifies tokens via an external HTTP endpoint.
type HTTPVerifier struct {
	url    string
	client *http.Client
}

// NewHTTPVerifier creates a verifier that calls an external HTTP endpoint.
func NewHTTPVerifier(url string) *HTTPVerifier {
	return &HTTPVerifier{
		url: url,
		client: &http.Client{
			Timeout: 500 * time.Millisecond, // Align with context timeout
		},
	}
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Valid    bool   `json:"valid"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	reqBody, err := json.Marshal(verifyRequest{Token: token})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrInvalidToken
	default:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	// Limit response body to 1MB to avoid pathological responses
	var authResp verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&authResp); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", ErrUnavailable, err)
	}

	if !authResp.Valid {
		return nil, ErrInvalidToken
	}

	return &Identity{
		UserID:   authResp.UserID,
		Username: authResp.Username,
	}, nil
}

// InsecureVerifier accepts any non-empty token and uses it as both user id
// and username. Development only; never wire it to a server holding real
// stakes.
type InsecureVerifier struct{}

func (InsecureVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{UserID: token, Username: token}, nil
}

// StaticVerifier maps fixed tokens to identities. Used for development and
// tests where no auth service runs.
type StaticVerifier struct {
	identities map[string]Identity
}

// NewStaticVerifier creates a verifier from a token -> identity map.
func NewStaticVerifier(identities map[string]Identity) *StaticVerifier {
	return &StaticVerifier{identities: identities}
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	identity, ok := v.identities[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	return &identity, nil
}
