package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPWallet talks to the wallet service over HTTP. Each operation is a
// POST to a fixed path with a small JSON body; transport failures and 5xx
// responses surface as ErrUnavailable so callers can decide how to retry.
type HTTPWallet struct {
	baseURL string
	client  *http.Client
}

// NewHTTPWallet creates a wallet client for the service at baseURL.
func NewHTTPWallet(baseURL string) *HTTPWallet {
	return &HTTPWallet{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

type walletRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount,omitempty"`
}

type walletResponse struct {
	OK      bool   `json:"ok"`
	Balance int64  `json:"balance"`
	Error   string `json:"error,omitempty"`
}

func (w *HTTPWallet) CheckAndReserve(ctx context.Context, userID string, amount int64) error {
	resp, err := w.post(ctx, "/v1/reserve", walletRequest{UserID: userID, Amount: amount})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, resp.Error)
	}
	return nil
}

func (w *HTTPWallet) Credit(ctx context.Context, userID string, amount int64) error {
	resp, err := w.post(ctx, "/v1/credit", walletRequest{UserID: userID, Amount: amount})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%w: %s", ErrUnavailable, resp.Error)
	}
	return nil
}

func (w *HTTPWallet) Debit(ctx context.Context, userID string, amount int64) error {
	resp, err := w.post(ctx, "/v1/debit", walletRequest{UserID: userID, Amount: amount})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, resp.Error)
	}
	return nil
}

func (w *HTTPWallet) Balance(ctx context.Context, userID string) (int64, error) {
	resp, err := w.post(ctx, "/v1/balance", walletRequest{UserID: userID})
	if err != nil {
		return 0, err
	}
	if !resp.OK {
		return 0, fmt.Errorf("%w: %s", ErrUnknownUser, resp.Error)
	}
	return resp.Balance, nil
}

func (w *HTTPWallet) post(ctx context.Context, path string, body walletRequest) (*walletResponse, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusPaymentRequired:
		return nil, ErrInsufficientFunds
	case http.StatusNotFound:
		return nil, ErrUnknownUser
	default:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	// Limit response body to 1MB to avoid pathological responses
	var out walletResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", ErrUnavailable, err)
	}
	return &out, nil
}
