package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMemoryWalletOpeningBalance(t *testing.T) {
	t.Parallel()
	w := NewMemoryWallet(1000)
	ctx := context.Background()

	got, err := w.Balance(ctx, "fresh")
	if err != nil || got != 1000 {
		t.Fatalf("Balance = %d, %v; want 1000", got, err)
	}
}

func TestMemoryWalletReserveAndCredit(t *testing.T) {
	t.Parallel()
	w := NewMemoryWallet(1000)
	ctx := context.Background()

	if err := w.CheckAndReserve(ctx, "alice", 300); err != nil {
		t.Fatal(err)
	}
	if got, _ := w.Balance(ctx, "alice"); got != 700 {
		t.Errorf("after reserve: %d, want 700", got)
	}

	if err := w.Credit(ctx, "alice", 600); err != nil {
		t.Fatal(err)
	}
	if got, _ := w.Balance(ctx, "alice"); got != 1300 {
		t.Errorf("after credit: %d, want 1300", got)
	}
}

func TestMemoryWalletInsufficientFunds(t *testing.T) {
	t.Parallel()
	w := NewMemoryWallet(100)
	ctx := context.Background()

	if err := w.CheckAndReserve(ctx, "alice", 200); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("reserve: %v, want ErrInsufficientFunds", err)
	}
	// The failed reserve must not touch the balance.
	if got, _ := w.Balance(ctx, "alice"); got != 100 {
		t.Errorf("balance = %d, want 100", got)
	}
	if err := w.Debit(ctx, "alice", 200); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("debit: %v, want ErrInsufficientFunds", err)
	}
}

func walletServer(t *testing.T, handler func(path string, req walletRequest) (int, walletResponse)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req walletRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		status, resp := handler(r.URL.Path, req)
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPWalletReserve(t *testing.T) {
	t.Parallel()
	srv := walletServer(t, func(path string, req walletRequest) (int, walletResponse) {
		if path != "/v1/reserve" {
			t.Errorf("path = %s", path)
		}
		if req.UserID != "alice" || req.Amount != 100 {
			t.Errorf("request = %+v", req)
		}
		return http.StatusOK, walletResponse{OK: true}
	})

	w := NewHTTPWallet(srv.URL)
	if err := w.CheckAndReserve(context.Background(), "alice", 100); err != nil {
		t.Fatal(err)
	}
}

func TestHTTPWalletInsufficientFunds(t *testing.T) {
	t.Parallel()
	srv := walletServer(t, func(string, walletRequest) (int, walletResponse) {
		return http.StatusPaymentRequired, walletResponse{}
	})

	w := NewHTTPWallet(srv.URL)
	err := w.CheckAndReserve(context.Background(), "alice", 100)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
}

func TestHTTPWalletBalance(t *testing.T) {
	t.Parallel()
	srv := walletServer(t, func(path string, _ walletRequest) (int, walletResponse) {
		if path != "/v1/balance" {
			t.Errorf("path = %s", path)
		}
		return http.StatusOK, walletResponse{OK: true, Balance: 4200}
	})

	w := NewHTTPWallet(srv.URL)
	got, err := w.Balance(context.Background(), "alice")
	if err != nil || got != 4200 {
		t.Fatalf("Balance = %d, %v; want 4200", got, err)
	}
}

func TestHTTPWalletUnknownUser(t *testing.T) {
	t.Parallel()
	srv := walletServer(t, func(string, walletRequest) (int, walletResponse) {
		return http.StatusNotFound, walletResponse{}
	})

	w := NewHTTPWallet(srv.URL)
	if _, err := w.Balance(context.Background(), "ghost"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("got %v, want ErrUnknownUser", err)
	}
}

func TestHTTPWalletServerErrorIsUnavailable(t *testing.T) {
	t.Parallel()
	srv := walletServer(t, func(string, walletRequest) (int, walletResponse) {
		return http.StatusInternalServerError, walletResponse{}
	})

	w := NewHTTPWallet(srv.URL)
	if err := w.Credit(context.Background(), "alice", 100); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestHTTPWalletUnreachable(t *testing.T) {
	t.Parallel()
	w := NewHTTPWallet("http://127.0.0.1:1")
	if err := w.Credit(context.Background(), "alice", 100); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}
