package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
)

// Notifier emits fire-and-forget events to the notification collaborator.
// Delivery is best effort; the engine never waits on it.
type Notifier interface {
	NotifyBigWin(ctx context.Context, userID, username string, amount int64)
}

// NoopNotifier drops all notifications.
type NoopNotifier struct{}

func (NoopNotifier) NotifyBigWin(context.Context, string, string, int64) {}

// HTTPNotifier posts big-win events to an external endpoint.
type HTTPNotifier struct {
	url    string
	client *http.Client
	logger *log.Logger
}

func NewHTTPNotifier(url string, logger *log.Logger) *HTTPNotifier {
	return &HTTPNotifier{
		url: url,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
		logger: logger.WithPrefix("notify"),
	}
}

type bigWinEvent struct {
	Event    string `json:"event"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Amount   int64  `json:"amount"`
}

func (n *HTTPNotifier) NotifyBigWin(ctx context.Context, userID, username string, amount int64) {
	body, err := json.Marshal(bigWinEvent{Event: "big_win", UserID: userID, Username: username, Amount: amount})
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Debug("big win notification failed", "user", userID, "error", err)
		return
	}
	_ = resp.Body.Close()
}
