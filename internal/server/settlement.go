package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/Iryonis/canardsino-sub001/internal/protocol"
	"github.com/Iryonis/canardsino-sub001/internal/race"
	"github.com/Iryonis/canardsino-sub001/internal/wallet"
)

// ComputeResults turns a finished round into per-player results ordered by
// rank. The winner takes the entire pot; every other participant's net is
// the loss of their wager. The nets of a round always sum to zero.
func ComputeResults(round *race.Round, wagers map[string]int64, usernames map[string]string) []protocol.PlayerResult {
	placements := round.Ranking()

	results := make([]protocol.PlayerResult, len(placements))
	for i, pl := range placements {
		wager := wagers[pl.Lane.UserID]
		net := -wager
		if pl.Rank == 1 {
			net = round.Pot - wager
		}
		results[i] = protocol.PlayerResult{
			UserID:    pl.Lane.UserID,
			Username:  usernames[pl.Lane.UserID],
			Lane:      pl.Lane.Lane,
			Rank:      pl.Rank,
			Position:  pl.Lane.Position,
			NetResult: net,
		}
	}
	return results
}

// BalanceNotifier pushes a fresh balance to a connected user after a
// settlement credit lands. Implemented by the Server; nil-safe.
type BalanceNotifier interface {
	NotifyBalance(userID, reason string)
}

// Settler applies round payouts against the wallet collaborator. Each
// settlement is applied exactly once per settlement id even if the wallet
// must be retried; a payout that exhausts its retries is recorded as
// pending and surfaced to the operational log, never to players.
type Settler struct {
	wallet   wallet.Wallet
	notifier Notifier
	balances BalanceNotifier
	clock    quartz.Clock
	logger   *log.Logger

	bigWinThreshold int64
	maxAttempts     int
	backoff         time.Duration

	mu      sync.Mutex
	settled map[string]bool

	pendingPayouts atomic.Int64
}

// SettlerOptions configures a Settler.
type SettlerOptions struct {
	Wallet          wallet.Wallet
	Notifier        Notifier
	Balances        BalanceNotifier
	Clock           quartz.Clock
	Logger          *log.Logger
	BigWinThreshold int64
}

const (
	settleMaxAttempts = 3
	settleBackoff     = 500 * time.Millisecond
)

// NewSettler creates a settler. A nil Notifier disables big-win
// notifications.
func NewSettler(opts SettlerOptions) *Settler {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Settler{
		wallet:          opts.Wallet,
		notifier:        notifier,
		balances:        opts.Balances,
		clock:           opts.Clock,
		logger:          opts.Logger.WithPrefix("settler"),
		bigWinThreshold: opts.BigWinThreshold,
		maxAttempts:     settleMaxAttempts,
		backoff:         settleBackoff,
		settled:         make(map[string]bool),
	}
}

// SettleRace credits the whole pot to the round's winner. Idempotent by
// round id; the credit runs asynchronously so the room goroutine never
// blocks on the wallet.
func (s *Settler) SettleRace(roundID, winnerID, winnerName string, pot, winnerWager int64) {
	if !s.claim("round:" + roundID) {
		return
	}

	go func() {
		if s.apply(winnerID, pot, "winnings") {
			net := pot - winnerWager
			if s.bigWinThreshold > 0 && net >= s.bigWinThreshold {
				s.notifier.NotifyBigWin(context.Background(), winnerID, winnerName, net)
			}
		}
	}()
}

// Refund returns a committed wager with a net result of zero. Refunds are
// issued at most once per event by the room's serialized goroutine, so no
// idempotency key is needed beyond that ordering.
func (s *Settler) Refund(roomID, userID string, amount int64) {
	s.logger.Debug("refunding wager", "room", roomID, "user", userID, "amount", amount)
	go func() {
		s.apply(userID, amount, "refund")
	}()
}

// claim marks id settled, returning false if it already was.
func (s *Settler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled[id] {
		return false
	}
	s.settled[id] = true
	return true
}

// apply credits amount to userID with bounded retries. Returns true once
// the credit landed.
func (s *Settler) apply(userID string, amount int64, reason string) bool {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.wallet.Credit(context.Background(), userID, amount)
		if err == nil {
			s.logger.Info("payout applied", "user", userID, "amount", amount, "reason", reason, "attempt", attempt)
			if s.balances != nil {
				s.balances.NotifyBalance(userID, reason)
			}
			return true
		}

		s.logger.Warn("payout attempt failed", "user", userID, "amount", amount, "attempt", attempt, "error", err)
		if attempt < s.maxAttempts {
			s.sleep(s.backoff * time.Duration(1<<(attempt-1)))
		}
	}

	// The result stands; only the payout is outstanding. Operations picks
	// this up from the log and the pending counter.
	s.pendingPayouts.Add(1)
	s.logger.Error("payout pending after retries exhausted",
		"user", userID, "amount", amount, "reason", reason, "error", err)
	return false
}

func (s *Settler) sleep(d time.Duration) {
	done := make(chan struct{})
	s.clock.AfterFunc(d, func() { close(done) })
	<-done
}

// PendingPayouts reports payouts that exhausted their retries.
func (s *Settler) PendingPayouts() int64 {
	return s.pendingPayouts.Load()
}
