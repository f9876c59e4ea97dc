package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rand "math/rand/v2"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/Iryonis/canardsino-sub001/internal/auth"
	"github.com/Iryonis/canardsino-sub001/internal/protocol"
	"github.com/Iryonis/canardsino-sub001/internal/wallet"
)

// Close code sent when the handshake token is rejected.
const closeAuthError = 4401

// Server is the WebSocket front door: it authenticates handshakes, owns the
// set of live sessions and hands room traffic to the registry.
type Server struct {
	addr     string
	upgrader websocket.Upgrader
	verifier auth.Verifier
	wallet   wallet.Wallet
	registry *Registry
	settler  *Settler
	logger   *log.Logger

	mu       sync.RWMutex
	sessions map[string]*Session // by user id

	racesCompleted atomic.Int64
	startedAt      time.Time
}

// ServerOptions wires the server's collaborators. Clock and RNG are injected
// so tests can drive time and outcomes deterministically.
type ServerOptions struct {
	Config   ServerConfig
	Verifier auth.Verifier
	Wallet   wallet.Wallet
	Notifier Notifier
	Clock    quartz.Clock
	RNG      *rand.Rand
	Logger   *log.Logger
}

// NewServer builds a server, its settler and registry, and instantiates the
// persistent rooms declared in configuration.
func NewServer(opts ServerOptions) *Server {
	s := &Server{
		addr: opts.Config.Server.Addr(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// For development, allow all origins.
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		verifier:  opts.Verifier,
		wallet:    opts.Wallet,
		logger:    opts.Logger.WithPrefix("server"),
		sessions:  make(map[string]*Session),
		startedAt: time.Now(),
	}

	s.settler = NewSettler(SettlerOptions{
		Wallet:          opts.Wallet,
		Notifier:        opts.Notifier,
		Balances:        s,
		Clock:           opts.Clock,
		Logger:          opts.Logger,
		BigWinThreshold: opts.Config.Server.BigWinThreshold,
	})
	s.registry = NewRegistry(opts.Config.Game.Rules(), opts.Clock, opts.Wallet, s.settler, s, opts.RNG, opts.Logger)
	s.registry.CreatePersistentRooms(opts.Config.Rooms)

	return s
}

// Registry exposes the room directory, for tests and the stats endpoint.
func (s *Server) Registry() *Registry { return s.registry }

// Handler returns the HTTP surface: the WebSocket endpoint plus the
// operational endpoints.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", s.handleWebSocket)
	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	return r
}

// Start serves until ctx is canceled, then drains rooms and sessions.
func (s *Server) Start(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	s.logger.Info("starting server", "addr", s.addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		s.registry.CloseAll("server shutting down")
		s.closeAllSessions()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) closeAllSessions() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.close()
	}
}

// bearerToken pulls the auth token from the Authorization header, falling
// back to the token query parameter for browser WebSocket clients that
// cannot set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return after
		}
		return h
	}
	return r.URL.Query().Get("token")
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", "error", err)
		return
	}

	verifyCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	identity, err := s.verifier.Verify(verifyCtx, token)
	cancel()
	if err != nil {
		reason := "AUTH_ERROR"
		if errors.Is(err, auth.ErrUnavailable) {
			reason = "AUTH_UNAVAILABLE"
		}
		s.logger.Warn("handshake rejected", "reason", reason, "error", err)
		deadline := time.Now().Add(writeWait)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeAuthError, reason), deadline)
		_ = conn.Close()
		return
	}

	sess := newSession(conn, *identity, s, s.logger)
	s.attach(sess)
	sess.start()

	if s.registry.Reattach(sess) {
		s.logger.Info("session reattached to room", "user", identity.UserID)
	}
}

// attach installs the session as the user's current one. A lingering session
// for the same identity is displaced; its teardown sees it is no longer
// current and leaves the room seat alone.
func (s *Server) attach(sess *Session) {
	s.mu.Lock()
	old := s.sessions[sess.UserID()]
	s.sessions[sess.UserID()] = sess
	total := len(s.sessions)
	s.mu.Unlock()

	if old != nil {
		s.logger.Info("displacing previous session", "user", sess.UserID())
		_ = old.close()
	}
	s.logger.Info("client connected", "user", sess.UserID(), "total", total)
}

// sessionClosed is called from a session's read pump teardown. Only the
// user's current session triggers the room grace period.
func (s *Server) sessionClosed(sess *Session) {
	s.mu.Lock()
	current := s.sessions[sess.UserID()] == sess
	if current {
		delete(s.sessions, sess.UserID())
	}
	total := len(s.sessions)
	s.mu.Unlock()

	if !current {
		return
	}

	s.registry.Disconnected(sess.UserID())
	s.logger.Info("client disconnected", "user", sess.UserID(), "total", total)
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// LobbyBroadcast fans a room lifecycle frame out to every session that is
// not seated in a room.
func (s *Server) LobbyBroadcast(msg *protocol.Message) {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		if s.registry.RoomFor(sess.UserID()) != nil {
			continue
		}
		_ = sess.Send(msg)
	}
}

// RaceCompleted counts a finished race for the stats endpoint.
func (s *Server) RaceCompleted() {
	s.racesCompleted.Add(1)
}

// NotifyBalance pushes a fresh wallet balance to the user's session after a
// settlement credit lands. Best effort; a disconnected user simply misses
// the push and sees the balance on their next room list.
func (s *Server) NotifyBalance(userID, reason string) {
	s.mu.RLock()
	sess := s.sessions[userID]
	s.mu.RUnlock()
	if sess == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	balance, err := s.wallet.Balance(ctx, userID)
	if err != nil {
		s.logger.Debug("balance lookup failed", "user", userID, "error", err)
		return
	}

	msg, err := protocol.NewMessage(protocol.TypeBalanceUpdate, protocol.BalanceUpdate{
		Balance: balance,
		Reason:  reason,
	})
	if err != nil {
		return
	}
	_ = sess.Send(msg)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := struct {
		UptimeSeconds  int64 `json:"uptimeSeconds"`
		Sessions       int   `json:"sessions"`
		Rooms          int   `json:"rooms"`
		RacesCompleted int64 `json:"racesCompleted"`
		PendingPayouts int64 `json:"pendingPayouts"`
	}{
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		Sessions:       s.SessionCount(),
		Rooms:          s.registry.RoomCount(),
		RacesCompleted: s.racesCompleted.Load(),
		PendingPayouts: s.settler.PendingPayouts(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(stats)
}
