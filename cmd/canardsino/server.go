package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/Iryonis/canardsino-sub001/cmd/canardsino/shared"
	"github.com/Iryonis/canardsino-sub001/internal/auth"
	"github.com/Iryonis/canardsino-sub001/internal/randutil"
	"github.com/Iryonis/canardsino-sub001/internal/server"
	"github.com/Iryonis/canardsino-sub001/internal/wallet"
)

// ServerCmd runs the race server.
type ServerCmd struct {
	Config string `kong:"default='canardsino.hcl',help='Path to server configuration file'"`
	Addr   string `kong:"help='Listen address, overrides the config file'"`
	Debug  bool   `kong:"help='Enable debug logging'"`
	Seed   *int64 `kong:"help='Deterministic RNG seed for the server (optional)'"`
}

func (c *ServerCmd) Run() error {
	logger := shared.SetupLogger(c.Debug)

	cfg, err := server.LoadServerConfig(c.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.Addr != "" {
		host, port, err := server.SplitAddr(c.Addr)
		if err != nil {
			return fmt.Errorf("parse addr: %w", err)
		}
		cfg.Server.Address = host
		cfg.Server.Port = port
	}

	var seed int64
	if c.Seed != nil {
		seed = *c.Seed
		logger.Info("using deterministic seed", "seed", seed)
	} else {
		seed = time.Now().UnixNano()
		logger.Info("using random seed", "seed", seed)
	}
	rng := randutil.New(seed)

	verifier, wlt := buildCollaborators(cfg, logger)

	var notifier server.Notifier
	if cfg.Server.NotifyURL != "" {
		notifier = server.NewHTTPNotifier(cfg.Server.NotifyURL, logger)
	}

	srv := server.NewServer(server.ServerOptions{
		Config:   *cfg,
		Verifier: verifier,
		Wallet:   wlt,
		Notifier: notifier,
		Clock:    quartz.NewReal(),
		RNG:      rng,
		Logger:   logger,
	})

	logger.Info("starting canardsino server",
		"address", cfg.Server.Addr(),
		"min_bet", cfg.Game.MinBet,
		"min_players", cfg.Game.MinPlayers,
		"track_length", cfg.Game.TrackLength,
		"persistent_rooms", len(cfg.Rooms),
	)

	ctx := shared.SetupSignalHandler(logger)
	return srv.Start(ctx)
}

func buildCollaborators(cfg *server.ServerConfig, logger *log.Logger) (auth.Verifier, wallet.Wallet) {
	var verifier auth.Verifier
	if cfg.Server.AuthURL != "" {
		verifier = auth.NewHTTPVerifier(cfg.Server.AuthURL)
	} else {
		logger.Warn("no auth_url configured, accepting any token")
		verifier = auth.InsecureVerifier{}
	}

	var wlt wallet.Wallet
	if cfg.Server.WalletURL != "" {
		wlt = wallet.NewHTTPWallet(cfg.Server.WalletURL)
	} else {
		logger.Warn("no wallet_url configured, using in-memory balances", "opening_balance", cfg.Server.OpeningBalance)
		wlt = wallet.NewMemoryWallet(cfg.Server.OpeningBalance)
	}

	return verifier, wlt
}
