package server

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// ServerConfig is the complete on-disk configuration.
type ServerConfig struct {
	Server ServerSettings `hcl:"server,block"`
	Game   GameSettings   `hcl:"game,block"`
	Rooms  []RoomConfig   `hcl:"room,block"`
}

// ServerSettings contains server-level configuration.
type ServerSettings struct {
	Address         string `hcl:"address,optional"`
	Port            int    `hcl:"port,optional"`
	LogLevel        string `hcl:"log_level,optional"`
	AuthURL         string `hcl:"auth_url,optional"`
	WalletURL       string `hcl:"wallet_url,optional"`
	NotifyURL       string `hcl:"notify_url,optional"`
	OpeningBalance  int64  `hcl:"opening_balance,optional"`
	BigWinThreshold int64  `hcl:"big_win_threshold,optional"`
}

// Addr returns the host:port the server listens on.
func (s ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

// SplitAddr parses a host:port listen address. An empty host means all
// interfaces.
func SplitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}

// GameSettings tunes the race state machine. Windows are in seconds except
// the tick, which is in milliseconds.
type GameSettings struct {
	MinBet          int64 `hcl:"min_bet,optional"`
	MinPlayers      int   `hcl:"min_players,optional"`
	DefaultCapacity int   `hcl:"default_capacity,optional"`
	TrackLength     int   `hcl:"track_length,optional"`
	MaxAdvance      int   `hcl:"max_advance,optional"`
	TickMs          int   `hcl:"tick_ms,optional"`
	BettingWindowS  int   `hcl:"betting_window_s,optional"`
	CountdownS      int   `hcl:"countdown_s,optional"`
	CooldownS       int   `hcl:"cooldown_s,optional"`
	GracePeriodS    int   `hcl:"grace_period_s,optional"`
}

// RoomConfig declares a persistent room created at startup.
type RoomConfig struct {
	Name      string `hcl:"name,label"`
	BetAmount int64  `hcl:"bet_amount"`
	Capacity  int    `hcl:"capacity,optional"`
}

// DefaultServerConfig returns the configuration used when no file exists.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Server: ServerSettings{
			Address:         "localhost",
			Port:            8080,
			LogLevel:        "info",
			OpeningBalance:  10000,
			BigWinThreshold: 50000,
		},
		Game: GameSettings{
			MinBet:          100,
			MinPlayers:      2,
			DefaultCapacity: 5,
			TrackLength:     100,
			MaxAdvance:      8,
			TickMs:          500,
			BettingWindowS:  30,
			CountdownS:      5,
			CooldownS:       10,
			GracePeriodS:    30,
		},
	}
}

// LoadServerConfig loads configuration from an HCL file, falling back to
// defaults when the file does not exist.
func LoadServerConfig(filename string) (*ServerConfig, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return DefaultServerConfig(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var config ServerConfig
	diags = gohcl.DecodeBody(file.Body, nil, &config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyDefaults(config *ServerConfig) {
	def := DefaultServerConfig()

	if config.Server.Address == "" {
		config.Server.Address = def.Server.Address
	}
	if config.Server.Port == 0 {
		config.Server.Port = def.Server.Port
	}
	if config.Server.LogLevel == "" {
		config.Server.LogLevel = def.Server.LogLevel
	}
	if config.Server.OpeningBalance == 0 {
		config.Server.OpeningBalance = def.Server.OpeningBalance
	}
	if config.Server.BigWinThreshold == 0 {
		config.Server.BigWinThreshold = def.Server.BigWinThreshold
	}

	if config.Game.MinBet == 0 {
		config.Game.MinBet = def.Game.MinBet
	}
	if config.Game.MinPlayers == 0 {
		config.Game.MinPlayers = def.Game.MinPlayers
	}
	if config.Game.DefaultCapacity == 0 {
		config.Game.DefaultCapacity = def.Game.DefaultCapacity
	}
	if config.Game.TrackLength == 0 {
		config.Game.TrackLength = def.Game.TrackLength
	}
	if config.Game.MaxAdvance == 0 {
		config.Game.MaxAdvance = def.Game.MaxAdvance
	}
	if config.Game.TickMs == 0 {
		config.Game.TickMs = def.Game.TickMs
	}
	if config.Game.BettingWindowS == 0 {
		config.Game.BettingWindowS = def.Game.BettingWindowS
	}
	if config.Game.CountdownS == 0 {
		config.Game.CountdownS = def.Game.CountdownS
	}
	if config.Game.CooldownS == 0 {
		config.Game.CooldownS = def.Game.CooldownS
	}
	if config.Game.GracePeriodS == 0 {
		config.Game.GracePeriodS = def.Game.GracePeriodS
	}

	for i := range config.Rooms {
		if config.Rooms[i].Capacity == 0 {
			config.Rooms[i].Capacity = config.Game.DefaultCapacity
		}
	}
}

func validate(config *ServerConfig) error {
	if config.Game.MinPlayers < 2 {
		return fmt.Errorf("min_players must be at least 2, got %d", config.Game.MinPlayers)
	}
	for _, room := range config.Rooms {
		if room.BetAmount < config.Game.MinBet {
			return fmt.Errorf("room %q bet_amount %d is below min_bet %d", room.Name, room.BetAmount, config.Game.MinBet)
		}
		if room.Capacity < 2 || room.Capacity > 5 {
			return fmt.Errorf("room %q capacity must be 2-5, got %d", room.Name, room.Capacity)
		}
	}
	return nil
}

// Rules is the runtime form of GameSettings with real durations.
type Rules struct {
	MinBet          int64
	MinPlayers      int
	DefaultCapacity int
	TrackLength     int
	MaxAdvance      int
	TickInterval    time.Duration
	BettingWindow   time.Duration
	Countdown       time.Duration
	Cooldown        time.Duration
	GracePeriod     time.Duration
}

// Rules converts the decoded settings into runtime rules.
func (g GameSettings) Rules() Rules {
	return Rules{
		MinBet:          g.MinBet,
		MinPlayers:      g.MinPlayers,
		DefaultCapacity: g.DefaultCapacity,
		TrackLength:     g.TrackLength,
		MaxAdvance:      g.MaxAdvance,
		TickInterval:    time.Duration(g.TickMs) * time.Millisecond,
		BettingWindow:   time.Duration(g.BettingWindowS) * time.Second,
		Countdown:       time.Duration(g.CountdownS) * time.Second,
		Cooldown:        time.Duration(g.CooldownS) * time.Second,
		GracePeriod:     time.Duration(g.GracePeriodS) * time.Second,
	}
}

// DefaultRules returns the runtime defaults, mostly for tests.
func DefaultRules() Rules {
	return DefaultServerConfig().Game.Rules()
}
