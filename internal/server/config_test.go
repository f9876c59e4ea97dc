package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "canardsino.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadServerConfigMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := LoadServerConfig(filepath.Join(t.TempDir(), "nope.hcl"))
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Server.Addr())
	assert.Equal(t, int64(100), cfg.Game.MinBet)
	assert.Equal(t, 2, cfg.Game.MinPlayers)
	assert.Empty(t, cfg.Rooms)
}

func TestLoadServerConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
server {
  address           = "0.0.0.0"
  port              = 9000
  log_level         = "debug"
  wallet_url        = "http://wallet.internal"
  big_win_threshold = 5000
}

game {
  min_bet          = 50
  track_length     = 200
  betting_window_s = 15
}

room "high rollers" {
  bet_amount = 1000
  capacity   = 3
}

room "penny lane" {
  bet_amount = 50
}
`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr())
	assert.Equal(t, "http://wallet.internal", cfg.Server.WalletURL)
	assert.Equal(t, int64(5000), cfg.Server.BigWinThreshold)
	assert.Equal(t, int64(50), cfg.Game.MinBet)
	assert.Equal(t, 200, cfg.Game.TrackLength)

	// Unset fields fall back to defaults.
	assert.Equal(t, 2, cfg.Game.MinPlayers)
	assert.Equal(t, 10, cfg.Game.CooldownS)
	assert.Equal(t, int64(10000), cfg.Server.OpeningBalance)

	require.Len(t, cfg.Rooms, 2)
	assert.Equal(t, "high rollers", cfg.Rooms[0].Name)
	assert.Equal(t, 3, cfg.Rooms[0].Capacity)
	// Capacity defaults from the game settings.
	assert.Equal(t, 5, cfg.Rooms[1].Capacity)

	rules := cfg.Game.Rules()
	assert.Equal(t, 15*time.Second, rules.BettingWindow)
	assert.Equal(t, 500*time.Millisecond, rules.TickInterval)
	assert.Equal(t, 30*time.Second, rules.GracePeriod)
}

func TestLoadServerConfigValidation(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "min players too low",
			content: "game {\n  min_players = 1\n}\n",
			wantErr: "min_players",
		},
		{
			name:    "room bet below minimum",
			content: "game {\n  min_bet = 100\n}\n\nroom \"cheap\" {\n  bet_amount = 10\n}\n",
			wantErr: "below min_bet",
		},
		{
			name:    "room capacity out of range",
			content: "room \"crowded\" {\n  bet_amount = 100\n  capacity   = 9\n}\n",
			wantErr: "capacity",
		},
		{
			name:    "malformed file",
			content: "server {",
			wantErr: "parse",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadServerConfig(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestSplitAddr(t *testing.T) {
	t.Parallel()
	host, port, err := SplitAddr("127.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, 9000, port)

	_, _, err = SplitAddr("no-port")
	assert.Error(t, err)
}
