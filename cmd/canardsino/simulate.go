package main

import (
	"fmt"
	"time"

	"github.com/Iryonis/canardsino-sub001/internal/race"
	"github.com/Iryonis/canardsino-sub001/internal/randutil"
)

// SimulateCmd runs races offline, without a server, and prints the winner
// distribution. Useful for sanity-checking fairness after tuning the track.
type SimulateCmd struct {
	Races       int    `kong:"default='10000',help='Number of races to run'"`
	Lanes       int    `kong:"default='4',help='Number of lanes per race'"`
	TrackLength int    `kong:"default='100',help='Track length in units'"`
	MaxAdvance  int    `kong:"default='8',help='Maximum advance per tick'"`
	Seed        *int64 `kong:"help='Deterministic RNG seed (optional)'"`
}

func (c *SimulateCmd) Run() error {
	if c.Races < 1 {
		return fmt.Errorf("races must be positive, got %d", c.Races)
	}
	if c.Lanes < 2 || c.Lanes > 5 {
		return fmt.Errorf("lanes must be between 2 and 5, got %d", c.Lanes)
	}

	seed := time.Now().UnixNano()
	if c.Seed != nil {
		seed = *c.Seed
	}
	rng := randutil.New(seed)

	cfg := race.Config{
		TrackLength: c.TrackLength,
		MaxAdvance:  c.MaxAdvance,
	}

	wins := make([]int, c.Lanes)
	totalTicks := 0
	for i := 0; i < c.Races; i++ {
		round := race.NewRound(fmt.Sprintf("sim-%d", i), simLanes(c.Lanes), 0, cfg)

		ticks := 0
		for {
			ticks++
			if round.Tick(rng).Done {
				break
			}
		}
		totalTicks += ticks
		wins[round.Winner().Lane-1]++
	}

	fmt.Printf("races: %d  lanes: %d  track: %d  max advance: %d  seed: %d\n",
		c.Races, c.Lanes, c.TrackLength, c.MaxAdvance, seed)
	fmt.Printf("average ticks per race: %.2f\n", float64(totalTicks)/float64(c.Races))
	for i, count := range wins {
		fmt.Printf("lane %d: %6d wins (%.2f%%)\n", i+1, count, 100*float64(count)/float64(c.Races))
	}
	return nil
}

// simLanes builds an offline roster; lanes are numbered from 1 like the
// live rooms.
func simLanes(n int) []race.Lane {
	lanes := make([]race.Lane, n)
	for i := range lanes {
		lanes[i] = race.Lane{Lane: i + 1, UserID: fmt.Sprintf("lane-%d", i+1)}
	}
	return lanes
}
