package main

import (
	"testing"

	"github.com/Iryonis/canardsino-sub001/internal/race"
	"github.com/Iryonis/canardsino-sub001/internal/randutil"
)

func TestSimLanesAreOneBased(t *testing.T) {
	lanes := simLanes(4)
	for i, lane := range lanes {
		if lane.Lane != i+1 {
			t.Errorf("lanes[%d].Lane = %d, want %d", i, lane.Lane, i+1)
		}
	}

	// The winner's lane must index back into a zero-based tally.
	rng := randutil.New(7)
	round := race.NewRound("sim-test", lanes, 0, race.Config{TrackLength: 20, MaxAdvance: 8})
	for !round.Tick(rng).Done {
	}
	wins := make([]int, len(lanes))
	winner := round.Winner().Lane
	if winner < 1 || winner > len(lanes) {
		t.Fatalf("winner lane = %d, want 1..%d", winner, len(lanes))
	}
	wins[winner-1]++
}
