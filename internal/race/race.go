// Package race implements the pure race simulation. A Round is advanced one
// tick at a time by an injected random source and never touches the clock,
// the network or any shared state, so it can be driven directly from tests
// and from the offline simulate command.
package race

import (
	rand "math/rand/v2"
)

// Config bounds a single race.
type Config struct {
	TrackLength int // positions needed to finish
	MaxAdvance  int // per-tick advance is uniform in [1, MaxAdvance]
}

// DefaultConfig matches the server defaults.
func DefaultConfig() Config {
	return Config{TrackLength: 100, MaxAdvance: 8}
}

// Lane is one participant's slot in a round.
type Lane struct {
	Lane     int    // 1-based, stable for the round
	UserID   string
	Position int // 0..TrackLength
}

// Round is the sealed record of one race: the lane snapshot taken when
// racing began, the pot at that moment, every per-tick delta, and the
// winner once the race has completed. A Round is only ever mutated by the
// room goroutine that owns it.
type Round struct {
	ID     string
	Pot    int64
	Lanes  []Lane
	Deltas [][]int // Deltas[tick][laneIndex]

	cfg      Config
	finished bool
	winner   int // index into Lanes, valid once finished
}

// NewRound snapshots the given lanes into a fresh round. Positions are
// reset to zero regardless of what the caller passes in.
func NewRound(id string, lanes []Lane, pot int64, cfg Config) *Round {
	snapshot := make([]Lane, len(lanes))
	copy(snapshot, lanes)
	for i := range snapshot {
		snapshot[i].Position = 0
	}

	return &Round{
		ID:    id,
		Pot:   pot,
		Lanes: snapshot,
		cfg:   cfg,
	}
}

// TickResult reports the outcome of a single simulation tick.
type TickResult struct {
	Advances []int // advance drawn per lane this tick, 0 for finished lanes
	LeaderID string
	Done     bool
}

// Tick draws one bounded advance per unfinished lane, clamping at the track
// length. The race ends the tick in which any lane first reaches the track
// length; ties are broken by largest advance this tick, then lowest lane
// number. Tick panics if called after the race has finished.
func (r *Round) Tick(rng *rand.Rand) TickResult {
	if r.finished {
		panic("race: tick on finished round")
	}

	advances := make([]int, len(r.Lanes))
	for i := range r.Lanes {
		if r.Lanes[i].Position >= r.cfg.TrackLength {
			continue
		}
		adv := rng.IntN(r.cfg.MaxAdvance) + 1
		if r.Lanes[i].Position+adv > r.cfg.TrackLength {
			adv = r.cfg.TrackLength - r.Lanes[i].Position
		}
		r.Lanes[i].Position += adv
		advances[i] = adv
	}
	r.Deltas = append(r.Deltas, advances)

	winner := -1
	for i := range r.Lanes {
		if r.Lanes[i].Position < r.cfg.TrackLength {
			continue
		}
		if winner == -1 || advances[i] > advances[winner] ||
			(advances[i] == advances[winner] && r.Lanes[i].Lane < r.Lanes[winner].Lane) {
			winner = i
		}
	}

	if winner >= 0 {
		r.finished = true
		r.winner = winner
	}

	return TickResult{
		Advances: advances,
		LeaderID: r.leaderID(),
		Done:     r.finished,
	}
}

// leaderID is the highest position, ties to the lowest lane number.
func (r *Round) leaderID() string {
	leader := 0
	for i := 1; i < len(r.Lanes); i++ {
		if r.Lanes[i].Position > r.Lanes[leader].Position {
			leader = i
		}
	}
	return r.Lanes[leader].UserID
}

// Finished reports whether a lane has reached the track length.
func (r *Round) Finished() bool {
	return r.finished
}

// Winner returns the winning lane. Only valid once Finished.
func (r *Round) Winner() Lane {
	return r.Lanes[r.winner]
}

// Placement is a lane's final standing.
type Placement struct {
	Lane Lane
	Rank int // 1..N
}

// Ranking returns the final standings: lanes that reached the track length
// first (the winner, then other same-tick finishers by final-tick advance
// and lane number), then non-finishers by position descending with lane
// number breaking ties. Only valid once Finished.
func (r *Round) Ranking() []Placement {
	order := make([]int, len(r.Lanes))
	for i := range order {
		order[i] = i
	}

	lastTick := r.Deltas[len(r.Deltas)-1]
	finished := func(i int) bool { return r.Lanes[i].Position >= r.cfg.TrackLength }

	// Insertion sort keeps this readable; rooms hold at most a handful of
	// lanes.
	less := func(a, b int) bool {
		if a == r.winner {
			return true
		}
		if b == r.winner {
			return false
		}
		if finished(a) != finished(b) {
			return finished(a)
		}
		if finished(a) {
			if lastTick[a] != lastTick[b] {
				return lastTick[a] > lastTick[b]
			}
			return r.Lanes[a].Lane < r.Lanes[b].Lane
		}
		if r.Lanes[a].Position != r.Lanes[b].Position {
			return r.Lanes[a].Position > r.Lanes[b].Position
		}
		return r.Lanes[a].Lane < r.Lanes[b].Lane
	}

	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && less(order[j], order[j-1]); j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}

	placements := make([]Placement, len(order))
	for rank, idx := range order {
		placements[rank] = Placement{Lane: r.Lanes[idx], Rank: rank + 1}
	}
	return placements
}

// Positions returns a copy of the current lane positions.
func (r *Round) Positions() []Lane {
	out := make([]Lane, len(r.Lanes))
	copy(out, r.Lanes)
	return out
}
