package server

import (
	"context"
	"errors"
	"time"

	rand "math/rand/v2"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/Iryonis/canardsino-sub001/internal/protocol"
	"github.com/Iryonis/canardsino-sub001/internal/race"
	"github.com/Iryonis/canardsino-sub001/internal/roomid"
	"github.com/Iryonis/canardsino-sub001/internal/wallet"
)

// Phase is a room's position in the race cycle. Transitions are driven only
// by the room goroutine, never directly by client messages.
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseBetting
	PhaseCountdown
	PhaseRacing
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseBetting:
		return "betting"
	case PhaseCountdown:
		return "countdown"
	case PhaseRacing:
		return "racing"
	case PhaseFinished:
		return "finished"
	}
	return "unknown"
}

// client is the session surface a room needs. Sessions implement it; tests
// substitute fakes.
type client interface {
	UserID() string
	Username() string
	Send(msg *protocol.Message) error
}

// roomHooks is what a room reports back to its registry.
type roomHooks interface {
	playerDetached(roomID, userID string)
	roomClosed(r *Room, reason string)
	roomUpdated(summary protocol.RoomSummary)
	raceCompleted(roomID string)
}

// player is one seated user. Owned exclusively by the room goroutine.
type player struct {
	userID     string
	username   string
	lane       int
	wagered    bool
	wager      int64
	position   int
	connected  bool
	sess       client
	graceTimer *quartz.Timer
}

func (p *player) state() protocol.PlayerState {
	return protocol.PlayerState{
		UserID:      p.userID,
		Username:    p.username,
		Lane:        p.lane,
		HasWagered:  p.wagered,
		Wager:       p.wager,
		Position:    p.position,
		IsConnected: p.connected,
	}
}

// Room messages. Everything that can touch room state arrives through the
// inbox: client commands, timer callbacks and disconnect events alike, so
// they are processed in one serialized order.

type roomMsg interface{ isRoomMsg() }

type joinMsg struct {
	sess  client
	reply chan error
}

type leaveMsg struct {
	userID string
	reply  chan error
}

type readyMsg struct {
	userID string
	ready  bool
	reply  chan error
}

type disconnectMsg struct{ userID string }

type reattachMsg struct {
	sess  client
	reply chan bool
}

type summaryMsg struct{ reply chan protocol.RoomSummary }

type closeMsg struct{ reason string }

type timerKind int

const (
	timerBettingWindow timerKind = iota
	timerCountdownTick
	timerRaceTick
	timerCooldown
)

type timerMsg struct {
	kind timerKind
	gen  uint64
}

type graceExpiredMsg struct{ userID string }

func (joinMsg) isRoomMsg()         {}
func (leaveMsg) isRoomMsg()        {}
func (readyMsg) isRoomMsg()        {}
func (disconnectMsg) isRoomMsg()   {}
func (reattachMsg) isRoomMsg()     {}
func (summaryMsg) isRoomMsg()      {}
func (closeMsg) isRoomMsg()        {}
func (timerMsg) isRoomMsg()        {}
func (graceExpiredMsg) isRoomMsg() {}

// Room is one match instance: a single-goroutine actor owning its roster,
// pot, phase timeline and race round.
type Room struct {
	id         string
	name       string
	creatorID  string
	betAmount  int64
	persistent bool
	capacity   int
	rules      Rules

	phase     Phase
	players   []*player // insertion order = lane order
	pot       int64
	round     *race.Round
	countdown int // seconds remaining in PhaseCountdown

	pendingJoins  []client
	pendingLeaves []string

	rng     *rand.Rand
	clock   quartz.Clock
	wallet  wallet.Wallet
	settler *Settler
	hooks   roomHooks
	logger  *log.Logger

	inbox    chan roomMsg
	done     chan struct{}
	timerGen uint64
}

// RoomOptions carries everything a registry wires into a new room.
type RoomOptions struct {
	Name       string
	CreatorID  string
	BetAmount  int64
	Persistent bool
	Capacity   int
	Rules      Rules
	RNG        *rand.Rand
	Clock      quartz.Clock
	Wallet     wallet.Wallet
	Settler    *Settler
	Hooks      roomHooks
	Logger     *log.Logger
}

// NewRoom creates a room actor and starts its goroutine.
func NewRoom(opts RoomOptions) *Room {
	id := roomid.New()
	r := &Room{
		id:         id,
		name:       opts.Name,
		creatorID:  opts.CreatorID,
		betAmount:  opts.BetAmount,
		persistent: opts.Persistent,
		capacity:   opts.Capacity,
		rules:      opts.Rules,
		phase:      PhaseWaiting,
		rng:        opts.RNG,
		clock:      opts.Clock,
		wallet:     opts.Wallet,
		settler:    opts.Settler,
		hooks:      opts.Hooks,
		logger:     opts.Logger.WithPrefix("room").With("room", id),
		inbox:      make(chan roomMsg, 256),
		done:       make(chan struct{}),
	}

	go r.run()
	return r
}

func (r *Room) ID() string   { return r.id }
func (r *Room) Name() string { return r.name }

// post delivers a message to the room goroutine. Returns false if the room
// is closed.
func (r *Room) post(msg roomMsg) bool {
	select {
	case <-r.done:
		return false
	case r.inbox <- msg:
		return true
	}
}

// Join seats the session, or queues it when a race is underway.
func (r *Room) Join(sess client) error {
	reply := make(chan error, 1)
	if !r.post(joinMsg{sess: sess, reply: reply}) {
		return ErrRoomNotFound
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		return ErrRoomNotFound
	}
}

// Leave removes the user, or queues the removal during a race.
func (r *Room) Leave(userID string) error {
	reply := make(chan error, 1)
	if !r.post(leaveMsg{userID: userID, reply: reply}) {
		return ErrRoomNotFound
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		return nil
	}
}

// SetReady commits (or declines to commit) the room's wager for the user.
func (r *Room) SetReady(userID string, ready bool) error {
	reply := make(chan error, 1)
	if !r.post(readyMsg{userID: userID, ready: ready, reply: reply}) {
		return ErrRoomNotFound
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		return ErrRoomNotFound
	}
}

// Disconnected marks the user's seat as disconnected and starts the
// reconnection grace period.
func (r *Room) Disconnected(userID string) {
	r.post(disconnectMsg{userID: userID})
}

// Reattach re-binds a fresh session to a seat held by the same identity.
// Returns false if the user holds no seat here.
func (r *Room) Reattach(sess client) bool {
	reply := make(chan bool, 1)
	if !r.post(reattachMsg{sess: sess, reply: reply}) {
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-r.done:
		return false
	}
}

// Summary returns a point-in-time view for room listings.
func (r *Room) Summary() protocol.RoomSummary {
	reply := make(chan protocol.RoomSummary, 1)
	if !r.post(summaryMsg{reply: reply}) {
		return protocol.RoomSummary{ID: r.id, Name: r.name}
	}
	select {
	case s := <-reply:
		return s
	case <-r.done:
		return protocol.RoomSummary{ID: r.id, Name: r.name}
	}
}

// Close tears the room down, notifying seated players.
func (r *Room) Close(reason string) {
	r.post(closeMsg{reason: reason})
}

func (r *Room) run() {
	for {
		select {
		case <-r.done:
			return
		case msg := <-r.inbox:
			r.handle(msg)
		}
	}
}

func (r *Room) handle(msg roomMsg) {
	switch m := msg.(type) {
	case joinMsg:
		m.reply <- r.handleJoin(m.sess)
	case leaveMsg:
		m.reply <- r.handleLeave(m.userID)
	case readyMsg:
		m.reply <- r.handleReady(m.userID, m.ready)
	case disconnectMsg:
		r.handleDisconnect(m.userID)
	case reattachMsg:
		m.reply <- r.handleReattach(m.sess)
	case summaryMsg:
		m.reply <- r.summaryLocked()
	case closeMsg:
		r.closeRoom(m.reason)
	case timerMsg:
		r.handleTimer(m)
	case graceExpiredMsg:
		r.handleGraceExpired(m.userID)
	}
}

// --- joins and leaves ---

func (r *Room) handleJoin(sess client) error {
	if r.findPlayer(sess.UserID()) != nil {
		return ErrAlreadyInRoom
	}

	// Mid-round the roster is frozen: the join is queued and applied when
	// the room enters Finished.
	if r.phase == PhaseCountdown || r.phase == PhaseRacing {
		if len(r.players)+len(r.pendingJoins) >= r.capacity {
			return ErrRoomFull
		}
		r.pendingJoins = append(r.pendingJoins, sess)
		r.sendSnapshot(sess)
		return nil
	}

	if len(r.players) >= r.capacity {
		return ErrRoomFull
	}

	p := r.seatPlayer(sess)
	r.logger.Info("player joined", "user", p.userID, "lane", p.lane, "players", len(r.players))

	r.broadcast(protocol.TypePlayerJoined, protocol.PlayerJoined{RoomID: r.id, Player: p.state()})
	r.sendSnapshot(sess)
	if r.phase == PhaseWaiting && len(r.players) < r.rules.MinPlayers {
		r.broadcast(protocol.TypeWaitingForPlayers, protocol.WaitingForPlayers{
			RoomID:      r.id,
			MinPlayers:  r.rules.MinPlayers,
			PlayerCount: len(r.players),
		})
	}
	r.hooks.roomUpdated(r.summaryLocked())
	return nil
}

// seatPlayer appends the session on the lowest unused lane.
func (r *Room) seatPlayer(sess client) *player {
	p := &player{
		userID:    sess.UserID(),
		username:  sess.Username(),
		lane:      r.lowestFreeLane(),
		connected: true,
		sess:      sess,
	}
	r.players = append(r.players, p)
	return p
}

func (r *Room) lowestFreeLane() int {
	for lane := 1; lane <= r.capacity; lane++ {
		taken := false
		for _, p := range r.players {
			if p.lane == lane {
				taken = true
				break
			}
		}
		if !taken {
			return lane
		}
	}
	// Callers check capacity first; reaching here means the roster already
	// overflowed.
	r.fatal("no free lane below capacity")
	return 0
}

func (r *Room) handleLeave(userID string) error {
	p := r.findPlayer(userID)
	if p == nil {
		// A queued joiner may leave before being seated.
		for i, sess := range r.pendingJoins {
			if sess.UserID() == userID {
				r.pendingJoins = append(r.pendingJoins[:i], r.pendingJoins[i+1:]...)
				r.hooks.playerDetached(r.id, userID)
				return nil
			}
		}
		return ErrNotInRoom
	}

	if r.phase == PhaseRacing {
		r.pendingLeaves = append(r.pendingLeaves, userID)
		return nil
	}

	r.removePlayer(p, true)

	switch r.phase {
	case PhaseBetting:
		r.maybeStartCountdown()
	case PhaseCountdown:
		// The round has not been snapshotted yet; if the leave drops the
		// field below the minimum the cycle is abandoned and everyone is
		// refunded.
		if r.wageredCount() < r.rules.MinPlayers {
			r.abortToWaiting("countdown abandoned, not enough players")
		}
	}

	r.destroyIfEmpty()
	return nil
}

// removePlayer unseats p, refunding any committed wager. The lane is left
// vacant; it is only reused by a future joiner taking the lowest free lane.
func (r *Room) removePlayer(p *player, broadcastLeft bool) {
	r.stopGraceTimer(p)

	if p.wagered {
		r.pot -= p.wager
		r.settler.Refund(r.id, p.userID, p.wager)
		p.wagered = false
		p.wager = 0
	}

	for i, other := range r.players {
		if other == p {
			r.players = append(r.players[:i], r.players[i+1:]...)
			break
		}
	}

	r.logger.Info("player left", "user", p.userID, "lane", p.lane, "players", len(r.players))

	if broadcastLeft {
		r.broadcast(protocol.TypePlayerLeft, protocol.PlayerLeft{
			RoomID:   r.id,
			UserID:   p.userID,
			Username: p.username,
			Lane:     p.lane,
		})
	}
	r.hooks.playerDetached(r.id, p.userID)
	r.hooks.roomUpdated(r.summaryLocked())
}

func (r *Room) destroyIfEmpty() {
	if len(r.players) == 0 && len(r.pendingJoins) == 0 && !r.persistent {
		r.closeRoom("empty")
	}
}

// --- wagers ---

func (r *Room) handleReady(userID string, ready bool) error {
	p := r.findPlayer(userID)
	if p == nil {
		return ErrNotInRoom
	}

	if !ready {
		// Wagers are commitments; there is no un-ready once the stake has
		// been reserved. Before that it is a harmless no-op.
		if p.wagered {
			return ErrAlreadyWagered
		}
		return nil
	}

	switch r.phase {
	case PhaseWaiting, PhaseBetting:
	default:
		return ErrInvalidPhase
	}

	if p.wagered {
		return ErrAlreadyWagered
	}

	if err := r.wallet.CheckAndReserve(context.Background(), userID, r.betAmount); err != nil {
		if errors.Is(err, wallet.ErrInsufficientFunds) {
			return ErrInsufficientBalance
		}
		r.logger.Error("wallet reserve failed", "user", userID, "error", err)
		return &DomainError{Code: "WALLET_UNAVAILABLE", Message: "wallet service unavailable, try again"}
	}

	p.wagered = true
	p.wager = r.betAmount
	r.pot += r.betAmount
	r.verifyPot()

	r.sendBalance(p, "wager")

	if r.phase == PhaseWaiting {
		r.toBetting(p)
	} else {
		r.hooks.roomUpdated(r.summaryLocked())
		r.maybeStartCountdown()
	}
	return nil
}

func (r *Room) wageredCount() int {
	n := 0
	for _, p := range r.players {
		if p.wagered {
			n++
		}
	}
	return n
}

// maybeStartCountdown fires when every seated player has wagered and the
// field meets the minimum.
func (r *Room) maybeStartCountdown() {
	if r.phase != PhaseBetting {
		return
	}
	if len(r.players) >= r.rules.MinPlayers && r.wageredCount() == len(r.players) {
		r.toCountdown()
	}
}

// --- phase transitions ---

func (r *Room) toBetting(triggeredBy *player) {
	r.phase = PhaseBetting
	gen := r.nextTimerGen()

	r.broadcast(protocol.TypeBettingStarted, protocol.BettingStarted{
		RoomID:        r.id,
		BetAmount:     r.betAmount,
		TimeRemaining: int(r.rules.BettingWindow.Seconds()),
		TriggeredBy:   triggeredBy.username,
	})
	r.hooks.roomUpdated(r.summaryLocked())

	r.clock.AfterFunc(r.rules.BettingWindow, func() {
		r.post(timerMsg{kind: timerBettingWindow, gen: gen})
	})

	r.logger.Info("betting started", "triggered_by", triggeredBy.userID, "bet", r.betAmount)
}

func (r *Room) toCountdown() {
	r.phase = PhaseCountdown
	gen := r.nextTimerGen()
	r.countdown = int(r.rules.Countdown.Seconds())

	r.broadcast(protocol.TypeCountdownTick, protocol.CountdownTick{RoomID: r.id, TimeRemaining: r.countdown})
	r.hooks.roomUpdated(r.summaryLocked())
	r.logger.Info("countdown started", "seconds", r.countdown, "wagered", r.wageredCount())

	r.clock.AfterFunc(time.Second, func() {
		r.post(timerMsg{kind: timerCountdownTick, gen: gen})
	})
}

func (r *Room) startRace() {
	lanes := make([]race.Lane, 0, len(r.players))
	for _, p := range r.players {
		if p.wagered {
			lanes = append(lanes, race.Lane{Lane: p.lane, UserID: p.userID})
		}
	}
	if len(lanes) < r.rules.MinPlayers {
		r.fatal("race started with too few wagered players")
		return
	}

	r.round = race.NewRound(roomid.New(), lanes, r.pot, race.Config{
		TrackLength: r.rules.TrackLength,
		MaxAdvance:  r.rules.MaxAdvance,
	})
	r.phase = PhaseRacing
	gen := r.nextTimerGen()

	racers := make([]protocol.PlayerState, 0, len(lanes))
	for _, p := range r.players {
		if p.wagered {
			p.position = 0
			racers = append(racers, p.state())
		}
	}

	r.broadcast(protocol.TypeRaceStarted, protocol.RaceStarted{
		RoomID:   r.id,
		RoundID:  r.round.ID,
		Players:  racers,
		TotalPot: r.pot,
	})
	r.hooks.roomUpdated(r.summaryLocked())
	r.logger.Info("race started", "round", r.round.ID, "lanes", len(lanes), "pot", r.pot)

	r.clock.AfterFunc(r.rules.TickInterval, func() {
		r.post(timerMsg{kind: timerRaceTick, gen: gen})
	})
}

func (r *Room) handleTimer(m timerMsg) {
	if m.gen != r.timerGen {
		// Stale callback from a phase already exited.
		return
	}

	switch m.kind {
	case timerBettingWindow:
		r.bettingWindowElapsed()
	case timerCountdownTick:
		r.countdownTick(m.gen)
	case timerRaceTick:
		r.raceTick(m.gen)
	case timerCooldown:
		r.cooldownElapsed()
	}
}

func (r *Room) bettingWindowElapsed() {
	if r.phase != PhaseBetting {
		return
	}
	if r.wageredCount() >= r.rules.MinPlayers {
		r.toCountdown()
		return
	}
	r.abortToWaiting("betting window elapsed, not enough wagers")
}

// abortToWaiting refunds every committed wager (net result zero) and returns
// the room to Waiting.
func (r *Room) abortToWaiting(reason string) {
	r.logger.Info("round aborted", "reason", reason, "wagered", r.wageredCount())

	for _, p := range r.players {
		if !p.wagered {
			continue
		}
		r.pot -= p.wager
		r.settler.Refund(r.id, p.userID, p.wager)
		p.wagered = false
		p.wager = 0
	}
	if r.pot != 0 {
		r.fatal("pot not empty after refunds")
		return
	}

	r.phase = PhaseWaiting
	r.nextTimerGen()
	r.broadcast(protocol.TypeWaitingForPlayers, protocol.WaitingForPlayers{
		RoomID:      r.id,
		MinPlayers:  r.rules.MinPlayers,
		PlayerCount: len(r.players),
	})
	r.hooks.roomUpdated(r.summaryLocked())
}

func (r *Room) countdownTick(gen uint64) {
	if r.phase != PhaseCountdown {
		return
	}

	r.countdown--
	if r.countdown > 0 {
		r.broadcast(protocol.TypeCountdownTick, protocol.CountdownTick{RoomID: r.id, TimeRemaining: r.countdown})
		r.clock.AfterFunc(time.Second, func() {
			r.post(timerMsg{kind: timerCountdownTick, gen: gen})
		})
		return
	}

	r.startRace()
}

func (r *Room) raceTick(gen uint64) {
	if r.phase != PhaseRacing || r.round == nil {
		return
	}

	result := r.round.Tick(r.rng)

	positions := make([]protocol.LanePosition, 0, len(r.round.Lanes))
	for _, lane := range r.round.Positions() {
		positions = append(positions, protocol.LanePosition{
			UserID:   lane.UserID,
			Lane:     lane.Lane,
			Position: lane.Position,
		})
		if p := r.findPlayer(lane.UserID); p != nil {
			p.position = lane.Position
		}
	}

	r.broadcast(protocol.TypeRaceUpdate, protocol.RaceUpdate{
		RoomID:    r.id,
		RoundID:   r.round.ID,
		Positions: positions,
		LeaderID:  result.LeaderID,
	})

	if result.Done {
		r.finishRace()
		return
	}

	r.clock.AfterFunc(r.rules.TickInterval, func() {
		r.post(timerMsg{kind: timerRaceTick, gen: gen})
	})
}

func (r *Room) finishRace() {
	wagers := make(map[string]int64, len(r.players))
	usernames := make(map[string]string, len(r.players))
	for _, p := range r.players {
		if p.wagered {
			wagers[p.userID] = p.wager
			usernames[p.userID] = p.username
		}
	}

	results := ComputeResults(r.round, wagers, usernames)
	winner := results[0]

	r.phase = PhaseFinished
	gen := r.nextTimerGen()

	r.settler.SettleRace(r.round.ID, winner.UserID, winner.Username, r.round.Pot, wagers[winner.UserID])
	r.hooks.raceCompleted(r.id)
	r.logger.Info("race finished", "round", r.round.ID, "winner", winner.UserID, "pot", r.round.Pot)

	// The pot is settled the moment the race ends. Wager state clears now so
	// a leave during Finished cannot be refunded out of an already-paid pot.
	r.pot = 0
	for _, p := range r.players {
		p.wagered = false
		p.wager = 0
	}

	cooldown := int(r.rules.Cooldown.Seconds())
	for _, p := range r.players {
		finished := protocol.RaceFinished{
			RoomID:            r.id,
			RoundID:           r.round.ID,
			Winner:            winner,
			FinalPositions:    results,
			TimeUntilNextRace: cooldown,
		}
		for i := range results {
			if results[i].UserID == p.userID {
				res := results[i]
				finished.YourResult = &res
				break
			}
		}
		r.sendTo(p, protocol.TypeRaceFinished, finished)
	}

	// Roster changes queued mid-race land the moment the round is over, so
	// a joiner queued during the race holds their seat ahead of anyone
	// joining during the cooldown.
	for _, userID := range r.pendingLeaves {
		if p := r.findPlayer(userID); p != nil {
			r.removePlayer(p, true)
		}
	}
	r.pendingLeaves = nil

	joins := r.pendingJoins
	r.pendingJoins = nil
	for _, sess := range joins {
		if len(r.players) >= r.capacity {
			r.sendError(sess, ErrRoomFull)
			r.hooks.playerDetached(r.id, sess.UserID())
			continue
		}
		p := r.seatPlayer(sess)
		r.broadcast(protocol.TypePlayerJoined, protocol.PlayerJoined{RoomID: r.id, Player: p.state()})
	}

	r.hooks.roomUpdated(r.summaryLocked())

	r.clock.AfterFunc(r.rules.Cooldown, func() {
		r.post(timerMsg{kind: timerCooldown, gen: gen})
	})
}

func (r *Room) cooldownElapsed() {
	if r.phase != PhaseFinished {
		return
	}

	r.round = nil
	for _, p := range r.players {
		p.position = 0
	}

	if len(r.players) == 0 && !r.persistent {
		r.closeRoom("empty")
		return
	}

	r.phase = PhaseWaiting
	r.nextTimerGen()

	for _, p := range r.players {
		r.sendSnapshotTo(p)
	}
	r.broadcast(protocol.TypeWaitingForPlayers, protocol.WaitingForPlayers{
		RoomID:      r.id,
		MinPlayers:  r.rules.MinPlayers,
		PlayerCount: len(r.players),
	})
	r.hooks.roomUpdated(r.summaryLocked())
}

// --- disconnects and reconnection ---

func (r *Room) handleDisconnect(userID string) {
	p := r.findPlayer(userID)
	if p == nil || !p.connected {
		return
	}

	p.connected = false
	p.sess = nil
	r.logger.Info("player disconnected, grace period started", "user", userID, "grace", r.rules.GracePeriod)

	r.stopGraceTimer(p)
	p.graceTimer = r.clock.AfterFunc(r.rules.GracePeriod, func() {
		r.post(graceExpiredMsg{userID: userID})
	})

	r.hooks.roomUpdated(r.summaryLocked())
}

func (r *Room) handleGraceExpired(userID string) {
	p := r.findPlayer(userID)
	if p == nil || p.connected {
		// Reattached (or already gone) before the timer message drained.
		return
	}

	r.logger.Info("grace period expired, removing player", "user", userID)

	if r.phase == PhaseRacing {
		r.pendingLeaves = append(r.pendingLeaves, userID)
		return
	}

	r.removePlayer(p, true)
	switch r.phase {
	case PhaseBetting:
		r.maybeStartCountdown()
	case PhaseCountdown:
		if r.wageredCount() < r.rules.MinPlayers {
			r.abortToWaiting("countdown abandoned, not enough players")
		}
	}
	r.destroyIfEmpty()
}

func (r *Room) handleReattach(sess client) bool {
	p := r.findPlayer(sess.UserID())
	if p == nil {
		return false
	}

	// A seat whose grace period already ran out mid-race is forfeited; the
	// queued removal lands when the round ends and cannot be reclaimed.
	for _, userID := range r.pendingLeaves {
		if userID == p.userID {
			return false
		}
	}

	r.stopGraceTimer(p)
	p.sess = sess
	p.connected = true

	r.logger.Info("player reattached", "user", p.userID, "lane", p.lane)

	// The rejoining client sees only a fresh snapshot; the room never
	// broadcast a departure.
	r.sendSnapshotTo(p)
	r.hooks.roomUpdated(r.summaryLocked())
	return true
}

func (r *Room) stopGraceTimer(p *player) {
	if p.graceTimer != nil {
		p.graceTimer.Stop()
		p.graceTimer = nil
	}
}

// --- teardown and invariants ---

func (r *Room) closeRoom(reason string) {
	select {
	case <-r.done:
		return
	default:
	}

	r.logger.Info("room closing", "reason", reason, "players", len(r.players))

	r.broadcast(protocol.TypeRoomDeleted, protocol.RoomDeleted{RoomID: r.id, Reason: reason})
	for _, p := range r.players {
		r.stopGraceTimer(p)
		r.hooks.playerDetached(r.id, p.userID)
	}
	for _, sess := range r.pendingJoins {
		r.hooks.playerDetached(r.id, sess.UserID())
	}
	r.players = nil
	r.pendingJoins = nil
	r.nextTimerGen()

	r.hooks.roomClosed(r, reason)
	close(r.done)
}

// fatal handles an internal invariant violation: the room is torn down and
// players are told the room is gone. No partial state is broadcast.
func (r *Room) fatal(msg string) {
	r.logger.Error("room invariant violated", "detail", msg, "phase", r.phase)
	r.closeRoom("internal error")
}

func (r *Room) verifyPot() {
	var sum int64
	for _, p := range r.players {
		if p.wagered {
			sum += p.wager
		}
	}
	if sum != r.pot {
		r.fatal("pot does not match committed wagers")
	}
}

// --- helpers ---

func (r *Room) nextTimerGen() uint64 {
	r.timerGen++
	return r.timerGen
}

func (r *Room) findPlayer(userID string) *player {
	for _, p := range r.players {
		if p.userID == userID {
			return p
		}
	}
	return nil
}

func (r *Room) summaryLocked() protocol.RoomSummary {
	return protocol.RoomSummary{
		ID:          r.id,
		Name:        r.name,
		PlayerCount: len(r.players),
		ReadyCount:  r.wageredCount(),
		BetAmount:   r.betAmount,
		Capacity:    r.capacity,
		Phase:       r.phase.String(),
	}
}

func (r *Room) snapshot(forUserID string) protocol.RaceState {
	players := make([]protocol.PlayerState, len(r.players))
	yourLane := 0
	for i, p := range r.players {
		players[i] = p.state()
		if p.userID == forUserID {
			yourLane = p.lane
		}
	}

	timeRemaining := 0
	if r.phase == PhaseCountdown {
		timeRemaining = r.countdown
	}

	return protocol.RaceState{
		RoomID:        r.id,
		RoomName:      r.name,
		Phase:         r.phase.String(),
		BetAmount:     r.betAmount,
		Capacity:      r.capacity,
		Pot:           r.pot,
		TrackLength:   r.rules.TrackLength,
		Players:       players,
		TimeRemaining: timeRemaining,
		YourLane:      yourLane,
	}
}

func (r *Room) broadcast(mt protocol.MessageType, payload any) {
	msg, err := protocol.NewMessage(mt, payload)
	if err != nil {
		r.logger.Error("failed to build broadcast", "type", mt, "error", err)
		return
	}
	for _, p := range r.players {
		if p.sess == nil {
			continue
		}
		if err := p.sess.Send(msg); err != nil {
			r.logger.Debug("broadcast send failed", "user", p.userID, "type", mt, "error", err)
		}
	}
}

func (r *Room) sendTo(p *player, mt protocol.MessageType, payload any) {
	if p.sess == nil {
		return
	}
	msg, err := protocol.NewMessage(mt, payload)
	if err != nil {
		r.logger.Error("failed to build message", "type", mt, "error", err)
		return
	}
	if err := p.sess.Send(msg); err != nil {
		r.logger.Debug("send failed", "user", p.userID, "type", mt, "error", err)
	}
}

func (r *Room) sendSnapshot(sess client) {
	msg, err := protocol.NewMessage(protocol.TypeRaceState, r.snapshot(sess.UserID()))
	if err != nil {
		return
	}
	_ = sess.Send(msg)
}

func (r *Room) sendSnapshotTo(p *player) {
	if p.sess != nil {
		r.sendSnapshot(p.sess)
	}
}

func (r *Room) sendError(sess client, derr *DomainError) {
	msg, err := protocol.NewMessage(protocol.TypeError, protocol.Error{Code: derr.Code, Message: derr.Message})
	if err != nil {
		return
	}
	_ = sess.Send(msg)
}

func (r *Room) sendBalance(p *player, reason string) {
	balance, err := r.wallet.Balance(context.Background(), p.userID)
	if err != nil {
		r.logger.Debug("balance lookup failed", "user", p.userID, "error", err)
		return
	}
	r.sendTo(p, protocol.TypeBalanceUpdate, protocol.BalanceUpdate{Balance: balance, Reason: reason})
}
