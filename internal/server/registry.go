package server

import (
	"fmt"
	"sync"

	rand "math/rand/v2"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/Iryonis/canardsino-sub001/internal/protocol"
	"github.com/Iryonis/canardsino-sub001/internal/randutil"
	"github.com/Iryonis/canardsino-sub001/internal/wallet"
)

// LobbyEvents is how the registry surfaces room lifecycle to sessions that
// are browsing the lobby. Implemented by the Server; nil disables fan-out.
type LobbyEvents interface {
	LobbyBroadcast(msg *protocol.Message)
	RaceCompleted()
}

// Registry is the process-wide directory of active rooms: it creates,
// lists and destroys rooms and routes a session's commands to the room the
// session occupies. Rooms are addressed only by identity; room state never
// crosses this boundary.
type Registry struct {
	rules   Rules
	clock   quartz.Clock
	wallet  wallet.Wallet
	settler *Settler
	events  LobbyEvents
	logger  *log.Logger

	rng   *rand.Rand
	rngMu sync.Mutex

	mu     sync.RWMutex
	rooms  map[string]*Room
	order  []string // creation order
	byUser map[string]*Room
}

// NewRegistry creates an empty registry. The rng seeds each room's private
// random source so a seeded server replays deterministically.
func NewRegistry(rules Rules, clock quartz.Clock, w wallet.Wallet, settler *Settler, events LobbyEvents, rng *rand.Rand, logger *log.Logger) *Registry {
	return &Registry{
		rules:   rules,
		clock:   clock,
		wallet:  w,
		settler: settler,
		events:  events,
		logger:  logger.WithPrefix("registry"),
		rng:     rng,
		rooms:   make(map[string]*Room),
		byUser:  make(map[string]*Room),
	}
}

// CreateRoom creates a room and seats the creator as its first player.
func (reg *Registry) CreateRoom(sess client, betAmount int64, persistent bool, name string) (*Room, error) {
	if betAmount < reg.rules.MinBet {
		return nil, ErrInvalidWager
	}

	reg.mu.Lock()
	if _, ok := reg.byUser[sess.UserID()]; ok {
		reg.mu.Unlock()
		return nil, ErrAlreadyInRoom
	}
	reg.mu.Unlock()

	if name == "" {
		name = fmt.Sprintf("%s's race", sess.Username())
	}

	room := reg.newRoom(sess.UserID(), name, betAmount, persistent, reg.rules.DefaultCapacity)

	reg.mu.Lock()
	reg.rooms[room.ID()] = room
	reg.order = append(reg.order, room.ID())
	reg.byUser[sess.UserID()] = room
	reg.mu.Unlock()

	if err := room.Join(sess); err != nil {
		// Seating the creator in a fresh room cannot be refused; treat a
		// refusal as the room being gone already.
		reg.mu.Lock()
		delete(reg.byUser, sess.UserID())
		reg.mu.Unlock()
		return nil, err
	}

	reg.logger.Info("room created", "room", room.ID(), "name", name, "bet", betAmount, "persistent", persistent)

	if msg, err := protocol.NewMessage(protocol.TypeRoomCreated, protocol.RoomCreated{Room: room.Summary()}); err == nil {
		reg.lobbyBroadcast(msg)
	}
	return room, nil
}

// CreatePersistentRooms instantiates the rooms declared in configuration.
func (reg *Registry) CreatePersistentRooms(configs []RoomConfig) {
	for _, cfg := range configs {
		room := reg.newRoom("", cfg.Name, cfg.BetAmount, true, cfg.Capacity)
		reg.mu.Lock()
		reg.rooms[room.ID()] = room
		reg.order = append(reg.order, room.ID())
		reg.mu.Unlock()
		reg.logger.Info("persistent room created", "room", room.ID(), "name", cfg.Name, "bet", cfg.BetAmount)
	}
}

func (reg *Registry) newRoom(creatorID, name string, betAmount int64, persistent bool, capacity int) *Room {
	reg.rngMu.Lock()
	seed := reg.rng.Int64()
	reg.rngMu.Unlock()

	return NewRoom(RoomOptions{
		Name:       name,
		CreatorID:  creatorID,
		BetAmount:  betAmount,
		Persistent: persistent,
		Capacity:   capacity,
		Rules:      reg.rules,
		RNG:        randutil.New(seed),
		Clock:      reg.clock,
		Wallet:     reg.wallet,
		Settler:    reg.settler,
		Hooks:      reg,
		Logger:     reg.logger,
	})
}

// JoinRoom seats the session in the identified room.
func (reg *Registry) JoinRoom(sess client, roomID string) error {
	reg.mu.Lock()
	if _, ok := reg.byUser[sess.UserID()]; ok {
		reg.mu.Unlock()
		return ErrAlreadyInRoom
	}
	room, ok := reg.rooms[roomID]
	if !ok {
		reg.mu.Unlock()
		return ErrRoomNotFound
	}
	// Claim the mapping before joining so a second concurrent join from the
	// same user is refused instead of double-seated.
	reg.byUser[sess.UserID()] = room
	reg.mu.Unlock()

	if err := room.Join(sess); err != nil {
		reg.mu.Lock()
		if reg.byUser[sess.UserID()] == room {
			delete(reg.byUser, sess.UserID())
		}
		reg.mu.Unlock()
		return err
	}
	return nil
}

// LeaveRoom routes a leave to whichever room the session occupies.
func (reg *Registry) LeaveRoom(sess client) error {
	room := reg.RoomFor(sess.UserID())
	if room == nil {
		return ErrNotInRoom
	}
	return room.Leave(sess.UserID())
}

// Disconnected tells the occupied room, if any, that the user's socket is
// gone. The seat survives for the grace period.
func (reg *Registry) Disconnected(userID string) {
	if room := reg.RoomFor(userID); room != nil {
		room.Disconnected(userID)
	}
}

// Reattach re-binds a fresh session to a seat the identity already holds.
func (reg *Registry) Reattach(sess client) bool {
	room := reg.RoomFor(sess.UserID())
	if room == nil {
		return false
	}
	return room.Reattach(sess)
}

// RoomFor returns the room the user occupies, or nil.
func (reg *Registry) RoomFor(userID string) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.byUser[userID]
}

// ListRooms snapshots all rooms in creation order.
func (reg *Registry) ListRooms() []protocol.RoomSummary {
	reg.mu.RLock()
	rooms := make([]*Room, 0, len(reg.order))
	for _, id := range reg.order {
		if room, ok := reg.rooms[id]; ok {
			rooms = append(rooms, room)
		}
	}
	reg.mu.RUnlock()

	summaries := make([]protocol.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		summaries = append(summaries, room.Summary())
	}
	return summaries
}

// RoomCount returns the number of active rooms.
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// CloseAll tears down every room, for shutdown.
func (reg *Registry) CloseAll(reason string) {
	reg.mu.RLock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.mu.RUnlock()

	for _, room := range rooms {
		room.Close(reason)
	}
}

// --- roomHooks, called from room goroutines ---

func (reg *Registry) playerDetached(roomID, userID string) {
	reg.mu.Lock()
	if room, ok := reg.byUser[userID]; ok && room.ID() == roomID {
		delete(reg.byUser, userID)
	}
	reg.mu.Unlock()
}

func (reg *Registry) roomClosed(room *Room, reason string) {
	reg.mu.Lock()
	delete(reg.rooms, room.ID())
	for i, id := range reg.order {
		if id == room.ID() {
			reg.order = append(reg.order[:i], reg.order[i+1:]...)
			break
		}
	}
	reg.mu.Unlock()

	reg.logger.Info("room removed", "room", room.ID(), "reason", reason)

	if msg, err := protocol.NewMessage(protocol.TypeRoomDeleted, protocol.RoomDeleted{RoomID: room.ID(), Reason: reason}); err == nil {
		reg.lobbyBroadcast(msg)
	}
}

func (reg *Registry) roomUpdated(summary protocol.RoomSummary) {
	if msg, err := protocol.NewMessage(protocol.TypeRoomUpdated, protocol.RoomUpdated{Room: summary}); err == nil {
		reg.lobbyBroadcast(msg)
	}
}

func (reg *Registry) raceCompleted(string) {
	if reg.events != nil {
		reg.events.RaceCompleted()
	}
}

func (reg *Registry) lobbyBroadcast(msg *protocol.Message) {
	if reg.events != nil {
		reg.events.LobbyBroadcast(msg)
	}
}
