package server

import (
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"

	"github.com/Iryonis/canardsino-sub001/internal/randutil"
	"github.com/Iryonis/canardsino-sub001/internal/wallet"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	mock := quartz.NewMock(t)
	w := wallet.NewMemoryWallet(1000)
	logger := testLogger()
	settler := NewSettler(SettlerOptions{Wallet: w, Clock: mock, Logger: logger})

	reg := NewRegistry(testRules(), mock, w, settler, nil, randutil.New(42), logger)
	t.Cleanup(func() { reg.CloseAll("test over") })
	return reg
}

func TestCreateRoomSeatsCreator(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	alice := newFakeSession("alice")

	room, err := reg.CreateRoom(alice, 100, false, "")
	if err != nil {
		t.Fatal(err)
	}
	if got := room.Summary().PlayerCount; got != 1 {
		t.Errorf("players = %d, want the creator seated", got)
	}
	if room.Name() != "name-alice's race" {
		t.Errorf("default name = %q", room.Name())
	}
	if reg.RoomFor("alice") != room {
		t.Error("creator not mapped to the room")
	}

	rooms := reg.ListRooms()
	if len(rooms) != 1 || rooms[0].ID != room.ID() {
		t.Errorf("listing = %+v", rooms)
	}
}

func TestCreateRoomRejectsLowWager(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)

	_, err := reg.CreateRoom(newFakeSession("alice"), 5, false, "")
	if !errors.Is(err, ErrInvalidWager) {
		t.Fatalf("got %v, want ErrInvalidWager", err)
	}
	if reg.RoomCount() != 0 {
		t.Error("room created despite invalid wager")
	}
}

func TestCreateRoomWhileSeated(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	alice := newFakeSession("alice")

	if _, err := reg.CreateRoom(alice, 100, false, "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.CreateRoom(alice, 100, false, "second"); !errors.Is(err, ErrAlreadyInRoom) {
		t.Fatalf("got %v, want ErrAlreadyInRoom", err)
	}
}

func TestJoinRoomRouting(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	alice, bob := newFakeSession("alice"), newFakeSession("bob")

	room, err := reg.CreateRoom(alice, 100, false, "duck pond")
	if err != nil {
		t.Fatal(err)
	}

	if err := reg.JoinRoom(bob, "missing-room"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("got %v, want ErrRoomNotFound", err)
	}
	if err := reg.JoinRoom(bob, room.ID()); err != nil {
		t.Fatal(err)
	}
	if err := reg.JoinRoom(bob, room.ID()); !errors.Is(err, ErrAlreadyInRoom) {
		t.Fatalf("second join: %v, want ErrAlreadyInRoom", err)
	}
	if got := room.Summary().PlayerCount; got != 2 {
		t.Errorf("players = %d, want 2", got)
	}
}

func TestLeaveRoomClearsMapping(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	alice, bob := newFakeSession("alice"), newFakeSession("bob")

	room, err := reg.CreateRoom(alice, 100, false, "duck pond")
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.JoinRoom(bob, room.ID()); err != nil {
		t.Fatal(err)
	}

	if err := reg.LeaveRoom(bob); err != nil {
		t.Fatal(err)
	}
	if reg.RoomFor("bob") != nil {
		t.Error("bob still mapped after leaving")
	}
	if err := reg.LeaveRoom(bob); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("second leave: %v, want ErrNotInRoom", err)
	}

	// Last player out destroys an ephemeral room.
	if err := reg.LeaveRoom(alice); err != nil {
		t.Fatal(err)
	}
	waitForCondition(t, func() bool { return reg.RoomCount() == 0 }, 2*time.Second, "empty room not removed")
	if len(reg.ListRooms()) != 0 {
		t.Error("destroyed room still listed")
	}
}

func TestDisconnectAndReattachRouting(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	alice := newFakeSession("alice")

	if _, err := reg.CreateRoom(alice, 100, false, ""); err != nil {
		t.Fatal(err)
	}

	reg.Disconnected("alice")

	// The seat survives the disconnect; a fresh session reclaims it.
	if !reg.Reattach(newFakeSession("alice")) {
		t.Error("reattach refused for a held seat")
	}
	if reg.Reattach(newFakeSession("stranger")) {
		t.Error("reattach accepted with no seat held")
	}
}

func TestCreatePersistentRooms(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)

	reg.CreatePersistentRooms([]RoomConfig{
		{Name: "bronze", BetAmount: 100, Capacity: 5},
		{Name: "silver", BetAmount: 500, Capacity: 3},
	})

	rooms := reg.ListRooms()
	if len(rooms) != 2 {
		t.Fatalf("rooms = %d, want 2", len(rooms))
	}
	// Creation order is stable in listings.
	if rooms[0].Name != "bronze" || rooms[1].Name != "silver" {
		t.Errorf("order = %s, %s", rooms[0].Name, rooms[1].Name)
	}
	if rooms[1].BetAmount != 500 || rooms[1].Capacity != 3 {
		t.Errorf("silver = %+v", rooms[1])
	}

	// Persistent rooms survive being empty.
	if reg.RoomCount() != 2 {
		t.Errorf("room count = %d", reg.RoomCount())
	}
}
