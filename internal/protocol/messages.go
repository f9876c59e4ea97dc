// Package protocol defines the JSON wire frames exchanged between the race
// server and its clients. Every frame is an envelope carrying a type tag, a
// raw payload and a server-assigned timestamp.
package protocol

import (
	"encoding/json"
	"time"
)

// MessageType identifies the kind of frame.
type MessageType string

const (
	// Client -> Server
	TypeGetRooms   MessageType = "GET_ROOMS"
	TypeCreateRoom MessageType = "CREATE_ROOM"
	TypeJoinRoom   MessageType = "JOIN_ROOM"
	TypeLeaveRoom  MessageType = "LEAVE_ROOM"
	TypeSetReady   MessageType = "SET_READY"
	TypePing       MessageType = "PING"

	// Server -> Client
	TypeRoomList          MessageType = "ROOM_LIST"
	TypeRoomCreated       MessageType = "ROOM_CREATED"
	TypeRoomUpdated       MessageType = "ROOM_UPDATED"
	TypeRoomDeleted       MessageType = "ROOM_DELETED"
	TypeRaceState         MessageType = "RACE_STATE"
	TypePlayerJoined      MessageType = "PLAYER_JOINED"
	TypePlayerLeft        MessageType = "PLAYER_LEFT"
	TypeBettingStarted    MessageType = "BETTING_STARTED"
	TypeCountdownTick     MessageType = "COUNTDOWN_TICK"
	TypeRaceStarted       MessageType = "RACE_STARTED"
	TypeRaceUpdate        MessageType = "RACE_UPDATE"
	TypeRaceFinished      MessageType = "RACE_FINISHED"
	TypeWaitingForPlayers MessageType = "WAITING_FOR_PLAYERS"
	TypeBalanceUpdate     MessageType = "BALANCE_UPDATE"
	TypeError             MessageType = "ERROR"
	TypePong              MessageType = "PONG"
)

func (t MessageType) String() string { return string(t) }

// Message is the wire envelope. Payload is kept raw so the envelope can be
// decoded before the payload type is known.
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage builds an envelope around payload with the current timestamp.
func NewMessage(messageType MessageType, payload any) (*Message, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}

	return &Message{
		Type:      messageType,
		Payload:   raw,
		Timestamp: time.Now(),
	}, nil
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// Client -> Server payloads

type CreateRoom struct {
	BetAmount    int64  `json:"betAmount"`
	IsPersistent bool   `json:"isPersistent,omitempty"`
	RoomName     string `json:"roomName,omitempty"`
}

type JoinRoom struct {
	RoomID string `json:"roomId"`
}

type SetReady struct {
	IsReady bool `json:"isReady"`
}

// Server -> Client payloads

type RoomSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PlayerCount int    `json:"playerCount"`
	ReadyCount  int    `json:"readyCount"`
	BetAmount   int64  `json:"betAmount"`
	Capacity    int    `json:"capacity"`
	Phase       string `json:"phase"`
}

type RoomList struct {
	Rooms       []RoomSummary `json:"rooms"`
	YourBalance int64         `json:"yourBalance"`
}

type RoomCreated struct {
	Room RoomSummary `json:"room"`
}

type RoomUpdated struct {
	Room RoomSummary `json:"room"`
}

type RoomDeleted struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason,omitempty"`
}

// PlayerState is the per-player slice of a room snapshot.
type PlayerState struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	Lane        int    `json:"lane"`
	HasWagered  bool   `json:"hasWagered"`
	Wager       int64  `json:"wager,omitempty"`
	Position    int    `json:"position"`
	IsConnected bool   `json:"isConnected"`
}

// RaceState is the full room snapshot sent on join and on reconnect.
type RaceState struct {
	RoomID        string        `json:"roomId"`
	RoomName      string        `json:"roomName"`
	Phase         string        `json:"phase"`
	BetAmount     int64         `json:"betAmount"`
	Capacity      int           `json:"capacity"`
	Pot           int64         `json:"pot"`
	TrackLength   int           `json:"trackLength"`
	Players       []PlayerState `json:"players"`
	TimeRemaining int           `json:"timeRemaining,omitempty"`
	YourLane      int           `json:"yourLane,omitempty"`
}

type PlayerJoined struct {
	RoomID string      `json:"roomId"`
	Player PlayerState `json:"player"`
}

type PlayerLeft struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Lane     int    `json:"lane"`
}

type BettingStarted struct {
	RoomID        string `json:"roomId"`
	BetAmount     int64  `json:"betAmount"`
	TimeRemaining int    `json:"timeRemaining"`
	TriggeredBy   string `json:"triggeredBy"`
}

type CountdownTick struct {
	RoomID        string `json:"roomId"`
	TimeRemaining int    `json:"timeRemaining"`
}

type RaceStarted struct {
	RoomID   string        `json:"roomId"`
	RoundID  string        `json:"roundId"`
	Players  []PlayerState `json:"players"`
	TotalPot int64         `json:"totalPot"`
}

type LanePosition struct {
	UserID   string `json:"userId"`
	Lane     int    `json:"lane"`
	Position int    `json:"position"`
}

type RaceUpdate struct {
	RoomID    string         `json:"roomId"`
	RoundID   string         `json:"roundId"`
	Positions []LanePosition `json:"positions"`
	LeaderID  string         `json:"leaderId"`
}

// PlayerResult is a participant's final placing and net outcome for a round.
type PlayerResult struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Lane      int    `json:"lane"`
	Rank      int    `json:"rank"`
	Position  int    `json:"position"`
	NetResult int64  `json:"netResult"`
}

type RaceFinished struct {
	RoomID            string         `json:"roomId"`
	RoundID           string         `json:"roundId"`
	Winner            PlayerResult   `json:"winner"`
	FinalPositions    []PlayerResult `json:"finalPositions"`
	YourResult        *PlayerResult  `json:"yourResult,omitempty"`
	TimeUntilNextRace int            `json:"timeUntilNextRace"`
}

type WaitingForPlayers struct {
	RoomID      string `json:"roomId"`
	MinPlayers  int    `json:"minPlayers"`
	PlayerCount int    `json:"playerCount"`
}

type BalanceUpdate struct {
	Balance int64  `json:"balance"`
	Reason  string `json:"reason"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
