package server

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Iryonis/canardsino-sub001/internal/auth"
	"github.com/Iryonis/canardsino-sub001/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

var ErrSessionClosed = websocket.ErrCloseSent

// Session is one authenticated WebSocket connection. It owns the read and
// write pumps and dispatches client frames to the registry; rooms push
// frames back through Send.
type Session struct {
	id       string
	identity auth.Identity
	conn     *websocket.Conn
	send     chan *protocol.Message
	server   *Server
	logger   *log.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, identity auth.Identity, srv *Server, logger *log.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Session{
		id:       id,
		identity: identity,
		conn:     conn,
		send:     make(chan *protocol.Message, 256),
		server:   srv,
		logger:   logger.WithPrefix("session").With("session", id, "user", identity.UserID),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// start launches the pumps; returns immediately.
func (s *Session) start() {
	go s.writePump()
	go s.readPump()
}

// close tears the socket down. Safe to call more than once.
func (s *Session) close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.send)
		err = s.conn.Close()
	})
	return err
}

func (s *Session) UserID() string   { return s.identity.UserID }
func (s *Session) Username() string { return s.identity.Username }

// Send queues a frame for delivery. A client that cannot drain its buffer
// is disconnected rather than allowed to stall a room goroutine.
func (s *Session) Send(msg *protocol.Message) error {
	defer func() {
		if r := recover(); r != nil {
			// Send channel closed under us during shutdown.
			s.logger.Debug("send on closed session", "recovered", r)
		}
	}()

	select {
	case s.send <- msg:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		s.logger.Warn("send buffer full, closing session")
		_ = s.close()
		return ErrSessionClosed
	}
}

func (s *Session) readPump() {
	defer func() {
		_ = s.close()
		s.server.sessionClosed(s)
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		var msg protocol.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Error("websocket error", "error", err)
			}
			return
		}

		s.handleMessage(&msg)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(msg); err != nil {
				s.logger.Error("failed to write frame", "error", err)
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) handleMessage(msg *protocol.Message) {
	s.logger.Debug("received frame", "type", msg.Type)

	switch msg.Type {
	case protocol.TypeGetRooms:
		s.handleGetRooms()

	case protocol.TypeCreateRoom:
		var p protocol.CreateRoom
		if err := msg.Decode(&p); err != nil {
			s.logger.Debug("malformed frame dropped", "type", msg.Type, "error", err)
			return
		}
		s.handleCreateRoom(p)

	case protocol.TypeJoinRoom:
		var p protocol.JoinRoom
		if err := msg.Decode(&p); err != nil {
			s.logger.Debug("malformed frame dropped", "type", msg.Type, "error", err)
			return
		}
		if err := s.server.registry.JoinRoom(s, p.RoomID); err != nil {
			s.sendDomainError(err)
		}

	case protocol.TypeLeaveRoom:
		if err := s.server.registry.LeaveRoom(s); err != nil {
			s.sendDomainError(err)
		}

	case protocol.TypeSetReady:
		var p protocol.SetReady
		if err := msg.Decode(&p); err != nil {
			s.logger.Debug("malformed frame dropped", "type", msg.Type, "error", err)
			return
		}
		s.handleSetReady(p)

	case protocol.TypePing:
		if pong, err := protocol.NewMessage(protocol.TypePong, nil); err == nil {
			_ = s.Send(pong)
		}

	default:
		// Unknown frame types are dropped; the connection stays open.
		s.logger.Debug("unknown frame type dropped", "type", msg.Type)
	}
}

func (s *Session) handleGetRooms() {
	rooms := s.server.registry.ListRooms()

	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	balance, err := s.server.wallet.Balance(ctx, s.UserID())
	if err != nil {
		s.logger.Debug("balance lookup failed", "error", err)
	}

	msg, err := protocol.NewMessage(protocol.TypeRoomList, protocol.RoomList{
		Rooms:       rooms,
		YourBalance: balance,
	})
	if err != nil {
		s.logger.Error("failed to encode room list", "error", err)
		return
	}
	_ = s.Send(msg)
}

func (s *Session) handleCreateRoom(p protocol.CreateRoom) {
	_, err := s.server.registry.CreateRoom(s, p.BetAmount, p.IsPersistent, p.RoomName)
	if err != nil {
		s.sendDomainError(err)
		return
	}
}

func (s *Session) handleSetReady(p protocol.SetReady) {
	room := s.server.registry.RoomFor(s.UserID())
	if room == nil {
		s.sendDomainError(ErrNotInRoom)
		return
	}
	if err := room.SetReady(s.UserID(), p.IsReady); err != nil {
		s.sendDomainError(err)
	}
}

func (s *Session) sendDomainError(err error) {
	code, message := "INTERNAL", "internal error"
	if derr, ok := AsDomainError(err); ok {
		code, message = derr.Code, derr.Message
	} else {
		s.logger.Error("command failed", "error", err)
	}

	msg, merr := protocol.NewMessage(protocol.TypeError, protocol.Error{
		Code:    code,
		Message: message,
	})
	if merr != nil {
		return
	}
	_ = s.Send(msg)
}
