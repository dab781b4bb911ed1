package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Conn 会话所需的连接能力，*websocket.Conn 满足该接口
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type sessionState int

const (
	stateUnbound sessionState = iota
	stateBound
	stateTerminated
)

func (s sessionState) String() string {
	switch s {
	case stateUnbound:
		return "unbound"
	case stateBound:
		return "bound"
	default:
		return "terminated"
	}
}

// errClientClosed 客户端正常关闭连接
var errClientClosed = errors.New("session: client closed connection")

// Session 一条连接对应一个会话：入站流驱动状态机，出站流把 Bus 事件写回客户端
//
// state 与 playerID 只由入站流读写；两条流都结束后才执行清理。
type Session struct {
	id   string
	addr string
	conn Conn
	hub  *Hub
	sub  *Subscription
	log  *zap.SugaredLogger

	writeWait  time.Duration
	pingPeriod time.Duration

	state    sessionState
	playerID string

	cleanup sync.Once
}

// NewSession 创建会话并立即订阅 Bus，保证之后发布的事件（包括本会话 Join 的快照）都能收到
func NewSession(hub *Hub, conn Conn, addr string, cfg Config, log *zap.SugaredLogger) *Session {
	id := uuid.NewString()
	return &Session{
		id:         id,
		addr:       addr,
		conn:       conn,
		hub:        hub,
		sub:        hub.Bus.Subscribe(),
		log:        log.With("session", id, "addr", addr),
		writeWait:  cfg.WriteWait,
		pingPeriod: cfg.PingPeriod(),
	}
}

// ID 会话 ID
func (s *Session) ID() string { return s.id }

// Run 运行入站与出站两条流，任一结束即取消另一条，并只执行一次清理
// 返回导致会话结束的原因
func (s *Session) Run(ctx context.Context) error {
	s.hub.Metrics.IncSessionsOpened()

	g, gctx := errgroup.WithContext(ctx)
	// 关闭连接以打断阻塞中的 ReadMessage
	stop := context.AfterFunc(gctx, func() { _ = s.conn.Close() })
	defer stop()

	g.Go(func() error { return s.readLoop() })
	g.Go(func() error { return s.writeLoop(gctx) })
	err := g.Wait()

	s.terminate()
	return err
}

func (s *Session) readLoop() error {
	for {
		mt, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errClientClosed
			}
			return fmt.Errorf("read: %w", err)
		}
		// 协议只承载文本帧
		if mt != websocket.TextMessage {
			s.hub.Metrics.IncDecodeErrors()
			s.log.Debugw("ignoring non-text frame", "frame_type", mt)
			continue
		}
		msg, err := DecodeClientMessage(payload)
		if err != nil {
			s.hub.Metrics.IncDecodeErrors()
			s.log.Debugw("discarding malformed message", "err", err)
			continue
		}
		s.handle(msg)
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	defer s.sub.Close()
	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()

	for {
		ev, wait, err := s.sub.Poll()
		switch {
		case errors.Is(err, ErrLagged):
			s.hub.Metrics.IncLaggedDrops()
			s.log.Warnw("dropping lagging session")
			s.writeClose(websocket.ClosePolicyViolation, "lagging behind")
			return err
		case errors.Is(err, ErrBusClosed):
			s.writeClose(websocket.CloseGoingAway, "server shutting down")
			return err
		case err != nil:
			return err
		}

		if wait == nil {
			if ev.To != "" && ev.To != s.id {
				continue
			}
			if err := s.write(ev.Message); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.ping(); err != nil {
				return err
			}
		case <-wait:
		}
	}
}

// handle 在入站流中执行状态迁移
func (s *Session) handle(msg ClientMessage) {
	switch m := msg.(type) {
	case Join:
		s.join(m)
	case UpdatePosition:
		s.move(m)
	case Leave:
		s.leave()
	}
}

func (s *Session) join(m Join) {
	if s.state == stateBound {
		s.hub.Metrics.IncJoinsRejected()
		s.hub.reply(s.id, ErrorMessage{Message: fmt.Sprintf("Session already joined as %s", s.playerID)})
		return
	}

	p := Player{ID: m.PlayerID, Name: m.PlayerName}
	inserted := s.hub.Registry.TryInsert(p, func(snapshot []Player) {
		s.hub.reply(s.id, GameState{Players: snapshot})
		s.hub.publish(PlayerJoined{PlayerID: p.ID, PlayerName: p.Name})
	})
	if !inserted {
		s.hub.Metrics.IncJoinsRejected()
		s.hub.reply(s.id, ErrorMessage{Message: fmt.Sprintf("Player ID %s is already in use", m.PlayerID)})
		s.log.Infow("join rejected, id in use", "player", m.PlayerID)
		return
	}

	s.state = stateBound
	s.playerID = p.ID
	s.hub.Metrics.IncJoins()
	s.log.Infof("Player %s joined with ID: %s", p.Name, p.ID)
}

func (s *Session) move(m UpdatePosition) {
	if s.state != stateBound {
		return
	}
	id := s.playerID
	moved := s.hub.Registry.Update(id, m.Position(), func(p Player) {
		s.hub.publish(PlayerMoved{PlayerID: id, X: p.X, Y: p.Y, Z: p.Z})
	})
	if moved {
		s.hub.Metrics.IncMoves()
	}
}

func (s *Session) leave() {
	if s.state != stateBound {
		return
	}
	s.release()
	s.state = stateUnbound
	s.playerID = ""
}

// release 移除绑定的玩家；记录存在时发布且只发布一次 PlayerLeft
func (s *Session) release() {
	id := s.playerID
	removed := s.hub.Registry.Remove(id, func(Player) {
		s.hub.publish(PlayerLeft{PlayerID: id})
	})
	if removed {
		s.hub.Metrics.IncLeaves()
		s.log.Infow("player left", "player", id)
	}
}

// terminate 会话结束时的清理，只执行一次
func (s *Session) terminate() {
	s.cleanup.Do(func() {
		ended := s.state
		if ended == stateBound {
			s.release()
		}
		s.state = stateTerminated
		s.log.Debugw("session terminated", "state", ended)
		s.playerID = ""
		s.sub.Close()
		_ = s.conn.Close()
		s.hub.Metrics.IncSessionsClosed()
	})
}

func (s *Session) write(msg ServerMessage) error {
	data, err := EncodeServerMessage(msg)
	if err != nil {
		s.log.Errorw("failed to encode event", "type", msg.Type(), "err", err)
		return nil
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (s *Session) ping() error {
	if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeWait)); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

func (s *Session) writeClose(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeWait))
}
