package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

func newUpgrader(cfg Config) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if o, ok := normalizeOrigin(origin); ok {
			allowed[o] = struct{}{}
		}
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// 未配置白名单时允许所有来源；游戏客户端通常不带 Origin
			if len(allowed) == 0 {
				return true
			}
			header := r.Header.Get("Origin")
			if header == "" {
				return true
			}
			o, ok := normalizeOrigin(header)
			if !ok {
				return false
			}
			_, exists := allowed[o]
			return exists
		},
	}
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// HandleWS WebSocket 接入：每条连接一个 Session，在请求 goroutine 中运行到结束
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !s.trackSession() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.sessions.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("upgrade error", "addr", r.RemoteAddr, "err", err)
		return
	}
	s.configureConn(ws)

	s.log.Infow("new connection", "addr", r.RemoteAddr)
	sess := NewSession(s.hub, ws, r.RemoteAddr, s.cfg, s.log)
	err = sess.Run(s.ctx)
	s.log.Infow("connection closed", "addr", r.RemoteAddr, "session", sess.ID(), "reason", err)
}

// configureConn 读取上限与心跳超时
func (s *Server) configureConn(ws *websocket.Conn) {
	pongWait := s.cfg.PongWait
	ws.SetReadLimit(s.cfg.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
}
