package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Server 组装共享状态、HTTP 路由与 WebSocket 接入
type Server struct {
	cfg      Config
	hub      *Hub
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	// ctx 在 Shutdown 时取消，所有会话以它为父 context
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closing  bool
	sessions sync.WaitGroup
}

// New 创建服务；log 为空时使用全局 Log
func New(cfg Config, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = Log
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		hub:      NewHub(cfg),
		log:      log,
		upgrader: newUpgrader(cfg),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetAddr 覆盖监听地址，须在 ListenAndServe 之前调用
func (s *Server) SetAddr(addr string) { s.httpSrv.Addr = addr }

// Hub 共享状态（测试与管理接口使用）
func (s *Server) Hub() *Hub { return s.hub }

// Handler 返回全部 HTTP 路由
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/", s.HandleWS)
	router.GET("/ws", s.HandleWS)
	router.GET("/healthz", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		_, _ = w.Write([]byte("ok"))
	})
	router.GET("/metrics", s.HandleMetrics)
	router.GET("/admin/players", s.HandleAdminPlayers)
	router.GET("/admin/players/:id", s.HandleAdminPlayer)
	return router
}

// ListenAndServe 绑定配置的地址并开始服务；绑定失败直接返回错误
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.httpSrv.Addr, err)
	}
	return s.Serve(ln)
}

// Serve 在给定 listener 上服务，直到 Shutdown
func (s *Server) Serve(ln net.Listener) error {
	go s.runReporter(s.ctx)
	s.log.Infof("Presence server listening on: %s", ln.Addr())
	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 停止接入新连接，关闭 Bus 让所有会话结束并完成清理，等待会话退出或 ctx 超时
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down...")

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	err := s.httpSrv.Shutdown(ctx)
	// 先关闭 Bus，让每个会话自己发送关闭帧后退出
	s.hub.Bus.Close()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, fmt.Errorf("waiting for sessions: %w", ctx.Err()))
	}
	s.cancel()
	return err
}

func (s *Server) trackSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions.Add(1)
	return true
}
