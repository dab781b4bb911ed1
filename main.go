package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"presence/server"
)

// presence 入口：读取环境配置，启动 WebSocket 同步服务
func main() {
	cfg, err := server.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var addr string
	flag.StringVar(&addr, "addr", "", "listen address host:port, overrides BIND_ADDRESS/PORT")
	flag.StringVar(&cfg.LogFile, "log", cfg.LogFile, "log file path, empty for stderr")
	flag.Parse()

	if err := server.InitLogger(cfg.LogFile, cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = server.SyncLogger() }()

	srv := server.New(cfg, server.Log)
	if addr != "" {
		srv.SetAddr(addr)
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			server.Log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		server.Log.Errorw("shutdown", "err", err)
	}
}
