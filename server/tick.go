package server

import (
	"context"
	"time"
)

// runReporter 按 ReportInterval 周期性把运行状态写入日志；间隔为 0 时不启动
func (s *Server) runReporter(ctx context.Context) {
	interval := s.cfg.ReportInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.report()
		}
	}
}

func (s *Server) report() {
	m := s.hub.Metrics.Snapshot()
	s.log.Infow("stats",
		"players", s.hub.Registry.Len(),
		"subscribers", s.hub.Bus.Subscribers(),
		"sessions_active", m["sessions_active"],
		"events_published", m["events_published"],
		"lagged_drops", m["lagged_drops"],
		"decode_errors", m["decode_errors"],
	)
}
