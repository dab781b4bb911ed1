package server

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// HandleMetrics 输出运行指标
// GET /metrics
func (s *Server) HandleMetrics(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	payload := map[string]any{
		"players":     s.hub.Registry.Len(),
		"subscribers": s.hub.Bus.Subscribers(),
		"metrics":     s.hub.Metrics.Snapshot(),
	}
	writeJSON(w, payload)
}

// HandleAdminPlayers 输出注册表的一致性快照
// GET /admin/players
func (s *Server) HandleAdminPlayers(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, map[string]any{"players": s.hub.Registry.Snapshot()})
}

// HandleAdminPlayer 按 ID 查询单个玩家，不存在时返回 404
// GET /admin/players/:id
func (s *Server) HandleAdminPlayer(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	p, ok := s.hub.Registry.Get(ps.ByName("id"))
	if !ok {
		http.Error(w, "player not found", http.StatusNotFound)
		return
	}
	writeJSON(w, p)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
