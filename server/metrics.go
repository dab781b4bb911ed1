package server

import (
	"sync/atomic"
)

// Metrics 记录服务运行期的关键指标（用于监控与调试）
type Metrics struct {
	SessionsOpened  int64 // 建立的会话数
	SessionsClosed  int64 // 结束的会话数
	Joins           int64 // 成功加入次数
	JoinsRejected   int64 // 因 ID 冲突或重复加入被拒绝的次数
	Moves           int64 // 被接受的位置更新数
	Leaves          int64 // 离开次数（主动离开与断线清理）
	DecodeErrors    int64 // 被丢弃的非法入站消息数
	LaggedDrops     int64 // 因落后 Bus 历史而被断开的会话数
	EventsPublished int64 // 发布到 Bus 的事件数
}

func (m *Metrics) IncSessionsOpened()  { atomic.AddInt64(&m.SessionsOpened, 1) }
func (m *Metrics) IncSessionsClosed()  { atomic.AddInt64(&m.SessionsClosed, 1) }
func (m *Metrics) IncJoins()           { atomic.AddInt64(&m.Joins, 1) }
func (m *Metrics) IncJoinsRejected()   { atomic.AddInt64(&m.JoinsRejected, 1) }
func (m *Metrics) IncMoves()           { atomic.AddInt64(&m.Moves, 1) }
func (m *Metrics) IncLeaves()          { atomic.AddInt64(&m.Leaves, 1) }
func (m *Metrics) IncDecodeErrors()    { atomic.AddInt64(&m.DecodeErrors, 1) }
func (m *Metrics) IncLaggedDrops()     { atomic.AddInt64(&m.LaggedDrops, 1) }
func (m *Metrics) IncEventsPublished() { atomic.AddInt64(&m.EventsPublished, 1) }

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	opened := atomic.LoadInt64(&m.SessionsOpened)
	closed := atomic.LoadInt64(&m.SessionsClosed)
	return map[string]any{
		"sessions_opened":  opened,
		"sessions_closed":  closed,
		"sessions_active":  opened - closed,
		"joins":            atomic.LoadInt64(&m.Joins),
		"joins_rejected":   atomic.LoadInt64(&m.JoinsRejected),
		"moves":            atomic.LoadInt64(&m.Moves),
		"leaves":           atomic.LoadInt64(&m.Leaves),
		"decode_errors":    atomic.LoadInt64(&m.DecodeErrors),
		"lagged_drops":     atomic.LoadInt64(&m.LaggedDrops),
		"events_published": atomic.LoadInt64(&m.EventsPublished),
	}
}
