package server

// Hub 所有会话共享的状态：玩家注册表、通知总线与指标
type Hub struct {
	Registry *Registry
	Bus      *Bus
	Metrics  *Metrics

	broadcastAll bool
}

// NewHub 按配置创建共享状态
func NewHub(cfg Config) *Hub {
	return &Hub{
		Registry:     NewRegistry(),
		Bus:          NewBus(cfg.BusCapacity),
		Metrics:      &Metrics{},
		broadcastAll: cfg.BroadcastAll,
	}
}

// publish 广播给所有会话
func (h *Hub) publish(msg ServerMessage) {
	if _, ok := h.Bus.Publish("", msg); ok {
		h.Metrics.IncEventsPublished()
	}
}

// reply 发给指定会话；BroadcastAll 模式下与 publish 相同
// 仍走 Bus，以保证与其他事件的全局顺序一致
func (h *Hub) reply(sessionID string, msg ServerMessage) {
	if h.broadcastAll {
		sessionID = ""
	}
	if _, ok := h.Bus.Publish(sessionID, msg); ok {
		h.Metrics.IncEventsPublished()
	}
}
