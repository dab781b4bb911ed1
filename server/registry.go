package server

import (
	"sort"
	"sync"
)

// Registry 在线玩家的唯一权威存储：玩家 ID → 玩家记录
//
// 所有读写都在同一把锁下串行化。回调（onInsert/onUpdate/onRemove）在持锁期间执行，
// 用于把状态变化按修改顺序发布到 Bus；回调内不得做任何阻塞操作（Bus.Publish 不阻塞）。
type Registry struct {
	mu      sync.RWMutex
	players map[string]Player
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{players: make(map[string]Player)}
}

// TryInsert 当且仅当 ID 不存在时插入记录；检查与插入在同一临界区内完成
// 插入成功后以包含新玩家的快照调用 onInsert
func (r *Registry) TryInsert(p Player, onInsert func(snapshot []Player)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.players[p.ID]; exists {
		return false
	}
	r.players[p.ID] = p
	if onInsert != nil {
		onInsert(r.snapshotLocked())
	}
	return true
}

// Update 修改玩家坐标；玩家已离开时静默忽略并返回 false
func (r *Registry) Update(id string, pos Position, onUpdate func(Player)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return false
	}
	p.moveTo(pos)
	r.players[id] = p
	if onUpdate != nil {
		onUpdate(p)
	}
	return true
}

// Remove 移除玩家并返回记录是否存在
func (r *Registry) Remove(id string, onRemove func(Player)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return false
	}
	delete(r.players, id)
	if onRemove != nil {
		onRemove(p)
	}
	return true
}

// Get 读取单个玩家记录的副本
func (r *Registry) Get(id string) (Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[id]
	return p, ok
}

// Snapshot 返回所有玩家的一致性副本（按 ID 排序）
func (r *Registry) Snapshot() []Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Len 当前在线玩家数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

func (r *Registry) snapshotLocked() []Player {
	out := make([]Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
