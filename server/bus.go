package server

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrLagged 订阅者落后超过 Bus 保留的事件数，已无法保持同步
	ErrLagged = errors.New("bus: subscriber lagged behind retained history")
	// ErrBusClosed Bus 已关闭（进程退出中）
	ErrBusClosed = errors.New("bus: closed")
)

// Event 一条已发布的状态变化通知（不可变）
type Event struct {
	Seq     uint64
	To      string // 目标会话 ID；为空表示所有会话
	Message ServerMessage
}

// Bus 有界的多订阅者广播队列
//
// 保留最近 capacity 条事件的环形缓冲，每个订阅者持有自己的读游标。
// Publish 永不阻塞；落后超过 capacity 条的订阅者在下一次读取时得到 ErrLagged。
type Bus struct {
	mu          sync.Mutex
	ring        []Event
	next        uint64        // 下一条事件的序号
	notify      chan struct{} // 每次发布时关闭并替换，用于唤醒等待者
	subscribers int
	closed      bool
}

// NewBus 创建保留 capacity 条历史的 Bus
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bus{
		ring:   make([]Event, capacity),
		notify: make(chan struct{}),
	}
}

// Publish 发布一条事件并返回其序号；关闭后发布的事件被丢弃，ok 为 false
func (b *Bus) Publish(to string, msg ServerMessage) (seq uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	seq = b.next
	if b.closed {
		return seq, false
	}
	b.ring[seq%uint64(len(b.ring))] = Event{Seq: seq, To: to, Message: msg}
	b.next++
	close(b.notify)
	b.notify = make(chan struct{})
	return seq, true
}

// Subscribe 从下一条发布的事件开始订阅
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers++
	return &Subscription{bus: b, cursor: b.next}
}

// Subscribers 当前订阅者数量
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribers
}

// Close 关闭 Bus，所有订阅者在读完已发布事件前即收到 ErrBusClosed
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.notify)
}

// Subscription 单个订阅者的读游标，只能由一个 goroutine 使用
type Subscription struct {
	bus      *Bus
	cursor   uint64
	detached bool
}

// Poll 非阻塞读取下一条事件
// 已追上时返回 (Event{}, wait, nil)，wait 会在下一次发布或关闭时被关闭
func (s *Subscription) Poll() (Event, <-chan struct{}, error) {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return Event{}, nil, ErrBusClosed
	}
	if s.cursor == b.next {
		return Event{}, b.notify, nil
	}
	if b.next-s.cursor > uint64(len(b.ring)) {
		return Event{}, nil, ErrLagged
	}
	ev := b.ring[s.cursor%uint64(len(b.ring))]
	s.cursor++
	return ev, nil, nil
}

// Recv 阻塞直到读到下一条事件、ctx 结束或出错
// 会话的出站流需要同时处理心跳，直接使用 Poll；Recv 供只读事件的调用方使用
func (s *Subscription) Recv(ctx context.Context) (Event, error) {
	for {
		ev, wait, err := s.Poll()
		if err != nil {
			return Event{}, err
		}
		if wait == nil {
			return ev, nil
		}
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-wait:
		}
	}
}

// Close 取消订阅；可重复调用
func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.detached {
		return
	}
	s.detached = true
	b.subscribers--
}
