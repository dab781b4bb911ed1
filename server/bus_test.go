package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvWithin(t *testing.T, sub *Subscription) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Recv(ctx)
	require.NoError(t, err)
	return ev
}

func TestBusFanOutInPublishOrder(t *testing.T) {
	bus := NewBus(16)
	subs := []*Subscription{bus.Subscribe(), bus.Subscribe(), bus.Subscribe()}
	assert.Equal(t, 3, bus.Subscribers())

	for i := 0; i < 10; i++ {
		bus.Publish("", PlayerMoved{PlayerID: "p1", X: float32(i)})
	}

	for _, sub := range subs {
		for i := 0; i < 10; i++ {
			ev := recvWithin(t, sub)
			assert.EqualValues(t, i, ev.Seq)
			assert.Equal(t, PlayerMoved{PlayerID: "p1", X: float32(i)}, ev.Message)
		}
		_, wait, err := sub.Poll()
		require.NoError(t, err)
		assert.NotNil(t, wait, "subscriber should be caught up")
	}
}

func TestBusLateSubscriberMissesEarlierEvents(t *testing.T) {
	bus := NewBus(16)
	bus.Publish("", PlayerLeft{PlayerID: "early"})

	sub := bus.Subscribe()
	bus.Publish("", PlayerLeft{PlayerID: "late"})

	ev := recvWithin(t, sub)
	assert.Equal(t, PlayerLeft{PlayerID: "late"}, ev.Message)
}

func TestBusRecvWakesOnPublish(t *testing.T) {
	bus := NewBus(4)
	sub := bus.Subscribe()

	got := make(chan Event, 1)
	go func() {
		ev, err := sub.Recv(context.Background())
		if err == nil {
			got <- ev
		}
	}()

	time.Sleep(20 * time.Millisecond)
	bus.Publish("s1", ErrorMessage{Message: "boom"})

	select {
	case ev := <-got:
		assert.Equal(t, "s1", ev.To)
		assert.Equal(t, ErrorMessage{Message: "boom"}, ev.Message)
	case <-time.After(time.Second):
		t.Fatal("Recv did not wake up")
	}
}

func TestBusLaggingSubscriber(t *testing.T) {
	bus := NewBus(4)
	slow := bus.Subscribe()
	fast := bus.Subscribe()

	for i := 0; i < 4; i++ {
		bus.Publish("", PlayerMoved{PlayerID: "p1", X: float32(i)})
		recvWithin(t, fast)
	}
	// 恰好 capacity 条未读仍可读取
	ev := recvWithin(t, slow)
	assert.EqualValues(t, 0, ev.Seq)

	for i := 4; i < 10; i++ {
		bus.Publish("", PlayerMoved{PlayerID: "p1", X: float32(i)})
		recvWithin(t, fast)
	}

	_, _, err := slow.Poll()
	require.ErrorIs(t, err, ErrLagged)

	_, err = slow.Recv(context.Background())
	require.ErrorIs(t, err, ErrLagged)
}

func TestBusPublishNeverBlocksWithoutReaders(t *testing.T) {
	bus := NewBus(2)
	_ = bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish("", PlayerLeft{PlayerID: "p"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked")
	}
}

func TestBusClose(t *testing.T) {
	bus := NewBus(4)
	sub := bus.Subscribe()

	errs := make(chan error, 1)
	go func() {
		_, err := sub.Recv(context.Background())
		errs <- err
	}()
	time.Sleep(10 * time.Millisecond)
	bus.Close()
	bus.Close()

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrBusClosed)
	case <-time.After(time.Second):
		t.Fatal("Recv did not observe Close")
	}

	_, ok := bus.Publish("", PlayerLeft{PlayerID: "after-close"})
	assert.False(t, ok, "publish after close must be rejected")
	_, _, err := sub.Poll()
	require.ErrorIs(t, err, ErrBusClosed)
}

func TestBusRecvHonoursContext(t *testing.T) {
	bus := NewBus(4)
	sub := bus.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sub.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus(4)
	a := bus.Subscribe()
	_ = bus.Subscribe()
	a.Close()
	a.Close()
	assert.Equal(t, 1, bus.Subscribers())
}

func TestBusConcurrentPublishersShareOneOrder(t *testing.T) {
	bus := NewBus(1024)
	a := bus.Subscribe()
	b := bus.Subscribe()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				bus.Publish("", PlayerMoved{PlayerID: string(rune('a' + p)), X: float32(i)})
			}
		}(p)
	}
	wg.Wait()

	lastX := map[string]float32{}
	for i := 0; i < 400; i++ {
		ea := recvWithin(t, a)
		eb := recvWithin(t, b)
		require.Equal(t, ea, eb)

		// 同一发布者的事件保持发布顺序
		m := ea.Message.(PlayerMoved)
		if prev, ok := lastX[m.PlayerID]; ok {
			require.Greater(t, m.X, prev)
		}
		lastX[m.PlayerID] = m.X
	}
}
