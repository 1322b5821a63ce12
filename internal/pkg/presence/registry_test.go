package presence

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	mu     sync.Mutex
	events []Event
	panics bool
}

func (l *recordingListener) OnOnline(_ context.Context, userID uint64) {
	l.record(Event{UserID: userID, Transition: Online})
}

func (l *recordingListener) OnOffline(_ context.Context, userID uint64) {
	l.record(Event{UserID: userID, Transition: Offline})
}

func (l *recordingListener) record(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	if l.panics {
		panic("boom")
	}
}

func (l *recordingListener) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func TestRegistry_Connect_First_Connection_Goes_Online(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	listener := &recordingListener{}
	registry := NewRegistry()
	registry.SetListener(listener)

	// Given nobody is connected
	req.False(registry.IsOnline(1))
	req.Empty(registry.Snapshot())

	// When the user opens two connections
	req.True(registry.Connect(ctx, 1))
	req.False(registry.Connect(ctx, 1))

	// Then only one online transition is emitted
	req.True(registry.IsOnline(1))
	req.Equal(2, registry.Count(1))
	req.Equal([]Event{{UserID: 1, Transition: Online}}, listener.snapshot())
}

func TestRegistry_Disconnect_Last_Connection_Goes_Offline(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	listener := &recordingListener{}
	registry := NewRegistry()
	registry.SetListener(listener)

	registry.Connect(ctx, 1)
	registry.Connect(ctx, 1)

	// When one of two connections closes the user stays online
	req.False(registry.Disconnect(ctx, 1))
	req.True(registry.IsOnline(1))

	// When the last one closes the entry is removed
	req.True(registry.Disconnect(ctx, 1))
	req.False(registry.IsOnline(1))
	req.Equal(0, registry.Count(1))
	req.Empty(registry.Snapshot())

	req.Equal([]Event{
		{UserID: 1, Transition: Online},
		{UserID: 1, Transition: Offline},
	}, listener.snapshot())
}

func TestRegistry_Disconnect_Unknown_User_Is_NoOp(t *testing.T) {
	req := require.New(t)
	listener := &recordingListener{}
	registry := NewRegistry()
	registry.SetListener(listener)

	req.False(registry.Disconnect(context.Background(), 99))
	req.Equal(0, registry.Count(99))
	req.Empty(listener.snapshot())
}

func TestRegistry_Snapshot_Is_Sorted(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry := NewRegistry()

	for _, id := range []uint64{30, 10, 20} {
		registry.Connect(ctx, id)
	}

	req.Equal([]uint64{10, 20, 30}, registry.Snapshot())
}

func TestRegistry_Listener_Panic_Does_Not_Corrupt_Count(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry := NewRegistry()
	registry.SetListener(&recordingListener{panics: true})

	req.NotPanics(func() { registry.Connect(ctx, 5) })
	req.True(registry.IsOnline(5))

	req.NotPanics(func() { registry.Disconnect(ctx, 5) })
	req.False(registry.IsOnline(5))
}

func TestRegistry_Concurrent_Connections_Balance_Out(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	listener := &recordingListener{}
	registry := NewRegistry()
	registry.SetListener(listener)

	const workers = 50
	const rounds = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(userID uint64) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				registry.Connect(ctx, userID)
				registry.Disconnect(ctx, userID)
			}
		}(uint64(w % 5))
	}
	wg.Wait()

	// Then every connection was released
	req.Empty(registry.Snapshot())

	// And per user the transitions strictly alternate online/offline
	last := map[uint64]Transition{}
	for _, ev := range listener.snapshot() {
		prev, seen := last[ev.UserID]
		if !seen {
			req.Equal(Online, ev.Transition)
		} else {
			req.NotEqual(prev, ev.Transition)
		}
		last[ev.UserID] = ev.Transition
	}
	for _, tr := range last {
		req.Equal(Offline, tr)
	}
}
