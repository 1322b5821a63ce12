package service

import (
	"Parley/internal/api/dto"
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/mongo"
	"Parley/internal/pkg/presence"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReconcile_Delivers_Backlog_With_One_Notification_Each(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newIMFixture()

	// Given user 2 was offline while 1 and 3 wrote to them
	a := f.send(1, 2, "a")
	b := f.send(1, 2, "b")
	c := f.send(3, 2, "c")
	own := f.send(2, 1, "to one")

	// When the backlog is reconciled
	n, err := f.backlog.Reconcile(ctx, 2)
	req.NoError(err)
	req.Equal(3, n)

	for _, id := range []string{a.ID, b.ID, c.ID} {
		req.Equal(consts.MessageStatusDelivered, f.messages.get(id).Status)
	}
	req.Equal(consts.MessageStatusSent, f.messages.get(own.ID).Status)

	// Then every sender hears about each of their messages once
	req.Len(f.publisher.sent("im:user:1", dto.EventMessageStatusUpdate), 2)
	req.Len(f.publisher.sent("im:user:3", dto.EventMessageStatusUpdate), 1)

	// And a second run finds nothing to do
	n, err = f.backlog.Reconcile(ctx, 2)
	req.NoError(err)
	req.Zero(n)
	req.Len(f.publisher.sent("im:user:1", dto.EventMessageStatusUpdate), 2)
}

func TestReconcile_Concurrent_Runs_Never_Double_Notify(t *testing.T) {
	req := require.New(t)
	f := newIMFixture()
	for i := 0; i < 20; i++ {
		f.send(1, 2, "x")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := f.backlog.Reconcile(context.Background(), 2)
			if err == nil {
				mu.Lock()
				total += n
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	req.Equal(20, total)
	req.Len(f.publisher.sent("im:user:1", dto.EventMessageStatusUpdate), 20)
}

func TestPresenceListener_Offline_Receiver_Connects(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newIMFixture()

	// Given B (2) is offline and A (1) sends
	msg := f.send(1, 2, "while you were away")
	req.Equal(consts.MessageStatusSent, msg.Status)

	registry := presence.NewRegistry()
	listener := NewPresenceListener(f.publisher, f.backlog)
	registry.SetListener(listener)

	// When B opens a connection
	req.True(registry.Connect(ctx, 2))
	listener.Wait()

	// Then A receives a delivered update and everyone sees B online
	updates := f.publisher.sent("im:user:1", dto.EventMessageStatusUpdate)
	req.Len(updates, 1)
	req.Equal(msg.ID, updates[0].Data.(*dto.MessageStatusUpdate).MessageID)
	req.Equal(consts.MessageStatusDelivered, updates[0].Data.(*dto.MessageStatusUpdate).Status)
	req.Len(f.publisher.sent(consts.IMPresenceKey, dto.EventUserOnline), 1)

	// A second tab neither re-announces nor re-delivers
	req.False(registry.Connect(ctx, 2))
	listener.Wait()
	req.Len(f.publisher.sent(consts.IMPresenceKey, dto.EventUserOnline), 1)
	req.Len(f.publisher.sent("im:user:1", dto.EventMessageStatusUpdate), 1)

	// Closing both tabs announces offline once
	registry.Disconnect(ctx, 2)
	registry.Disconnect(ctx, 2)
	req.Len(f.publisher.sent(consts.IMPresenceKey, dto.EventUserOffline), 1)
}

// stalledRepo 让 receiverID 为 stalled 的补偿卡在存储上，直到 release 被关闭
type stalledRepo struct {
	*memMessageRepo
	stalled uint64
	entered chan struct{}
	release chan struct{}
}

func (r *stalledRepo) MarkDeliveredForReceiver(ctx context.Context, receiverID uint64, batch string, at time.Time) ([]*mongo.Message, error) {
	if receiverID == r.stalled {
		close(r.entered)
		<-r.release
	}
	return r.memMessageRepo.MarkDeliveredForReceiver(ctx, receiverID, batch, at)
}

func TestPresenceListener_Slow_Reconcile_Does_Not_Block_Other_Connects(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newIMFixture()
	msg := f.send(1, 2, "queued")

	repo := &stalledRepo{
		memMessageRepo: f.messages,
		stalled:        2,
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	listener := NewPresenceListener(f.publisher, NewBacklogReconciler(repo, f.publisher, f.events, time.Minute))
	registry := presence.NewRegistry()
	registry.SetListener(listener)

	// Given user 2's backlog reconcile is stuck on the store
	req.True(registry.Connect(ctx, 2))
	select {
	case <-repo.entered:
	case <-time.After(2 * time.Second):
		req.FailNow("reconcile for user 2 never started")
	}

	// When user 3 connects meanwhile
	done := make(chan struct{})
	go func() {
		registry.Connect(ctx, 3)
		registry.Disconnect(ctx, 3)
		close(done)
	}()

	// Then user 3's transitions are dispatched without waiting for user 2
	select {
	case <-done:
	case <-time.After(time.Second):
		req.FailNow("connect for user 3 waited on user 2's reconcile")
	}
	req.Len(f.publisher.sent(consts.IMPresenceKey, dto.EventUserOnline), 2)
	req.Len(f.publisher.sent(consts.IMPresenceKey, dto.EventUserOffline), 1)
	req.Empty(f.publisher.sent("im:user:1", dto.EventMessageStatusUpdate))

	// When the store recovers the backlog is still delivered
	close(repo.release)
	listener.Wait()
	updates := f.publisher.sent("im:user:1", dto.EventMessageStatusUpdate)
	req.Len(updates, 1)
	req.Equal(msg.ID, updates[0].Data.(*dto.MessageStatusUpdate).MessageID)
}
