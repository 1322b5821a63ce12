// Package presence 维护本进程内用户的在线状态（连接计数）。
//
// 所有计数变更都在同一把锁内完成；上线/下线的状态迁移按发生顺序依次交给 Listener，
// Connect/Disconnect 返回时，本次调用产生的迁移一定已经分发完毕。
// 分发在一把全局锁内串行执行，Listener 不应在回调里做耗时的存储访问。
package presence

import (
	"context"
	"fmt"
	log "log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"
)

type Transition int

const (
	Online Transition = iota + 1
	Offline
)

func (t Transition) String() string {
	switch t {
	case Online:
		return "online"
	case Offline:
		return "offline"
	}
	return fmt.Sprintf("transition(%d)", int(t))
}

// Event 一次 0->1 或 1->0 的状态迁移
type Event struct {
	UserID     uint64
	Transition Transition
}

// Listener 接收状态迁移，实现方可以做推送、积压补偿等
type Listener interface {
	OnOnline(ctx context.Context, userID uint64)
	OnOffline(ctx context.Context, userID uint64)
}

type Registry struct {
	mu      sync.RWMutex
	counts  map[uint64]int
	pending []Event

	// dispatchMu 保证迁移按顺序分发，且与计数锁分离，读路径不受分发耗时影响
	dispatchMu sync.Mutex
	listener   Listener
}

func NewRegistry() *Registry {
	return &Registry{
		counts: make(map[uint64]int),
	}
}

// SetListener 在开始接受连接前设置
func (r *Registry) SetListener(l Listener) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()
	r.listener = l
}

// Connect 连接数 +1，首个连接时返回 true
func (r *Registry) Connect(ctx context.Context, userID uint64) bool {
	r.mu.Lock()
	r.counts[userID]++
	first := r.counts[userID] == 1
	if first {
		r.pending = append(r.pending, Event{UserID: userID, Transition: Online})
	}
	r.mu.Unlock()

	r.flush(ctx)
	return first
}

// Disconnect 连接数 -1，最后一个连接断开时删除条目并返回 true；未知用户不做任何事
func (r *Registry) Disconnect(ctx context.Context, userID uint64) bool {
	r.mu.Lock()
	n, ok := r.counts[userID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	last := n <= 1
	if last {
		delete(r.counts, userID)
		r.pending = append(r.pending, Event{UserID: userID, Transition: Offline})
	} else {
		r.counts[userID] = n - 1
	}
	r.mu.Unlock()

	r.flush(ctx)
	return last
}

func (r *Registry) IsOnline(userID uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[userID] > 0
}

// Count 当前连接数
func (r *Registry) Count(userID uint64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[userID]
}

// Snapshot 当前在线用户（升序）
func (r *Registry) Snapshot() []uint64 {
	r.mu.RLock()
	users := lo.Keys(r.counts)
	r.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// flush 持有 dispatchMu 的调用方负责把队列排空
func (r *Registry) flush(ctx context.Context) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.pending = nil
			r.mu.Unlock()
			return
		}
		ev := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()

		r.dispatch(ctx, ev)
	}
}

func (r *Registry) dispatch(ctx context.Context, ev Event) {
	if r.listener == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			log.ErrorContext(ctx, "presence listener panicked",
				"userID", ev.UserID, "transition", ev.Transition.String(), "panic", p)
		}
	}()

	switch ev.Transition {
	case Online:
		r.listener.OnOnline(ctx, ev.UserID)
	case Offline:
		r.listener.OnOffline(ctx, ev.UserID)
	}
}
