package job

import (
	"Parley/internal/pkg/logger"
	"context"
	log "log/slog"
	"time"
)

// OnlineUsers 当前进程内的在线用户
type OnlineUsers interface {
	Snapshot() []uint64
}

// Reconciler 积压补偿
type Reconciler interface {
	Reconcile(ctx context.Context, userID uint64) (int, error)
}

// DeliverySweepJob 定期为在线用户补偿积压，覆盖由其他实例处理、
// 或在线推进失败而停留在 sent 的消息
type DeliverySweepJob struct {
	online     OnlineUsers
	reconciler Reconciler
	timeout    time.Duration
}

func NewDeliverySweepJob(online OnlineUsers, reconciler Reconciler) *DeliverySweepJob {
	return &DeliverySweepJob{
		online:     online,
		reconciler: reconciler,
		timeout:    30 * time.Second,
	}
}

func (s *DeliverySweepJob) Run() {
	ctx, cancel := context.WithTimeout(logger.NewTraceContext("job"), s.timeout)
	defer cancel()

	users := s.online.Snapshot()
	if len(users) == 0 {
		return
	}

	total := 0
	for i, userID := range users {
		if ctx.Err() != nil {
			log.WarnContext(ctx, "delivery sweep timed out", "remaining", len(users)-i)
			return
		}
		n, err := s.reconciler.Reconcile(ctx, userID)
		if err != nil {
			log.ErrorContext(ctx, "delivery sweep failed", "user_id", userID, "err", err)
			continue
		}
		total += n
	}
	if total > 0 {
		log.InfoContext(ctx, "delivery sweep finished", "users", len(users), "delivered", total)
	}
}
