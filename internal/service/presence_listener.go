package service

import (
	"Parley/internal/api/dto"
	"context"
	log "log/slog"
	"sync"
)

// PresenceListener 在线状态迁移的处理：广播上下线，上线时补偿积压
//
// 广播在分发路径上同步完成以保持上下线顺序；积压补偿要访问存储，放到后台执行，
// 不占用 Registry 的分发锁
type PresenceListener struct {
	publisher  Publisher
	reconciler *BacklogReconciler

	wg sync.WaitGroup
}

func NewPresenceListener(publisher Publisher, reconciler *BacklogReconciler) *PresenceListener {
	return &PresenceListener{
		publisher:  publisher,
		reconciler: reconciler,
	}
}

func (s *PresenceListener) OnOnline(ctx context.Context, userID uint64) {
	// 连接可能马上断开，补偿不跟随连接的 context
	ctx = context.WithoutCancel(ctx)
	s.publisher.Broadcast(ctx, &dto.WsEvent{
		Event: dto.EventUserOnline,
		Data:  &dto.PresencePayload{UserID: userID},
		From:  userID,
	})

	s.wg.Add(1)
	go s.reconcile(ctx, userID)
}

func (s *PresenceListener) OnOffline(ctx context.Context, userID uint64) {
	s.publisher.Broadcast(context.WithoutCancel(ctx), &dto.WsEvent{
		Event: dto.EventUserOffline,
		Data:  &dto.PresencePayload{UserID: userID},
		From:  userID,
	})
}

// Wait 等待已启动的积压补偿结束
func (s *PresenceListener) Wait() {
	s.wg.Wait()
}

// reconcile 重复执行是安全的，同一用户快速重连产生的并发补偿不会重复通知
func (s *PresenceListener) reconcile(ctx context.Context, userID uint64) {
	defer s.wg.Done()
	defer func() {
		if p := recover(); p != nil {
			log.ErrorContext(ctx, "reconcile backlog on connect panicked", "user_id", userID, "panic", p)
		}
	}()

	if _, err := s.reconciler.Reconcile(ctx, userID); err != nil {
		// 定时扫描会再次补偿
		log.ErrorContext(ctx, "reconcile backlog on connect failed", "user_id", userID, "err", err)
	}
}
