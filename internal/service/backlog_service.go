package service

import (
	"Parley/internal/api/dto"
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/kafka"
	"Parley/internal/pkg/mongo"
	"context"
	log "log/slog"
	"time"

	"github.com/google/uuid"
)

// BacklogReconciler 用户上线时把离线期间积压的 sent 消息一次性推进到 delivered，
// 并为每条真正推进过的消息通知一次发送方
type BacklogReconciler struct {
	messageRepo  mongo.MessageRepo
	publisher    Publisher
	events       EventEmitter
	storeTimeout time.Duration
	now          func() time.Time
	newBatch     func() string
}

func NewBacklogReconciler(messageRepo mongo.MessageRepo, publisher Publisher, events EventEmitter, storeTimeout time.Duration) *BacklogReconciler {
	if storeTimeout <= 0 {
		storeTimeout = 3 * time.Second
	}
	return &BacklogReconciler{
		messageRepo:  messageRepo,
		publisher:    publisher,
		events:       events,
		storeTimeout: storeTimeout,
		now:          func() time.Time { return time.Now().UTC() },
		newBatch:     uuid.NewString,
	}
}

// Reconcile 返回本次推进的消息数。同一条消息只会被某一次调用推进，
// 因此并发的上线事件与定时扫描不会产生重复通知
func (s *BacklogReconciler) Reconcile(ctx context.Context, userID uint64) (int, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	batch := s.newBatch()
	msgs, err := s.messageRepo.MarkDeliveredForReceiver(storeCtx, userID, batch, s.now())
	if err != nil {
		return 0, storeErr(err)
	}

	for _, msg := range msgs {
		s.publisher.ToUser(ctx, msg.SenderID, &dto.WsEvent{
			Event: dto.EventMessageStatusUpdate,
			Data: &dto.MessageStatusUpdate{
				MessageID:       msg.ID.Hex(),
				ConversationKey: msg.ConversationKey,
				Status:          consts.MessageStatusDelivered,
				DeliveredAt:     msg.DeliveredAt,
			},
		})
		s.events.Emit(ctx, &kafka.MessageEvent{
			Type:            kafka.EventMessageDelivered,
			MessageID:       msg.ID.Hex(),
			ConversationKey: msg.ConversationKey,
			SenderID:        msg.SenderID,
			ReceiverID:      msg.ReceiverID,
			Status:          consts.MessageStatusDelivered,
			At:              s.now(),
		})
	}
	if len(msgs) > 0 {
		log.InfoContext(ctx, "backlog reconciled", "user_id", userID, "batch", batch, "count", len(msgs))
	}
	return len(msgs), nil
}
