package service

import (
	"Parley/internal/api/config"
	"Parley/internal/api/dto"
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/kafka"
	"Parley/internal/pkg/redis"
	"context"
	log "log/slog"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Publisher 实时推送出口，全部是尽力而为：失败只记录日志，不向调用方返回
type Publisher interface {
	ToUser(ctx context.Context, userID uint64, ev *dto.WsEvent)
	ToConversation(ctx context.Context, conversationKey string, ev *dto.WsEvent)
	Broadcast(ctx context.Context, ev *dto.WsEvent)
}

// EventEmitter 消息生命周期事件出口（Kafka）
type EventEmitter interface {
	Emit(ctx context.Context, ev *kafka.MessageEvent)
}

type publishFunc func(ctx context.Context, channel string, payload []byte) (int64, error)

// RedisPublisher 通过 Redis Pub/Sub 扇出，各实例上的 WebSocket 会话按频道订阅
type RedisPublisher struct {
	publish publishFunc
	timeout time.Duration
}

func NewRedisPublisher(timeout time.Duration) *RedisPublisher {
	if timeout <= 0 {
		timeout = config.DefaultIMConfig().PublishTimeout
	}
	return &RedisPublisher{
		publish: redis.Publish,
		timeout: timeout,
	}
}

func UserChannel(userID uint64) string {
	return consts.IMUserKey + strconv.FormatUint(userID, 10)
}

func ConversationChannel(conversationKey string) string {
	return consts.IMConversationKey + conversationKey
}

func (s *RedisPublisher) ToUser(ctx context.Context, userID uint64, ev *dto.WsEvent) {
	s.send(ctx, UserChannel(userID), ev)
}

func (s *RedisPublisher) ToConversation(ctx context.Context, conversationKey string, ev *dto.WsEvent) {
	s.send(ctx, ConversationChannel(conversationKey), ev)
}

func (s *RedisPublisher) Broadcast(ctx context.Context, ev *dto.WsEvent) {
	s.send(ctx, consts.IMPresenceKey, ev)
}

func (s *RedisPublisher) send(ctx context.Context, channel string, ev *dto.WsEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.ErrorContext(ctx, "encode ws event failed", "event", ev.Event, "err", err)
		return
	}

	// 请求被取消不应影响已经持久化的消息的推送
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	receivers, err := s.publish(pubCtx, channel, payload)
	if err != nil {
		log.WarnContext(ctx, "publish ws event failed", "channel", channel, "event", ev.Event, "err", err)
		return
	}
	log.DebugContext(ctx, "ws event published", "channel", channel, "event", ev.Event, "receivers", receivers)
}
