package kafka

import (
	"Parley/internal/api/config"
	"context"
	"errors"
	log "log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
)

// 消息生命周期事件类型
const (
	EventMessageCreated   = "message.created"
	EventMessageDelivered = "message.delivered"
	EventMessageRead      = "message.read"
	EventMessageEdited    = "message.edited"
	EventMessageDeleted   = "message.deleted"
)

var (
	ErrProducerClosed = errors.New("kafka producer closed")
	ErrProducerBusy   = errors.New("kafka producer input full")
)

const defaultSendTimeout = 2 * time.Second

// MessageEvent 写入 Kafka 的事件体，key 为会话标识，保证同一会话内有序
type MessageEvent struct {
	Type            string    `json:"type"`
	MessageID       string    `json:"messageId,omitempty"`
	ConversationKey string    `json:"conversationKey"`
	SenderID        uint64    `json:"senderId,omitempty"`
	ReceiverID      uint64    `json:"receiverId,omitempty"`
	Status          string    `json:"status,omitempty"`
	Count           int64     `json:"count,omitempty"`
	At              time.Time `json:"at"`
}

// MessageEventProducer 异步投递消息事件；未启用 Kafka 时所有调用都是空操作
type MessageEventProducer struct {
	producer sarama.AsyncProducer
	topic    string
	// 调用方多用 WithoutCancel 的 context，写入输入队列必须有自己的上限
	sendTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewMessageEventProducer 根据配置创建生产者，Enable=false 时返回空实现
func NewMessageEventProducer(cfg config.KafkaConfig) (*MessageEventProducer, error) {
	if !cfg.Enable {
		log.Info("Kafka disabled, message events will be dropped")
		return &MessageEventProducer{}, nil
	}
	producer, err := sarama.NewAsyncProducer(cfg.Brokers, newSaramaConfig(cfg))
	if err != nil {
		return nil, err
	}
	log.Info("Kafka producer started", "topic", cfg.Topic)
	return newProducer(producer, cfg.Topic, time.Duration(cfg.Producer.SendTimeout)*time.Millisecond), nil
}

func newProducer(producer sarama.AsyncProducer, topic string, sendTimeout time.Duration) *MessageEventProducer {
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	p := &MessageEventProducer{
		producer:    producer,
		topic:       topic,
		sendTimeout: sendTimeout,
		done:        make(chan struct{}),
	}
	go p.drainErrors()
	return p
}

func (p *MessageEventProducer) drainErrors() {
	defer close(p.done)
	for pErr := range p.producer.Errors() {
		log.Error("kafka produce failed", "topic", pErr.Msg.Topic, "err", pErr.Err)
	}
}

// Emit 尽力投递，失败只记录日志，不影响主流程
func (p *MessageEventProducer) Emit(ctx context.Context, ev *MessageEvent) {
	if err := p.emit(ctx, ev); err != nil {
		log.WarnContext(ctx, "message event dropped", "type", ev.Type, "message_id", ev.MessageID, "err", err)
	}
}

func (p *MessageEventProducer) emit(ctx context.Context, ev *MessageEvent) error {
	if p.producer == nil {
		return nil
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.ConversationKey),
		Value: sarama.ByteEncoder(value),
	}
	timer := time.NewTimer(p.sendTimeout)
	defer timer.Stop()
	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrProducerBusy
	}
}

// Close 刷出缓冲中的消息并关闭
func (p *MessageEventProducer) Close() error {
	if p.producer == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.producer.AsyncClose()
	<-p.done
	log.Info("Kafka producer closed")
	return nil
}
