package handler

import (
	"Parley/internal/api/dto"
	"Parley/internal/pkg/response"
	"Parley/internal/pkg/util"
	"Parley/internal/service"
	"context"
	"errors"
	log "log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

// 这些事件由自己触发时不回显
var selfSkippedEvents = map[string]struct{}{
	dto.EventUserTyping:  {},
	dto.EventUserOnline:  {},
	dto.EventUserOffline: {},
}

// wsSession 单条 WebSocket 连接。读循环处理上行事件，写循环串行化所有下行写入
type wsSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	userID uint64
	conn   *websocket.Conn
	sub    Subscription
	im     service.IMService
	send   chan []byte

	// 仅读循环访问
	joined map[string]struct{}
}

func newWsSession(parent context.Context, userID uint64, conn *websocket.Conn, sub Subscription, im service.IMService) *wsSession {
	ctx, cancel := context.WithCancel(parent)
	return &wsSession{
		ctx:    ctx,
		cancel: cancel,
		userID: userID,
		conn:   conn,
		sub:    sub,
		im:     im,
		send:   make(chan []byte, sendBufferSize),
		joined: make(map[string]struct{}),
	}
}

// run 阻塞直到连接关闭
func (s *wsSession) run() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()

	s.push(dto.EventOnlineUsers, &dto.OnlineUsersDTO{Users: s.im.OnlineUsers()})
	s.readLoop()

	s.cancel()
	wg.Wait()

	if len(s.joined) > 0 {
		channels := make([]string, 0, len(s.joined))
		for key := range s.joined {
			channels = append(channels, service.ConversationChannel(key))
		}
		_ = s.sub.Unsubscribe(context.WithoutCancel(s.ctx), channels...)
	}
	_ = s.sub.Close()
	_ = s.conn.Close()
}

func (s *wsSession) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	// 写失败时关闭连接，让读循环退出
	defer func() {
		s.cancel()
		_ = s.conn.Close()
	}()

	redisCh := s.sub.Channel()
	for {
		select {
		case <-s.ctx.Done():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-s.send:
			if err := s.write(websocket.TextMessage, data); err != nil {
				log.WarnContext(s.ctx, "WS 推送失败", "user_id", s.userID, "err", err)
				return
			}
		case msg, ok := <-redisCh:
			if !ok {
				return
			}
			payload := []byte(msg.Payload)
			if s.skip(payload) {
				continue
			}
			if err := s.write(websocket.TextMessage, payload); err != nil {
				log.WarnContext(s.ctx, "WS 推送失败", "user_id", s.userID, "err", err)
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *wsSession) write(messageType int, data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

// skip 过滤自己触发的输入中/上下线事件
func (s *wsSession) skip(payload []byte) bool {
	var env struct {
		Event string `json:"event"`
		From  uint64 `json:"from"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return false
	}
	if env.From != s.userID {
		return false
	}
	_, ok := selfSkippedEvents[env.Event]
	return ok
}

func (s *wsSession) readLoop() {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WarnContext(s.ctx, "WS 读取异常", "user_id", s.userID, "err", err)
			}
			return
		}
		// 客户端也算活跃
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg dto.WsMessage
		if err = json.Unmarshal(data, &msg); err != nil {
			s.pushError("", service.ErrParamInvalid)
			continue
		}
		if err = s.dispatch(&msg); err != nil {
			s.pushError(msg.Event, err)
		}
	}
}

func (s *wsSession) dispatch(msg *dto.WsMessage) error {
	switch msg.Event {
	case dto.EventJoinConversation:
		var p dto.ConversationKeyPayload
		if err := decodePayload(msg.Data, &p); err != nil {
			return err
		}
		if err := s.im.CheckParticipant(s.userID, p.ConversationKey); err != nil {
			return err
		}
		if _, ok := s.joined[p.ConversationKey]; ok {
			return nil
		}
		if err := s.sub.Subscribe(s.ctx, service.ConversationChannel(p.ConversationKey)); err != nil {
			log.ErrorContext(s.ctx, "订阅会话频道失败", "conversation_key", p.ConversationKey, "err", err)
			return service.UnExpectedError
		}
		s.joined[p.ConversationKey] = struct{}{}
		return nil

	case dto.EventLeaveConversation:
		var p dto.ConversationKeyPayload
		if err := decodePayload(msg.Data, &p); err != nil {
			return err
		}
		if _, ok := s.joined[p.ConversationKey]; !ok {
			return nil
		}
		delete(s.joined, p.ConversationKey)
		if err := s.sub.Unsubscribe(s.ctx, service.ConversationChannel(p.ConversationKey)); err != nil {
			log.WarnContext(s.ctx, "退订会话频道失败", "conversation_key", p.ConversationKey, "err", err)
		}
		return nil

	case dto.EventTyping:
		var p dto.TypingPayload
		if err := decodePayload(msg.Data, &p); err != nil {
			return err
		}
		return s.im.PublishTyping(s.ctx, s.userID, p.ConversationKey, p.IsTyping)

	case dto.EventGetOnlineUsers:
		s.push(dto.EventOnlineUsers, &dto.OnlineUsersDTO{Users: s.im.OnlineUsers()})
		return nil

	case dto.EventMessageDelivered:
		var p dto.MessageDeliveredPayload
		if err := decodePayload(msg.Data, &p); err != nil {
			return err
		}
		_, err := s.im.AckDelivered(s.ctx, s.userID, p.MessageID)
		return err

	case dto.EventMessagesRead:
		// 读者一律取连接身份，忽略载荷里的 viewerId
		var p dto.MessagesReadPayload
		if err := decodePayload(msg.Data, &p); err != nil {
			return err
		}
		_, err := s.im.MarkConversationRead(s.ctx, s.userID, p.ConversationKey)
		return err

	case dto.EventSendMessage:
		var p dto.SendMessageHintPayload
		if err := decodePayload(msg.Data, &p); err != nil {
			return err
		}
		return s.im.HandleSendHint(s.ctx, s.userID, p.MessageID, p.ConversationKey)

	default:
		return errUnknownEvent
	}
}

var errUnknownEvent = errors.New("未知事件")

func decodePayload(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return service.ErrParamInvalid
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return service.ErrParamInvalid
	}
	if err := util.ValidateDTO(dst); err != nil {
		return service.ErrParamInvalid
	}
	return nil
}

// push 投递到写循环；连接已关闭时丢弃
func (s *wsSession) push(event string, data any) {
	payload, err := json.Marshal(&dto.WsEvent{Event: event, Data: data})
	if err != nil {
		log.ErrorContext(s.ctx, "WS 事件序列化失败", "event", event, "err", err)
		return
	}
	select {
	case s.send <- payload:
	case <-s.ctx.Done():
	}
}

func (s *wsSession) pushError(event string, err error) {
	code, sentinel := service.CodeOf(err)
	var message string
	switch {
	case errors.Is(err, errUnknownEvent):
		code, message = response.BadRequest, errUnknownEvent.Error()
	case sentinel != nil:
		message = sentinel.Error()
	default:
		log.ErrorContext(s.ctx, "WS 事件处理失败", "event", event, "user_id", s.userID, "err", err)
		code, message = response.InternalServerError, service.UnExpectedError.Error()
	}
	s.push(dto.EventMessageError, &dto.MessageErrorPayload{
		Event:   event,
		Code:    code,
		Message: message,
	})
}
