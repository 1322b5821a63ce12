package dto

import (
	"time"

	"github.com/goccy/go-json"
)

// 服务端推送事件
const (
	EventReceiveMessage         = "receive_message"
	EventNewMessageNotification = "new_message_notification"
	EventUserOnline             = "user_online"
	EventUserOffline            = "user_offline"
	EventOnlineUsers            = "online_users"
	EventMessageStatusUpdate    = "message_status_update"
	EventMessagesMarkedRead     = "messages_marked_read"
	EventUserTyping             = "user_typing"
	EventMessageEdited          = "message_edited"
	EventMessageDeleted         = "message_deleted"
	EventMessageError           = "message_error"
)

// 客户端上行事件
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventTyping            = "typing"
	EventGetOnlineUsers    = "get_online_users"
	EventMessageDelivered  = "message_delivered"
	EventMessagesRead      = "messages_read"
	EventSendMessage       = "send_message"
)

// WsEvent 下行信封，From 为触发者，会话内广播时用于跳过自己
type WsEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
	From  uint64 `json:"from,omitempty"`
}

// WsMessage 上行信封，或从 Redis 收到的下行信封
type WsMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	From  uint64          `json:"from,omitempty"`
}

type ConversationKeyPayload struct {
	ConversationKey string `json:"conversationKey" validate:"required"`
}

type TypingPayload struct {
	ConversationKey string `json:"conversationKey" validate:"required"`
	IsTyping        bool   `json:"isTyping"`
}

type UserTypingPayload struct {
	ConversationKey string `json:"conversationKey"`
	UserID          uint64 `json:"userId"`
	IsTyping        bool   `json:"isTyping"`
}

type MessageDeliveredPayload struct {
	MessageID string `json:"messageId" validate:"required"`
	SenderID  uint64 `json:"senderId"`
}

type MessagesReadPayload struct {
	ConversationKey string `json:"conversationKey" validate:"required"`
	ViewerID        uint64 `json:"viewerId"`
	SenderID        uint64 `json:"senderId"`
}

type SendMessageHintPayload struct {
	MessageID       string `json:"messageId" validate:"required"`
	ConversationKey string `json:"conversationKey" validate:"required"`
}

type NewMessageNotification struct {
	From            *UserSimpleDTO `json:"from"`
	Message         *MessageDTO    `json:"message"`
	ConversationKey string         `json:"conversationKey"`
}

type MessageStatusUpdate struct {
	MessageID       string     `json:"messageId"`
	ConversationKey string     `json:"conversationKey"`
	Status          string     `json:"status"`
	DeliveredAt     *time.Time `json:"deliveredAt,omitempty"`
}

type MessagesMarkedRead struct {
	ConversationKey string `json:"conversationKey"`
	ReaderID        uint64 `json:"readerId"`
	Count           int64  `json:"count"`
}

type PresencePayload struct {
	UserID uint64 `json:"userId"`
}

type MessageDeletedPayload struct {
	MessageID       string `json:"messageId"`
	ConversationKey string `json:"conversationKey"`
}

type MessageErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}
