package dto

import "time"

// SendMessageReq 发送消息请求体
type SendMessageReq struct {
	ReceiverID      uint64 `json:"receiverId" binding:"required"`
	Content         string `json:"content" validate:"max=4000"`
	ConversationKey string `json:"conversationKey,omitempty"`
	MsgType         string `json:"msgType,omitempty" validate:"omitempty,oneof=text image file"`
}

// EditMessageReq 编辑消息请求体
type EditMessageReq struct {
	Content string `json:"content" validate:"max=4000"`
}

// MessageDTO 消息明细响应
type MessageDTO struct {
	ID              string         `json:"id"`
	ConversationKey string         `json:"conversationKey"`
	SenderID        uint64         `json:"senderId"`
	ReceiverID      uint64         `json:"receiverId"`
	Sender          *UserSimpleDTO `json:"sender,omitempty"`
	Receiver        *UserSimpleDTO `json:"receiver,omitempty"`
	MsgType         string         `json:"msgType"`
	Content         string         `json:"content"`
	Status          string         `json:"status"`
	IsRead          bool           `json:"isRead"`
	IsDeleted       bool           `json:"isDeleted"`
	DeliveredAt     *time.Time     `json:"deliveredAt,omitempty"`
	ReadAt          *time.Time     `json:"readAt,omitempty"`
	EditedAt        *time.Time     `json:"editedAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// PaginationDTO 分页信息
type PaginationDTO struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"hasMore"`
}

// MessagePageDTO 历史消息分页，按时间正序
type MessagePageDTO struct {
	Messages   []*MessageDTO `json:"messages"`
	Pagination PaginationDTO `json:"pagination"`
}

// ConversationDTO 会话列表项响应
type ConversationDTO struct {
	ConversationKey string         `json:"conversationKey"`
	Peer            *UserSimpleDTO `json:"peer"`
	LastMessageID   string         `json:"lastMessageId"`
	LastActivityAt  time.Time      `json:"lastActivityAt"`
	UnreadCount     int64          `json:"unreadCount"`
}

// IMStatsDTO 个人消息统计
type IMStatsDTO struct {
	TotalConversations int64 `json:"totalConversations"`
	Sent               int64 `json:"sent"`
	Received           int64 `json:"received"`
	Unread             int64 `json:"unread"`
}

// MarkReadDTO 标记已读结果
type MarkReadDTO struct {
	Count int64 `json:"count"`
}

// OnlineUsersDTO 在线用户列表
type OnlineUsersDTO struct {
	Users []uint64 `json:"users"`
}
