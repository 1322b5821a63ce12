package model

import "time"

// Conversation 单聊会话摘要，PeerKey 唯一索引保证同一对用户只有一条
type Conversation struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	PeerKey       string    `gorm:"uniqueIndex;type:varchar(64);not null" json:"peerKey"` // uid1_uid2，见 util.ConversationKey
	UserA         uint64    `gorm:"not null;index" json:"userA"`
	UserB         uint64    `gorm:"not null;index" json:"userB"`
	LastMessageID string    `gorm:"type:char(24)" json:"lastMessageId"`
	LastMessageAt time.Time `gorm:"index" json:"lastMessageAt"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (Conversation) TableName() string { return "conversations" }

// PeerOf 返回 userID 在会话中的对方
func (c *Conversation) PeerOf(userID uint64) uint64 {
	if c.UserA == userID {
		return c.UserB
	}
	return c.UserA
}
