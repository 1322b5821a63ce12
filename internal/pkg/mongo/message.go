package mongo

import (
	"Parley/internal/pkg/consts"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message MongoDB 消息明细模型
type Message struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SenderID        uint64             `bson:"sender_id" json:"senderId"`
	ReceiverID      uint64             `bson:"receiver_id" json:"receiverId"`
	ConversationKey string             `bson:"conversation_key" json:"conversationKey"` // 较小 uid 在前，见 util.ConversationKey
	MsgType         string             `bson:"msg_type" json:"msgType"`                 // text / image / file
	Content         string             `bson:"content" json:"content"`
	Status          string             `bson:"status" json:"status"` // sent -> delivered -> read
	IsRead          bool               `bson:"is_read" json:"isRead"`
	DeliveredAt     *time.Time         `bson:"delivered_at,omitempty" json:"deliveredAt,omitempty"`
	ReadAt          *time.Time         `bson:"read_at,omitempty" json:"readAt,omitempty"`
	EditedAt        *time.Time         `bson:"edited_at,omitempty" json:"editedAt,omitempty"`
	IsDeleted       bool               `bson:"is_deleted" json:"isDeleted"`
	DeliveryBatch   string             `bson:"delivery_batch,omitempty" json:"-"` // 积压补偿批次标记
	CreatedAt       time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt       time.Time          `bson:"updated_at" json:"updatedAt"`
}

var statusRank = map[string]int{
	consts.MessageStatusSent:      1,
	consts.MessageStatusDelivered: 2,
	consts.MessageStatusRead:      3,
}

// LowerStatuses 严格低于 target 的状态，用作条件更新的过滤值
func LowerStatuses(target string) []string {
	rank := statusRank[target]
	lower := make([]string, 0, 2)
	for _, s := range []string{consts.MessageStatusSent, consts.MessageStatusDelivered, consts.MessageStatusRead} {
		if statusRank[s] < rank {
			lower = append(lower, s)
		}
	}
	return lower
}

var (
	ErrNotSender        = errors.New("message not owned by editor")
	ErrTombstoned       = errors.New("message already deleted")
	ErrEditWindowClosed = errors.New("edit window closed")
)

// CheckOwner 只有发送者可以修改消息
func (m *Message) CheckOwner(editorID uint64) error {
	if m.SenderID != editorID {
		return ErrNotSender
	}
	return nil
}

// CheckEditable 编辑前置检查：发送者、未删除、距创建不超过 window
func (m *Message) CheckEditable(editorID uint64, now time.Time, window time.Duration) error {
	if err := m.CheckOwner(editorID); err != nil {
		return err
	}
	if m.IsDeleted {
		return ErrTombstoned
	}
	if now.Sub(m.CreatedAt) > window {
		return ErrEditWindowClosed
	}
	return nil
}
