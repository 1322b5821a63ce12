package consts

// 消息状态，只能沿 sent -> delivered -> read 前进
const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
)

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

const (
	DeletedMessageContent = "This message was deleted"
	ConversationKeySep    = "_"
)

// UserIDKey gin.Context / context.Context 中当前用户 ID 的 Key
const UserIDKey = "user_id"
