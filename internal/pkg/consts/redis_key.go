package consts

const (
	UserSimpleInfoKey = "user:simple:info:"
	IMUserKey         = "im:user:"
	IMConversationKey = "im:conversation:"
	IMPresenceKey     = "im:presence"
)
