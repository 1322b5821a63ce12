package dto

// UserSimpleDTO 消息和通知里携带的用户展示信息
type UserSimpleDTO struct {
	UserID      uint64 `json:"id"`
	Username    string `json:"username,omitempty"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}
