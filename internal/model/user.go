package model

import (
	"strings"
	"time"
)

// User 用户表（由账号服务维护，本服务只读）
type User struct {
	ID        uint64  `gorm:"primaryKey"`
	Username  *string `gorm:"type:varchar(50);uniqueIndex:idx_username"`
	FirstName string  `gorm:"type:varchar(50)"`
	LastName  string  `gorm:"type:varchar(50)"`
	AvatarURL string  `gorm:"type:varchar(255)"`
	IsBan     bool    `gorm:"type:tinyint(1);default:0"`
	IsDelete  bool    `gorm:"type:tinyint(1);default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (User) TableName() string {
	return "users"
}

// DisplayName 优先使用姓名，缺省时退回用户名
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.Username != nil {
		return *u.Username
	}
	return ""
}
