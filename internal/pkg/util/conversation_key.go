package util

import (
	"Parley/internal/pkg/consts"
	"errors"
	"strconv"
	"strings"
)

var ErrInvalidConversationKey = errors.New("invalid conversation key")

// ConversationKey 由两个用户 ID 按字符串字典序排序后用 "_" 拼接，与方向无关
func ConversationKey(idA, idB string) string {
	if idA > idB {
		idA, idB = idB, idA
	}
	return idA + consts.ConversationKeySep + idB
}

// ConversationKeyOf 数字 ID 版本，仍按字符串排序
func ConversationKeyOf(idA, idB uint64) string {
	return ConversationKey(strconv.FormatUint(idA, 10), strconv.FormatUint(idB, 10))
}

// ParseConversationKey 拆出会话的两个参与者
func ParseConversationKey(key string) (uint64, uint64, error) {
	parts := strings.Split(key, consts.ConversationKeySep)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || parts[0] == parts[1] {
		return 0, 0, ErrInvalidConversationKey
	}
	a, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, 0, ErrInvalidConversationKey
	}
	b, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, ErrInvalidConversationKey
	}
	// 只接受规范形式，防止 "02_1" 之类的别名
	if ConversationKeyOf(a, b) != key {
		return 0, 0, ErrInvalidConversationKey
	}
	return a, b, nil
}

// PeerOf 返回会话中 userID 的对方；userID 不是参与者时返回 false
func PeerOf(key string, userID uint64) (uint64, bool) {
	a, b, err := ParseConversationKey(key)
	if err != nil {
		return 0, false
	}
	switch userID {
	case a:
		return b, true
	case b:
		return a, true
	}
	return 0, false
}
