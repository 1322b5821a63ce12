package service

import (
	"Parley/internal/pkg/mongo"
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

const (
	BadRequest          = 400
	Forbidden           = 403
	NotFound            = 404
	InternalServerError = 500
	ServiceUnavailable  = 503
)

var (
	ErrParamInvalid         = errors.New("参数错误")
	ErrContentEmpty         = errors.New("消息内容不能为空")
	ErrCannotMessageSelf    = errors.New("不能给自己发消息")
	ErrConversationMismatch = errors.New("会话标识与收发双方不匹配")
	ErrMessageDeleted       = errors.New("消息已删除")
	ErrUserNotFound         = errors.New("用户不存在")
	ErrMessageNotFound      = errors.New("消息不存在")
	ErrNotMessageOwner      = errors.New("只能操作自己发送的消息")
	ErrNotMessageReceiver   = errors.New("只有接收者可以确认送达")
	ErrNotParticipant       = errors.New("不是该会话的参与者")
	ErrEditWindowExpired    = errors.New("消息发送超过15分钟，无法编辑")
	ErrStoreUnavailable     = errors.New("存储暂时不可用，请稍后重试")
	UnExpectedError         = errors.New("系统异常，请稍后重试")
)

var ErrorMap = map[error]int{
	ErrParamInvalid:         BadRequest,
	ErrContentEmpty:         BadRequest,
	ErrCannotMessageSelf:    BadRequest,
	ErrConversationMismatch: BadRequest,
	ErrMessageDeleted:       BadRequest,
	ErrUserNotFound:         NotFound,
	ErrMessageNotFound:      NotFound,
	ErrNotMessageOwner:      Forbidden,
	ErrNotMessageReceiver:   Forbidden,
	ErrNotParticipant:       Forbidden,
	ErrEditWindowExpired:    BadRequest,
	ErrStoreUnavailable:     ServiceUnavailable,
	UnExpectedError:         InternalServerError,
}

// CodeOf 找到 err 链上已登记的业务错误，返回业务码与对应的哨兵错误；未登记时哨兵为 nil
func CodeOf(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	if code, ok := ErrorMap[err]; ok {
		return code, err
	}
	for sentinel, code := range ErrorMap {
		if errors.Is(err, sentinel) {
			return code, sentinel
		}
	}
	return 0, nil
}

// storeErr 超时与连接类错误（Mongo、MySQL）统一归为 ErrStoreUnavailable，其余原样返回
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		mongo.IsTransient(err) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

// messageRuleErr 把消息规则检查的错误映射到业务错误
func messageRuleErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNotSender):
		return ErrNotMessageOwner
	case errors.Is(err, mongo.ErrTombstoned):
		return ErrMessageDeleted
	case errors.Is(err, mongo.ErrEditWindowClosed):
		return ErrEditWindowExpired
	}
	return err
}
