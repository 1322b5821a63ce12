package repository

import (
	"Parley/internal/model"
	"context"
	"errors"
	log "log/slog"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	upsertMaxAttempts = 3
	mysqlErrDeadlock  = 1213
	mysqlErrLockWait  = 1205
)

type ConversationRepo interface {
	Upsert(ctx context.Context, peerKey string, userA, userB uint64, lastMessageID string, at time.Time) (*model.Conversation, error)
	GetByPeerKey(ctx context.Context, peerKey string) (*model.Conversation, error)
	ListForUser(ctx context.Context, userID uint64) ([]*model.Conversation, error)
	CountForUser(ctx context.Context, userID uint64) (int64, error)
}

type conversationRepoImpl struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepoImpl{db: db}
}

// Upsert 会话不存在则创建，存在则刷新最后一条消息
// 依赖 peer_key 唯一索引，INSERT ... ON DUPLICATE KEY UPDATE 一步完成，并发下不会产生重复会话
func (s *conversationRepoImpl) Upsert(ctx context.Context, peerKey string, userA, userB uint64, lastMessageID string, at time.Time) (*model.Conversation, error) {
	if userA > userB {
		userA, userB = userB, userA
	}

	var err error
	for attempt := 1; attempt <= upsertMaxAttempts; attempt++ {
		conv := &model.Conversation{
			PeerKey:       peerKey,
			UserA:         userA,
			UserB:         userB,
			LastMessageID: lastMessageID,
			LastMessageAt: at,
		}
		err = upsertConversation(s.db.WithContext(ctx), conv).Error
		if err == nil {
			return s.GetByPeerKey(ctx, peerKey)
		}
		if !isRetryableWriteErr(err) {
			return nil, err
		}
		log.WarnContext(ctx, "conversation upsert conflict, retrying", "peer_key", peerKey, "attempt", attempt, "err", err)
	}
	return nil, err
}

// upsertConversation INSERT ... ON DUPLICATE KEY UPDATE，last_message_* 只前进不后退
func upsertConversation(db *gorm.DB, conv *model.Conversation) *gorm.DB {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "peer_key"}},
		// MySQL 按顺序求值：先用旧的 last_message_at 判断 id，再推进时间
		DoUpdates: clause.Set{
			{
				Column: clause.Column{Name: "last_message_id"},
				Value:  gorm.Expr("IF(VALUES(last_message_at) >= last_message_at, VALUES(last_message_id), last_message_id)"),
			},
			{
				Column: clause.Column{Name: "last_message_at"},
				Value:  gorm.Expr("GREATEST(last_message_at, VALUES(last_message_at))"),
			},
			{
				Column: clause.Column{Name: "updated_at"},
				Value:  gorm.Expr("VALUES(updated_at)"),
			},
		},
	}).Create(conv)
}

// GetByPeerKey 未找到返回 nil, nil
func (s *conversationRepoImpl) GetByPeerKey(ctx context.Context, peerKey string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).Where("peer_key = ?", peerKey).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

// ListForUser 用户参与的全部会话，最近活跃的在前
func (s *conversationRepoImpl) ListForUser(ctx context.Context, userID uint64) ([]*model.Conversation, error) {
	convs := make([]*model.Conversation, 0)
	err := s.db.WithContext(ctx).
		Where("user_a = ? OR user_b = ?", userID, userID).
		Order("last_message_at DESC").
		Find(&convs).Error
	return convs, err
}

func (s *conversationRepoImpl) CountForUser(ctx context.Context, userID uint64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("user_a = ? OR user_b = ?", userID, userID).
		Count(&count).Error
	return count, err
}

// isRetryableWriteErr 唯一键冲突（并发首插）与死锁可以重试
func isRetryableWriteErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlErrDeadlock || mysqlErr.Number == mysqlErrLockWait
	}
	return false
}
