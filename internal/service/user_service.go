package service

import (
	"Parley/internal/api/dto"
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/redis"
	"Parley/internal/repository"
	"context"
	log "log/slog"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/jinzhu/copier"
)

const userSimpleInfoTTL = 10 * time.Minute

// UserService 用户展示信息查询，供消息、通知、会话列表填充发送者/接收者信息
type UserService interface {
	GetUserSimpleInfoByIds(ctx context.Context, ids []uint64) (map[uint64]*dto.UserSimpleDTO, error)
}

// kvCache 缓存读写，默认落到 Redis
type kvCache interface {
	GetValue(ctx context.Context, key string) (string, error)
	SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

type redisCache struct{}

func (redisCache) GetValue(ctx context.Context, key string) (string, error) {
	return redis.GetValue(ctx, key)
}

func (redisCache) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return redis.SetWithExpiration(ctx, key, value, expiration)
}

type UserServiceImpl struct {
	userRepo repository.UserRepo
	cache    kvCache
}

func NewUserService(userRepo repository.UserRepo) UserService {
	return &UserServiceImpl{
		userRepo: userRepo,
		cache:    redisCache{},
	}
}

func userSimpleInfoKey(id uint64) string {
	return consts.UserSimpleInfoKey + strconv.FormatUint(id, 10)
}

// GetUserSimpleInfoByIds 先查缓存，未命中的批量回源 MySQL 再写回缓存；不存在的用户不出现在结果里
func (s *UserServiceImpl) GetUserSimpleInfoByIds(ctx context.Context, ids []uint64) (map[uint64]*dto.UserSimpleDTO, error) {
	mp := make(map[uint64]*dto.UserSimpleDTO, len(ids))
	newIds := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, seen := mp[id]; seen {
			continue
		}
		value, err := s.cache.GetValue(ctx, userSimpleInfoKey(id))
		if err != nil {
			// 缓存故障降级到数据库
			log.WarnContext(ctx, "user cache read failed", "user_id", id, "err", err)
			newIds = append(newIds, id)
			continue
		}
		if value == "" {
			newIds = append(newIds, id)
			continue
		}
		var userDTO dto.UserSimpleDTO
		if err = json.Unmarshal([]byte(value), &userDTO); err != nil {
			newIds = append(newIds, id)
			continue
		}
		mp[id] = &userDTO
	}
	if len(newIds) == 0 {
		return mp, nil
	}

	users, err := s.userRepo.GetUserSimpleInfoByIds(ctx, newIds)
	if err != nil {
		return nil, storeErr(err)
	}
	for _, user := range users {
		userDTO := &dto.UserSimpleDTO{}
		if err = copier.Copy(userDTO, user); err != nil {
			return nil, err
		}
		userDTO.UserID = user.ID
		if user.Username != nil {
			userDTO.Username = *user.Username
		}
		userDTO.DisplayName = user.DisplayName()
		mp[user.ID] = userDTO

		jsonStr, err := json.Marshal(userDTO)
		if err != nil {
			return nil, err
		}
		if err = s.cache.SetWithExpiration(ctx, userSimpleInfoKey(user.ID), string(jsonStr), userSimpleInfoTTL); err != nil {
			log.WarnContext(ctx, "user cache write failed", "user_id", user.ID, "err", err)
		}
	}
	return mp, nil
}
