package middleware

import (
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/redis"
	"Parley/internal/pkg/response"
	"Parley/internal/pkg/security"
	"context"
	"errors"
	log "log/slog"

	"github.com/gin-gonic/gin"
)

var (
	ErrTokenMissing = errors.New("Token 缺失或格式错误")
	ErrTokenInvalid = errors.New("Token 无效或已过期")
)

// TokenRevoked 账号服务登出时把签名写入 Redis，命中即视为吊销
var TokenRevoked = func(ctx context.Context, signature string) (bool, error) {
	value, err := redis.GetValue(ctx, signature)
	if err != nil {
		return false, err
	}
	return value != "", nil
}

// VerifyToken 校验签名、有效期与吊销状态
func VerifyToken(ctx context.Context, token string) (*security.UserClaims, error) {
	if token == "" {
		return nil, ErrTokenMissing
	}
	signature, err := security.ExtractSignature(token)
	if err != nil {
		return nil, ErrTokenMissing
	}
	claims, err := security.ValidateToken(token)
	if err != nil {
		log.DebugContext(ctx, "token rejected", "err", err)
		return nil, ErrTokenInvalid
	}
	revoked, err := TokenRevoked(ctx, signature)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// SetUser 把当前用户写入 gin.Context 与 request context
func SetUser(c *gin.Context, claims *security.UserClaims) {
	c.Set(consts.UserIDKey, claims.UserID)
	c.Set("roles", claims.Roles)

	newCtx := context.WithValue(c.Request.Context(), consts.UserIDKey, claims.UserID)
	c.Request = c.Request.WithContext(newCtx)
}

// AuthMiddleware 负责验证 JWT 并将用户身份信息注入 Context
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := security.BearerToken(c.GetHeader("Authorization"))
		claims, err := VerifyToken(c.Request.Context(), token)
		if err != nil {
			abortAuth(c, err)
			return
		}
		SetUser(c, claims)
		c.Next()
	}
}

func abortAuth(c *gin.Context, err error) {
	if errors.Is(err, ErrTokenMissing) || errors.Is(err, ErrTokenInvalid) {
		response.Abort(c, response.Unauthorized, err.Error())
		return
	}
	log.ErrorContext(c.Request.Context(), "token check failed", "err", err)
	response.Abort(c, response.InternalServerError, "未知错误")
}

// AbortUnauthorized 供不走中间件的入口（WebSocket 握手）复用
func AbortUnauthorized(c *gin.Context, err error) {
	abortAuth(c, err)
}
