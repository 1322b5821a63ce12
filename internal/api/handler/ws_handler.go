package handler

import (
	"Parley/internal/api/middleware"
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/logger"
	"Parley/internal/pkg/redis"
	"Parley/internal/pkg/security"
	"Parley/internal/service"
	"context"
	log "log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Subscription Redis 订阅的最小接口，*redis.PubSub 满足
type Subscription interface {
	Channel(opts ...goredis.ChannelOption) <-chan *goredis.Message
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Close() error
}

// Subscriber 建立订阅并等待服务端确认
type Subscriber func(ctx context.Context, channels ...string) (Subscription, error)

// RedisSubscriber 默认订阅实现
func RedisSubscriber(ctx context.Context, channels ...string) (Subscription, error) {
	pubsub := redis.Subscribe(ctx, channels...)
	// 确认订阅生效后再登记在线，避免丢失上线瞬间的推送
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	return pubsub, nil
}

// Presence 连接生命周期登记
type Presence interface {
	Connect(ctx context.Context, userID uint64) bool
	Disconnect(ctx context.Context, userID uint64) bool
}

type WsHandler struct {
	imService service.IMService
	presence  Presence
	subscribe Subscriber
}

func NewWsHandler(im service.IMService, presence Presence, subscribe Subscriber) *WsHandler {
	return &WsHandler{
		imService: im,
		presence:  presence,
		subscribe: subscribe,
	}
}

// wsToken 依次从 Authorization、token 查询参数、Sec-WebSocket-Protocol 中取 token；
// 浏览器无法自定义握手头，后两种用于前端
func wsToken(r *http.Request) (token string, protocol string) {
	if token = security.BearerToken(r.Header.Get("Authorization")); token != "" {
		return token, ""
	}
	if token = r.URL.Query().Get("token"); token != "" {
		return token, ""
	}
	for _, p := range websocket.Subprotocols(r) {
		p = strings.TrimSpace(p)
		if strings.Count(p, ".") == 2 {
			return p, p
		}
	}
	return "", ""
}

func (s *WsHandler) Connect(c *gin.Context) {
	// 鉴权在升级之前完成，失败不会触碰在线登记
	token, protocol := wsToken(c.Request)
	claims, err := middleware.VerifyToken(c.Request.Context(), token)
	if err != nil {
		log.WarnContext(c.Request.Context(), "WS 鉴权失败", "err", err)
		middleware.AbortUnauthorized(c, err)
		return
	}
	middleware.SetUser(c, claims)
	userID := claims.UserID

	header := http.Header{}
	if protocol != "" {
		header.Set("Sec-WebSocket-Protocol", protocol)
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		log.ErrorContext(c.Request.Context(), "WS 协议升级失败", "err", err)
		return
	}

	// 连接寿命长于请求，沿用握手的 trace_id 但脱离请求 context
	base := logger.NewTraceContext("ws")
	if traceID := logger.TraceID(c.Request.Context()); traceID != "" {
		base = logger.WithTraceID(context.Background(), traceID)
	}
	ctx, cancel := context.WithCancel(base)
	defer cancel()
	ctx = context.WithValue(ctx, consts.UserIDKey, userID)

	sub, err := s.subscribe(ctx, service.UserChannel(userID), consts.IMPresenceKey)
	if err != nil {
		log.ErrorContext(ctx, "WS 订阅失败", "user_id", userID, "err", err)
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"))
		_ = conn.Close()
		return
	}

	session := newWsSession(ctx, userID, conn, sub, s.imService)
	s.presence.Connect(ctx, userID)
	log.InfoContext(ctx, "用户 WS 连接已建立", "user_id", userID)

	session.run()

	s.presence.Disconnect(ctx, userID)
	log.InfoContext(ctx, "用户 WS 连接已断开", "user_id", userID)
}
