package middleware

import (
	"Parley/internal/pkg/consts"
	"bytes"
	"io"
	log "log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
)

const auditBodyLimit = 16384

type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (r *responseBodyWriter) Write(b []byte) (int, error) {
	if r.body.Len() < auditBodyLimit {
		r.body.Write(b)
	}
	return r.ResponseWriter.Write(b)
}

func (r *responseBodyWriter) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// auditQuery 解码查询串并隐去 token，WS 客户端会把 JWT 放在 ?token= 里
func auditQuery(raw string) string {
	values, err := url.ParseQuery(raw)
	if err != nil {
		if decoded, err := url.QueryUnescape(raw); err == nil {
			return decoded
		}
		return raw
	}
	if values.Has("token") {
		values.Set("token", "***")
	}
	decoded, err := url.QueryUnescape(values.Encode())
	if err != nil {
		return raw
	}
	return decoded
}

// AuditMiddleware 记录请求与响应体；WebSocket 握手不记录响应，避免包装 Hijacker
func AuditMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if c.IsWebsocket() {
			log.InfoContext(ctx, "Recv WebSocket Handshake",
				log.String("path", c.Request.URL.Path),
				log.String("query", auditQuery(c.Request.URL.RawQuery)),
			)
			c.Next()
			return
		}

		var reqBody []byte
		if c.Request.Body != nil {
			reqBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(reqBody))
		}

		log.InfoContext(ctx, "Recv Request",
			log.String("method", c.Request.Method),
			log.String("path", c.Request.URL.Path),
			log.String("query", auditQuery(c.Request.URL.RawQuery)),
			log.String("req_body", string(reqBody)),
		)

		w := &responseBodyWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
		c.Writer = w
		startTime := time.Now()

		c.Next()

		log.InfoContext(ctx, "Send Response",
			log.Uint64("user_id", c.GetUint64(consts.UserIDKey)),
			log.Int("status", c.Writer.Status()),
			log.Duration("latency", time.Since(startTime)),
			log.String("res_body", w.body.String()),
		)
	}
}
