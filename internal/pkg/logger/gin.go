package logger

import (
	"Parley/internal/api/config"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

// SetupGin 注册访问日志（与 slog 同结构的 JSON 行）与 Recovery
func SetupGin(r *gin.Engine) {
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Output: LogWriter,
		SkipPaths: []string{
			"/api/ping",
		},
		Formatter: func(p gin.LogFormatterParams) string {
			var traceID string
			if p.Keys != nil {
				if id, ok := p.Keys[TraceIDKey].(string); ok {
					traceID = id
				}
			}
			if traceID == "" && p.Request != nil {
				traceID = TraceID(p.Request.Context())
			}

			var index, token string
			if config.Cfg != nil {
				index = config.Cfg.Logstash.Index
				token = config.Cfg.Logstash.Token
			}

			return fmt.Sprintf(
				`{"time":"%s","level":"INFO","msg":"GIN_ACCESS","trace_id":"%s","log_token":"%s","target_index":"%s","method":"%s","path":"%s","status":%d,"latency":"%v","user_id":%d}`+"\n",
				p.TimeStamp.Format(time.RFC3339),
				traceID,
				token,
				index,
				p.Method,
				p.Path,
				p.StatusCode,
				p.Latency,
				userIDFromKeys(p.Keys),
			)
		},
	}))

	r.Use(gin.Recovery())
}

func userIDFromKeys(keys map[any]any) uint64 {
	if keys == nil {
		return 0
	}
	id, _ := keys["user_id"].(uint64)
	return id
}
