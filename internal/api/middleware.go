package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketplace-report-proxy/internal/security"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	clientKeyKey    = "client_key"
	unknownClient   = "unknown"
)

// requestID 复用客户端传入的 X-Request-ID，否则生成 UUID
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		clientKey := c.GetString(clientKeyKey)
		if clientKey == "" {
			clientKey = clientKeyOf(c)
		}

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client", clientKey),
		}

		switch {
		case status >= http.StatusInternalServerError:
			s.logger.Error("请求完成", fields...)
		case status >= http.StatusBadRequest:
			s.logger.Warn("请求完成", fields...)
		default:
			s.logger.Info("请求完成", fields...)
		}
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				s.logger.Error("处理请求时发生 panic",
					zap.String("request_id", c.GetString(requestIDKey)),
					zap.Any("panic", recovered),
					zap.Stack("stack"),
				)
				writeError(c, http.StatusInternalServerError, msgInternal)
			}
		}()
		c.Next()
	}
}

// authorize 校验共享密钥
func (s *Server) authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		supplied := security.SuppliedKey(c.Request, s.cfg.AllowQueryKey)
		if !security.Authorize(supplied, s.cfg.ProxyKey) {
			writeError(c, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		c.Next()
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := clientKeyOf(c)
		c.Set(clientKeyKey, key)

		if !s.limiter.Admit(key, s.now()) {
			writeError(c, http.StatusTooManyRequests, msgTooManyRequests)
			return
		}
		c.Next()
	}
}

// clientKeyOf 限流维度；是否采信 X-Forwarded-For 由 engine 的可信代理配置决定
func clientKeyOf(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return unknownClient
}

// gateChain 默认先鉴权再限流，未授权流量不消耗合法调用方的配额
func (s *Server) gateChain() []gin.HandlerFunc {
	if s.cfg.RateLimitBeforeAuth {
		return []gin.HandlerFunc{s.rateLimit(), s.authorize()}
	}
	return []gin.HandlerFunc{s.authorize(), s.rateLimit()}
}
