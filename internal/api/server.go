package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"marketplace-report-proxy/internal/config"
	"marketplace-report-proxy/internal/marketplace"
)

// RateLimiter 按客户端键判断是否放行
type RateLimiter interface {
	Admit(key string, now time.Time) bool
}

// Forwarder 上游报表接口
type Forwarder interface {
	Fetch(ctx context.Context, report marketplace.Report, query marketplace.Query) (marketplace.Response, error)
}

const forwardedForHeader = "X-Forwarded-For"

// reportPaths 共用同一个处理函数，报表类型由路径后缀决定
var reportPaths = []string{"/orders", "/settlements"}

// Server HTTP 服务封装
type Server struct {
	cfg      config.Config
	upstream Forwarder
	limiter  RateLimiter
	logger   *zap.Logger
	engine   *gin.Engine
	now      func() time.Time
}

func NewServer(cfg config.Config, upstream Forwarder, limiter RateLimiter, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	if logger == nil {
		logger = zap.NewNop()
	}

	server := &Server{
		cfg:      cfg,
		upstream: upstream,
		limiter:  limiter,
		logger:   logger,
		engine:   gin.New(),
		now:      time.Now,
	}

	server.engine.HandleMethodNotAllowed = true
	server.configureClientIP()
	server.engine.Use(requestID(), server.accessLog(), server.recovery())
	server.registerRoutes()

	return server
}

// Handler 暴露底层 engine，便于测试
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run 监听端口直到 ctx 取消，随后优雅退出
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.cfg.UpstreamTimeout + 15*time.Second,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("收到退出信号，开始关闭服务")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// configureClientIP 只解析 X-Forwarded-For；非法 IP 会被 gin 忽略并回退到连接地址
func (s *Server) configureClientIP() {
	s.engine.ForwardedByClientIP = s.cfg.TrustForwardedFor
	s.engine.RemoteIPHeaders = []string{forwardedForHeader}
	if !s.cfg.TrustForwardedFor || len(s.cfg.TrustedProxies) == 0 {
		return
	}
	if err := s.engine.SetTrustedProxies(s.cfg.TrustedProxies); err != nil {
		s.logger.Warn("可信代理配置无效，不再采信 X-Forwarded-For",
			zap.Strings("trusted_proxies", s.cfg.TrustedProxies),
			zap.Error(err),
		)
		s.engine.ForwardedByClientIP = false
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC().Format(time.RFC3339)})
	})

	reports := s.engine.Group(s.cfg.BasePath, s.gateChain()...)
	for _, path := range reportPaths {
		reports.GET(path, s.handleReport)
	}

	s.engine.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, msgNotFound)
	})
	s.engine.NoMethod(func(c *gin.Context) {
		writeError(c, http.StatusMethodNotAllowed, msgMethodNotAllowed)
	})
}

func (s *Server) handleReport(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		writeError(c, http.StatusBadRequest, msgMissingDates)
		return
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		var typed apiError
		if errors.As(err, &typed) {
			writeError(c, typed.Code, typed.Message)
			return
		}
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	report := marketplace.ReportForPath(c.Request.URL.Path)
	resp, err := s.upstream.Fetch(c.Request.Context(), report, req.Query())
	if err != nil {
		s.logger.Error("上游请求失败",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("report", string(report)),
			zap.Error(err),
		)
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}

	c.Data(resp.StatusCode, relayContentType(resp), resp.Body)
}

// relayContentType 成功时固定为 JSON；失败时沿用上游类型（如 HTML 错误页）
func relayContentType(resp marketplace.Response) string {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return "application/json"
	}
	if resp.ContentType != "" {
		return resp.ContentType
	}
	return "application/json"
}

func writeError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{
		"error": message,
	})
}
