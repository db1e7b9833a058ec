package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"marketplace-report-proxy/internal/api"
	"marketplace-report-proxy/internal/config"
	"marketplace-report-proxy/internal/logging"
	"marketplace-report-proxy/internal/marketplace"
	"marketplace-report-proxy/internal/security"
)

func newRootCommand() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "marketplace-proxy",
		Short:         "Trendyol 报表反向代理",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), v)
		},
	}

	flags := root.PersistentFlags()
	flags.String("env-file", ".env", "启动前加载的 env 文件，不存在时忽略")
	flags.String("port", "", "监听端口，覆盖 PORT")
	flags.String("log-level", "", "日志级别，覆盖 LOG_LEVEL")

	_ = v.BindPFlag("env_file", flags.Lookup("env-file"))
	_ = v.BindPFlag("port", flags.Lookup("port"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "启动代理服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), v)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "打印版本信息",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "marketplace-proxy %s (commit %s, built %s, %s)\n",
				version, commit, buildDate, runtime.Version())
		},
	})

	return root
}

func runServe(parent context.Context, v *viper.Viper) error {
	if parent == nil {
		parent = context.Background()
	}

	if err := config.LoadEnvFile(v.GetString("env_file")); err != nil {
		return err
	}

	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("配置加载失败: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("日志初始化失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	warnMissingCredentials(logger, cfg)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	memory := security.NewSlidingWindowLimiter(cfg.RateLimit, cfg.RateWindow)
	memory.StartJanitor(ctx, cfg.LimiterSweepInterval, func(removed int) {
		logger.Debug("清理空闲客户端", zap.Int("removed", removed), zap.Int("tracked", memory.Len()))
	})

	var limiter api.RateLimiter = memory
	if redisClient := connectRedis(ctx, cfg, logger); redisClient != nil {
		defer redisClient.Close()
		shared := security.NewRedisSlidingWindowLimiter(redisClient, cfg.RedisKeyPrefix, memory)
		shared.OnError(func(err error) {
			logger.Warn("Redis 限流失败，本次回退到内存", zap.Error(err))
		})
		limiter = shared
	}

	upstream := marketplace.NewClient(marketplace.Options{
		BaseURL:    cfg.UpstreamBaseURL,
		SupplierID: cfg.SupplierID,
		APIKey:     cfg.APIKey,
		APISecret:  cfg.APISecret,
		UserAgent:  cfg.UpstreamUserAgent,
		Timeout:    cfg.UpstreamTimeout,
		RPS:        cfg.UpstreamRPS,
		Burst:      cfg.UpstreamBurst,
	})

	srv := api.NewServer(cfg, upstream, limiter, logger)

	logger.Info("Marketplace Proxy 启动",
		zap.String("addr", ":"+cfg.Port),
		zap.String("base_path", cfg.BasePath),
		zap.Int("rate_limit", cfg.RateLimit),
		zap.Duration("rate_window", cfg.RateWindow),
		zap.Bool("rate_limit_before_auth", cfg.RateLimitBeforeAuth),
		zap.String("version", version),
	)
	if err := srv.Run(ctx); err != nil {
		logger.Error("服务异常退出", zap.Error(err))
		return err
	}
	logger.Info("服务已停止")
	return nil
}

// warnMissingCredentials 缺失凭据只告警，不阻止启动
func warnMissingCredentials(logger *zap.Logger, cfg config.Config) {
	if missing := cfg.MissingCredentials(); len(missing) > 0 {
		logger.Warn("缺少必要配置，相关请求将失败", zap.String("missing", strings.Join(missing, ", ")))
	}
}

// connectRedis 未配置或连接失败时返回 nil，调用方使用内存限流
func connectRedis(ctx context.Context, cfg config.Config, logger *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redis 连接失败，回退到内存限流", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		_ = client.Close()
		return nil
	}

	logger.Info("Redis 已连接，启用全局限流", zap.String("addr", cfg.RedisAddr))
	return client
}
