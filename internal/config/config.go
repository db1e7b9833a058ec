package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	minRateWindow      = time.Millisecond
	minUpstreamTimeout = 100 * time.Millisecond
)

// Config 运行时配置
type Config struct {
	Port     string
	BasePath string
	LogLevel string

	ProxyKey   string
	SupplierID string
	APIKey     string
	APISecret  string

	RateWindow           time.Duration
	RateLimit            int
	RateLimitBeforeAuth  bool
	AllowQueryKey        bool
	TrustForwardedFor    bool
	TrustedProxies       []string
	LimiterSweepInterval time.Duration

	UpstreamBaseURL   string
	UpstreamTimeout   time.Duration
	UpstreamUserAgent string
	UpstreamRPS       float64
	UpstreamBurst     int

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
}

// SetDefaults 注册所有配置项的默认值，键名与环境变量一致（小写）。
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("base_path", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("rate_window", "15s")
	v.SetDefault("rate_limit", 20)
	v.SetDefault("rate_limit_before_auth", false)
	v.SetDefault("allow_query_key", false)
	v.SetDefault("trust_forwarded_for", true)
	v.SetDefault("trusted_proxies", "")
	v.SetDefault("limiter_sweep_interval", "1m")

	v.SetDefault("upstream_base_url", "https://api.trendyol.com/sapigw")
	v.SetDefault("upstream_timeout", "15s")
	v.SetDefault("upstream_user_agent", "trendyol-proxy/1.0 (+https://vercel.com)")
	v.SetDefault("upstream_rps", 0.0)
	v.SetDefault("upstream_burst", 1)

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_key_prefix", "marketplace-proxy")
}

// Load 从环境变量（以及已绑定的命令行参数）加载配置
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.AutomaticEnv()

	rateWindow, err := durationValue(v, "rate_window")
	if err != nil {
		return Config{}, err
	}
	sweepInterval, err := durationValue(v, "limiter_sweep_interval")
	if err != nil {
		return Config{}, err
	}
	upstreamTimeout, err := durationValue(v, "upstream_timeout")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:     strings.TrimSpace(v.GetString("port")),
		BasePath: normalizeBasePath(v.GetString("base_path")),
		LogLevel: strings.ToLower(strings.TrimSpace(v.GetString("log_level"))),

		ProxyKey:   v.GetString("proxy_key"),
		SupplierID: strings.TrimSpace(v.GetString("supplier_id")),
		APIKey:     v.GetString("api_key"),
		APISecret:  v.GetString("api_secret"),

		RateWindow:           rateWindow,
		RateLimit:            v.GetInt("rate_limit"),
		RateLimitBeforeAuth:  v.GetBool("rate_limit_before_auth"),
		AllowQueryKey:        v.GetBool("allow_query_key"),
		TrustForwardedFor:    v.GetBool("trust_forwarded_for"),
		TrustedProxies:       splitList(v.GetString("trusted_proxies")),
		LimiterSweepInterval: sweepInterval,

		UpstreamBaseURL:   strings.TrimRight(strings.TrimSpace(v.GetString("upstream_base_url")), "/"),
		UpstreamTimeout:   upstreamTimeout,
		UpstreamUserAgent: v.GetString("upstream_user_agent"),
		UpstreamRPS:       v.GetFloat64("upstream_rps"),
		UpstreamBurst:     v.GetInt("upstream_burst"),

		RedisAddr:      strings.TrimSpace(v.GetString("redis_addr")),
		RedisPassword:  v.GetString("redis_password"),
		RedisDB:        v.GetInt("redis_db"),
		RedisKeyPrefix: v.GetString("redis_key_prefix"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadEnvFile 读取 .env 文件，文件不存在时静默跳过；已存在的环境变量不会被覆盖。
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("读取 env 文件 %s 失败: %w", path, err)
	}
	return nil
}

// MissingCredentials 返回未配置的必填项；缺失只告警，不阻止启动。
func (c Config) MissingCredentials() []string {
	var missing []string
	if c.ProxyKey == "" {
		missing = append(missing, "PROXY_KEY")
	}
	if c.SupplierID == "" {
		missing = append(missing, "SUPPLIER_ID")
	}
	if c.APIKey == "" {
		missing = append(missing, "API_KEY")
	}
	if c.APISecret == "" {
		missing = append(missing, "API_SECRET")
	}
	return missing
}

func (c Config) validate() error {
	if c.Port == "" {
		return errors.New("PORT 不能为空")
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT 必须大于 0，实际 %d", c.RateLimit)
	}
	if c.RateWindow < minRateWindow {
		return fmt.Errorf("RATE_WINDOW 不能小于 %s，实际 %s", minRateWindow, c.RateWindow)
	}
	if c.UpstreamTimeout < minUpstreamTimeout {
		return fmt.Errorf("UPSTREAM_TIMEOUT 不能小于 %s，实际 %s", minUpstreamTimeout, c.UpstreamTimeout)
	}
	if c.LimiterSweepInterval < 0 {
		return fmt.Errorf("LIMITER_SWEEP_INTERVAL 不能为负数，实际 %s", c.LimiterSweepInterval)
	}
	for _, proxy := range c.TrustedProxies {
		if !validProxy(proxy) {
			return fmt.Errorf("TRUSTED_PROXIES 包含无效地址 %q", proxy)
		}
	}
	if c.UpstreamRPS < 0 {
		return fmt.Errorf("UPSTREAM_RPS 不能为负数，实际 %v", c.UpstreamRPS)
	}
	if c.UpstreamBaseURL == "" {
		return errors.New("UPSTREAM_BASE_URL 不能为空")
	}
	return nil
}

// durationValue 纯数字按毫秒解析，其余按 Go duration 语法（如 15s、1m）解析
func durationValue(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, nil
	}
	if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(millis) * time.Millisecond, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s 格式无效 %q: %w", strings.ToUpper(key), raw, err)
	}
	return parsed, nil
}

func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

func validProxy(proxy string) bool {
	if net.ParseIP(proxy) != nil {
		return true
	}
	_, _, err := net.ParseCIDR(proxy)
	return err == nil
}

func normalizeBasePath(raw string) string {
	trimmed := strings.Trim(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return ""
	}
	return "/" + trimmed
}
