// Package config 提供 TOML 配置加载、环境变量覆盖与校验
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 服务配置
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 服务版本
	Version string `mapstructure:"version"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`
	// HTTP 服务配置
	HTTP HTTPConfig `mapstructure:"http"`
	// 数据库配置
	Database DatabaseConfig `mapstructure:"database"`
	// Redis 配置
	Redis RedisConfig `mapstructure:"redis"`
	// Kafka 配置
	Kafka KafkaConfig `mapstructure:"kafka"`
	// 日志配置
	Logger LoggerConfig `mapstructure:"logger"`
	// 指标配置
	Metrics MetricsConfig `mapstructure:"metrics"`
	// 限流配置
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	// 上游行情源配置
	Polygon PolygonConfig `mapstructure:"polygon"`
	// 行情业务配置
	Market MarketConfig `mapstructure:"market"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	// 监听地址
	Host string `mapstructure:"host"`
	// 监听端口
	Port int `mapstructure:"port"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
	// 路由前缀
	APIPrefix string `mapstructure:"api_prefix"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：postgres
	Driver string `mapstructure:"driver"`
	// 数据源名称
	DSN string `mapstructure:"dsn"`
	// 最大连接数
	MaxOpenConns int `mapstructure:"max_open_conns"`
	// 最大空闲连接数
	MaxIdleConns int `mapstructure:"max_idle_conns"`
	// 连接最大生命周期（秒）
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"`
	// 是否启用 SQL 日志
	LogEnabled bool `mapstructure:"log_enabled"`
	// 慢查询阈值（毫秒）
	SlowQueryThreshold int `mapstructure:"slow_query_threshold"`
	// 是否启用 TimescaleDB（time_bucket / hypertable）
	Timescale bool `mapstructure:"timescale"`
	// 启动时建表
	AutoMigrate bool `mapstructure:"auto_migrate"`
	// 后台刷新任务独立连接池大小
	SchedulerMaxOpenConns int `mapstructure:"scheduler_max_open_conns"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 主机地址
	Host string `mapstructure:"host"`
	// 端口
	Port int `mapstructure:"port"`
	// 密码
	Password string `mapstructure:"password"`
	// 数据库编号
	DB int `mapstructure:"db"`
	// 最大连接数
	MaxPoolSize int `mapstructure:"max_pool_size"`
	// 连接超时（秒）
	ConnTimeout int `mapstructure:"conn_timeout"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	// Broker 地址列表，为空时不发布事件
	Brokers []string `mapstructure:"brokers"`
	// 入库事件主题
	IngestTopic string `mapstructure:"ingest_topic"`
	// 最大重试次数
	MaxRetries int `mapstructure:"max_retries"`
	// 重试间隔（毫秒）
	RetryBackoff int `mapstructure:"retry_backoff"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	// 日志级别
	Level string `mapstructure:"level"`
	// 输出格式
	Format string `mapstructure:"format"`
	// 输出目标
	Output string `mapstructure:"output"`
	// 文件路径
	FilePath string `mapstructure:"file_path"`
	// 最大文件大小（MB）
	MaxSize int `mapstructure:"max_size"`
	// 最大备份文件数
	MaxBackups int `mapstructure:"max_backups"`
	// 最大保留天数
	MaxAge int `mapstructure:"max_age"`
	// 是否压缩
	Compress bool `mapstructure:"compress"`
	// 是否输出调用者信息
	WithCaller bool `mapstructure:"with_caller"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `mapstructure:"enabled"`
	// Prometheus 监听端口
	Port int `mapstructure:"port"`
	// 指标路径
	Path string `mapstructure:"path"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	QPS     int  `mapstructure:"qps"`
	Burst   int  `mapstructure:"burst"`
}

// PolygonConfig 上游行情源配置
type PolygonConfig struct {
	// API 地址
	BaseURL string `mapstructure:"base_url"`
	// API Key
	APIKey string `mapstructure:"api_key"`
	// 单次请求超时（秒）
	Timeout int `mapstructure:"timeout"`
	// 每分钟请求数上限，0 表示不限制
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	// 熔断：连续失败次数阈值
	BreakerFailures int `mapstructure:"breaker_failures"`
	// 熔断：打开状态持续时间（秒）
	BreakerOpenSeconds int `mapstructure:"breaker_open_seconds"`
}

// MarketConfig 行情业务配置
type MarketConfig struct {
	// 标的池
	Tickers []string `mapstructure:"tickers"`
	// 刷新间隔（分钟）
	UpdateIntervalMinutes int `mapstructure:"update_interval_minutes"`
	// 刷新异常后的退避时间（秒）
	RetryBackoffSeconds int `mapstructure:"retry_backoff_seconds"`
	// 读路径缓存 TTL（秒）
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
	// 热门标的标记 TTL（秒）
	FrequentTTLSeconds int `mapstructure:"frequent_ttl_seconds"`
	// 后台刷新写入快照的 TTL（秒）
	SnapshotRefreshTTLSeconds int `mapstructure:"snapshot_refresh_ttl_seconds"`
	// 入库模式：append（追加）或 replace（按时间窗口覆盖）
	IngestMode string `mapstructure:"ingest_mode"`
}

// UpdateInterval 刷新间隔
func (m MarketConfig) UpdateInterval() time.Duration {
	return time.Duration(m.UpdateIntervalMinutes) * time.Minute
}

// RetryBackoff 异常退避时间
func (m MarketConfig) RetryBackoff() time.Duration {
	return time.Duration(m.RetryBackoffSeconds) * time.Second
}

// CacheTTL 读路径缓存 TTL
func (m MarketConfig) CacheTTL() time.Duration {
	return time.Duration(m.CacheTTLSeconds) * time.Second
}

// FrequentTTL 热门标记 TTL
func (m MarketConfig) FrequentTTL() time.Duration {
	return time.Duration(m.FrequentTTLSeconds) * time.Second
}

// SnapshotRefreshTTL 后台刷新快照 TTL
func (m MarketConfig) SnapshotRefreshTTL() time.Duration {
	return time.Duration(m.SnapshotRefreshTTLSeconds) * time.Second
}

// Load 从 TOML 文件加载配置，支持环境变量覆盖；文件不存在时仅使用默认值与环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// 环境变量：APP_DATABASE_DSN -> database.dsn
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.Database.Driver != "postgres" {
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	if len(c.Market.Tickers) == 0 {
		return fmt.Errorf("market.tickers must not be empty")
	}
	for i, t := range c.Market.Tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || len(t) > 10 {
			return fmt.Errorf("invalid ticker %q", c.Market.Tickers[i])
		}
		c.Market.Tickers[i] = t
	}
	if c.Market.UpdateIntervalMinutes <= 0 {
		return fmt.Errorf("market.update_interval_minutes must be positive")
	}
	switch c.Market.IngestMode {
	case "append", "replace":
	default:
		return fmt.Errorf("invalid market.ingest_mode: %s", c.Market.IngestMode)
	}
	if c.Polygon.Timeout <= 0 {
		return fmt.Errorf("polygon.timeout must be positive")
	}
	return nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "marketdata")
	v.SetDefault("version", "0.1.0")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)
	v.SetDefault("http.api_prefix", "/api")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", 1000)
	v.SetDefault("database.timescale", true)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.scheduler_max_open_conns", 2)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_pool_size", 10)
	v.SetDefault("redis.conn_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.ingest_topic", "marketdata.bars.ingested")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/marketdata.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.qps", 50)
	v.SetDefault("rate_limit.burst", 100)

	v.SetDefault("polygon.base_url", "https://api.polygon.io")
	v.SetDefault("polygon.api_key", "")
	v.SetDefault("polygon.timeout", 10)
	v.SetDefault("polygon.requests_per_minute", 0)
	v.SetDefault("polygon.breaker_failures", 5)
	v.SetDefault("polygon.breaker_open_seconds", 60)

	v.SetDefault("market.tickers", []string{"AAPL", "MSFT", "GOOGL", "AMZN", "META"})
	v.SetDefault("market.update_interval_minutes", 60)
	v.SetDefault("market.retry_backoff_seconds", 300)
	v.SetDefault("market.cache_ttl_seconds", 3600)
	v.SetDefault("market.frequent_ttl_seconds", 3600)
	v.SetDefault("market.snapshot_refresh_ttl_seconds", 300)
	v.SetDefault("market.ingest_mode", "append")
}
