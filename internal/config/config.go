package config

import (
	"os"
	"strconv"
	"time"
)

// Config hyphen-sync（B2B 健康数据同步服务）配置
type Config struct {
	HTTP struct {
		Addr string
	}
	Database DatabaseConfig
	Redis    struct {
		Enabled  bool
		Addr     string
		Password string
		DB       int
	}
	Log struct {
		Level  string
		Format string
	}
	Hyphen HyphenConfig
	Sync   SyncConfig
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// HyphenConfig HYPHEN（NHIS 数据网关）厂家服务配置
type HyphenConfig struct {
	HttpAddress string        // HYPHEN 网关地址
	ApiKey      string        // API Key
	Timeout     time.Duration // 单次请求超时
	RateLimit   float64       // 每秒请求数上限
	RateBurst   int           // 突发请求数
}

// SyncConfig 同步流程配置
type SyncConfig struct {
	CacheTTL  time.Duration // "有效"缓存条目的新鲜度窗口
	YearLimit int           // 明细抓取的默认年限
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}

func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "wellness")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "10"), 10)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Enabled = getEnv("REDIS_ENABLED", "true") == "true"
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	// HYPHEN 配置
	cfg.Hyphen.HttpAddress = getEnv("HYPHEN_HTTP_ADDRESS", "https://api.hyphen.im")
	cfg.Hyphen.ApiKey = getEnv("HYPHEN_API_KEY", "")
	cfg.Hyphen.Timeout = parseDuration(getEnv("HYPHEN_TIMEOUT", "30s"), 30*time.Second)
	cfg.Hyphen.RateLimit = parseFloat(getEnv("HYPHEN_RATE_LIMIT", "5"), 5)
	cfg.Hyphen.RateBurst = parseInt(getEnv("HYPHEN_RATE_BURST", "10"), 10)

	// 同步配置
	cfg.Sync.CacheTTL = parseDuration(getEnv("SYNC_CACHE_TTL", "6h"), 6*time.Hour)
	cfg.Sync.YearLimit = parseInt(getEnv("SYNC_YEAR_LIMIT", "3"), 3)

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseFloat(s string, def float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
