package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/usermigrator/internal/policy"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort     string
	AdminToken     string
	LoginRateLimit int // ログイン移行のクライアントごとの上限（req/min）

	// Provider
	ProviderID   string
	DefaultRealm string

	// Legacy API
	LegacyAPIURL     string
	LegacyAPIToken   string
	LegacyAPITimeout time.Duration
	LegacyAPIRPS     float64

	// Mapping policy
	PolicyFile string
	Policy     policy.ComponentConfig
	Mapping    *policy.MappingPolicy

	// Event bus
	EventBusDriver   string
	KafkaBrokers     []string
	EventTopic       string
	RedisAddr        string
	RedisPassword    string
	EventQueueSize   int
	EventSendTimeout time.Duration

	// Import
	ImportMaxConcurrent int
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または対応表が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.LegacyAPIURL = os.Getenv("LEGACY_API_URL")
	if cfg.LegacyAPIURL == "" {
		missing = append(missing, "LEGACY_API_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.AdminToken = getEnvString("ADMIN_TOKEN", "")
	cfg.LoginRateLimit = getEnvInt("LOGIN_RATE_LIMIT", 10)
	cfg.ProviderID = getEnvString("PROVIDER_ID", "legacy-user-provider")
	cfg.DefaultRealm = getEnvString("DEFAULT_REALM", "master")
	cfg.LegacyAPIToken = getEnvString("LEGACY_API_TOKEN", "")
	cfg.LegacyAPITimeout = getEnvDuration("LEGACY_API_TIMEOUT", 10*time.Second)
	cfg.LegacyAPIRPS = getEnvFloat("LEGACY_API_RPS", 20)
	cfg.PolicyFile = getEnvString("POLICY_FILE", "")
	cfg.EventBusDriver = getEnvString("EVENT_BUS_DRIVER", "kafka")
	cfg.KafkaBrokers = getEnvList("KAFKA_BROKERS", []string{"kafka.kafka.svc.cluster.local:9092"})
	cfg.EventTopic = getEnvString("EVENT_TOPIC", "migrateLegacyUserEvent")
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.EventQueueSize = getEnvInt("EVENT_QUEUE_SIZE", 1024)
	cfg.EventSendTimeout = getEnvDuration("EVENT_SEND_TIMEOUT", 5*time.Second)
	cfg.ImportMaxConcurrent = getEnvInt("IMPORT_MAX_CONCURRENT", 4)

	if err := cfg.loadPolicy(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadPolicy はPOLICY_FILEと環境変数から対応表を構築する。
// 同じプロパティが両方にある場合は環境変数を優先する。
func (c *Config) loadPolicy() error {
	base := policy.ComponentConfig{}
	if c.PolicyFile != "" {
		fileCfg, err := policy.LoadFile(c.PolicyFile)
		if err != nil {
			return err
		}
		base = fileCfg
	}

	c.Policy = policy.Merge(base, policy.FromEnv(os.Getenv))

	mapping, err := policy.NewMappingPolicy(c.Policy)
	if err != nil {
		return fmt.Errorf("invalid mapping policy: %w", err)
	}
	c.Mapping = mapping
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var values []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return defaultVal
	}
	return values
}
