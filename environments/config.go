package environments

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Valkey   ValkeyConfig
	Gateway  GatewayConfig
	Metrics  MetricsConfig
	Guard    GuardConfig
	Safety   SafetyConfig
	Dispatch DispatchConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

type ValkeyConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// GatewayConfig points at the outbound message gateway (the Sender).
type GatewayConfig struct {
	URL     string
	AuthKey string
	Timeout time.Duration
}

// MetricsConfig points at the per-account metrics source that feeds the
// safety monitor. Leave URL empty to disable polling.
type MetricsConfig struct {
	URL     string
	AuthKey string
	Timeout time.Duration
}

type GuardConfig struct {
	MinBalanceCents       int64
	LowBalanceCents       int64
	LowQuotaThreshold     int64
	CampaignMaxRecipients int
	MaxContentLength      int
	MaxTemplateVars       int
	IdempotencyTTL        time.Duration
	SuppressionWindow     time.Duration
}

type SafetyConfig struct {
	PollInterval time.Duration
	PauseTTL     time.Duration
	ThrottleTTL  time.Duration
	SuspendTTL   time.Duration
	BanTTL       time.Duration
}

type DispatchConfig struct {
	SendTimeout     time.Duration
	ThrottledDelays bool
	// DefaultUnitPriceCents seeds the platform-default price row for every
	// message kind on startup. Negative disables seeding.
	DefaultUnitPriceCents int64
}

type AuthConfig struct {
	DispatchAPIKey string
	AdminAPIKey    string
}

func Load() *Config {
	// Optional .env for local development; real env vars always win.
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port: GetEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     GetEnv("DB_HOST", "localhost"),
			Port:     GetEnv("DB_PORT", "3306"),
			User:     GetEnv("DB_USER", "dispatch"),
			Password: GetEnv("DB_PASSWORD", "dispatch123"),
			DBName:   GetEnv("DB_NAME", "dispatch_guard"),
		},
		Valkey: ValkeyConfig{
			Host:     GetEnv("VALKEY_HOST", "localhost"),
			Port:     GetEnv("VALKEY_PORT", "6379"),
			Password: GetEnv("VALKEY_PASSWORD", ""),
			DB:       GetEnvAsInt("VALKEY_DB", 0),
		},
		Gateway: GatewayConfig{
			URL:     GetEnv("GATEWAY_URL", "http://localhost:9090/v1/messages"),
			AuthKey: GetEnv("GATEWAY_AUTH_KEY", ""),
			Timeout: time.Duration(GetEnvAsInt("GATEWAY_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Metrics: MetricsConfig{
			URL:     GetEnv("METRICS_URL", ""),
			AuthKey: GetEnv("METRICS_AUTH_KEY", ""),
			Timeout: time.Duration(GetEnvAsInt("METRICS_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Guard: GuardConfig{
			MinBalanceCents:       GetEnvAsInt64("GUARD_MIN_BALANCE_CENTS", 0),
			LowBalanceCents:       GetEnvAsInt64("GUARD_LOW_BALANCE_CENTS", 1000),
			LowQuotaThreshold:     GetEnvAsInt64("GUARD_LOW_QUOTA_THRESHOLD", 100),
			CampaignMaxRecipients: GetEnvAsInt("GUARD_CAMPAIGN_MAX_RECIPIENTS", 1000),
			MaxContentLength:      GetEnvAsInt("GUARD_MAX_CONTENT_LENGTH", 1024),
			MaxTemplateVars:       GetEnvAsInt("GUARD_MAX_TEMPLATE_VARS", 5),
			IdempotencyTTL:        GetEnvAsDuration("GUARD_IDEMPOTENCY_TTL", 24*time.Hour),
			SuppressionWindow:     GetEnvAsDuration("GUARD_SUPPRESSION_WINDOW", 24*time.Hour),
		},
		Safety: SafetyConfig{
			PollInterval: GetEnvAsDuration("SAFETY_POLL_INTERVAL", 5*time.Minute),
			PauseTTL:     GetEnvAsDuration("SAFETY_PAUSE_TTL", 30*time.Minute),
			ThrottleTTL:  GetEnvAsDuration("SAFETY_THROTTLE_TTL", time.Hour),
			SuspendTTL:   GetEnvAsDuration("SAFETY_SUSPEND_TTL", 24*time.Hour),
			BanTTL:       GetEnvAsDuration("SAFETY_BAN_TTL", 30*24*time.Hour),
		},
		Dispatch: DispatchConfig{
			SendTimeout:           GetEnvAsDuration("DISPATCH_SEND_TIMEOUT", 30*time.Second),
			ThrottledDelays:       GetEnvAsBool("DISPATCH_THROTTLED_DELAYS", true),
			DefaultUnitPriceCents: GetEnvAsInt64("DEFAULT_UNIT_PRICE_CENTS", -1),
		},
		Auth: AuthConfig{
			DispatchAPIKey: GetEnv("DISPATCH_API_KEY", ""),
			AdminAPIKey:    GetEnv("ADMIN_API_KEY", ""),
		},
	}
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
