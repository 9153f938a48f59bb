package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Gateway  GatewayConfig
	Dispense DispenseConfig
	Admin    AdminConfig
	Loyalty  LoyaltyConfig
	Firebase FirebaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
	Issuer       string
}

// GatewayConfig points at the card-payment gateway. Currency is the ISO code charges are
// made in; amounts are always sent with 3 decimal places.
type GatewayConfig struct {
	BaseURL       string
	SecretKey     string
	Currency      string
	WebhookSecret string
	Timeout       time.Duration
	// RedirectURL is required by the gateway for 3DS flows even when unused.
	RedirectURL string
}

type DispenseConfig struct {
	WebhookSecret string
}

// AdminConfig guards the ops endpoints. An empty APIKey disables them.
type AdminConfig struct {
	APIKey string
}

// LoyaltyConfig holds the point economics. PointValue is the currency value of one point;
// BaseRate is points earned per currency unit spent.
type LoyaltyConfig struct {
	PointValue            decimal.Decimal
	BaseRate              decimal.Decimal
	HealthyMultiplier     decimal.Decimal
	HealthyRating         int
	LowHealthRating       int
	LowHealthMultiplier   decimal.Decimal
	ReferralInviterPoints int64
	ReferralInvitedPoints int64
}

type FirebaseConfig struct {
	ServiceAccountPath string
}

type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	MachineNameTTL time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

func Load() *Config {
	_ = godotenv.Load()
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8099"),
			Env:          getEnv("APP_ENV", "development"),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:             getEnv("DATABASE_DSN", "vendpay:vendpay@tcp(localhost:3306)/vendpay?charset=utf8mb4&parseTime=True&loc=Local"),
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: time.Hour,
		},
		JWT: JWTConfig{
			AccessSecret: getEnv("JWT_ACCESS_SECRET", "change-me-in-production"),
			AccessExpiry: 15 * time.Minute,
			Issuer:       "vendpay",
		},
		Gateway: GatewayConfig{
			BaseURL:       getEnv("GATEWAY_BASE_URL", "https://api.tap.company/v2"),
			SecretKey:     getEnv("GATEWAY_SECRET_KEY", ""),
			Currency:      getEnv("GATEWAY_CURRENCY", "KWD"),
			WebhookSecret: getEnv("GATEWAY_WEBHOOK_SECRET", ""),
			Timeout:       getEnvDuration("GATEWAY_TIMEOUT", 30*time.Second),
			RedirectURL:   getEnv("GATEWAY_REDIRECT_URL", "https://vendpay.local/payments/return"),
		},
		Dispense: DispenseConfig{
			WebhookSecret: getEnv("DISPENSE_WEBHOOK_SECRET", ""),
		},
		Admin: AdminConfig{
			APIKey: getEnv("ADMIN_API_KEY", ""),
		},
		Loyalty: LoyaltyConfig{
			PointValue:            getEnvDecimal("LOYALTY_POINT_VALUE", decimal.RequireFromString("0.001")),
			BaseRate:              getEnvDecimal("LOYALTY_BASE_RATE", decimal.NewFromInt(10)),
			HealthyMultiplier:     decimal.RequireFromString("1.5"),
			HealthyRating:         3,
			LowHealthRating:       1,
			LowHealthMultiplier:   decimal.NewFromInt(1),
			ReferralInviterPoints: int64(getEnvInt("LOYALTY_REFERRAL_INVITER_POINTS", 500)),
			ReferralInvitedPoints: int64(getEnvInt("LOYALTY_REFERRAL_INVITED_POINTS", 250)),
		},
		Firebase: FirebaseConfig{
			ServiceAccountPath: getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		},
		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", ""),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvInt("REDIS_DB", 0),
			MachineNameTTL: time.Hour,
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnv("KAFKA_BROKERS", "")),
			Topic:   getEnv("KAFKA_TOPIC", "vendpay.payments"),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	d, err := decimal.NewFromString(os.Getenv(key))
	if err != nil || !d.IsPositive() {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
