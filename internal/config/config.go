package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

type Config struct {
	Server    ServerConfig
	Logger    LoggerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Auth      AuthConfig
	Inventory InventoryConfig
	Billing   BillingConfig
	Reporting ReportingConfig
}

type ServerConfig struct {
	AppEnv        string
	Port          string
	AllowedOrigin string
}

type LoggerConfig struct {
	Level    string
	Encoding string
}

type DatabaseConfig struct {
	Driver        string
	URL           string
	SQLitePath    string
	MongoURI      string
	MongoDatabase string
	Seed          bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers    []string
	BillsTopic string
}

type AuthConfig struct {
	Secret                string
	AccessTokenTTLMinutes int
	AdminPIN              string
	OTPTTLMinutes         int
}

type InventoryConfig struct {
	LowStockThreshold int
}

type BillingConfig struct {
	CheckoutTimeout time.Duration
}

type ReportingConfig struct {
	AnalyticsTTL time.Duration
}

func Load() Config {
	appEnv := getEnv("APP_ENV", "development")
	encoding := "console"
	if appEnv == "production" {
		encoding = "json"
	}

	return Config{
		Server: ServerConfig{
			AppEnv:        appEnv,
			Port:          getEnv("PORT", "8080"),
			AllowedOrigin: getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		},
		Logger: LoggerConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", encoding),
		},
		Database: DatabaseConfig{
			Driver:        strings.ToLower(strings.TrimSpace(os.Getenv("DB_DRIVER"))),
			URL:           os.Getenv("DATABASE_URL"),
			SQLitePath:    os.Getenv("SQLITE_PATH"),
			MongoURI:      os.Getenv("MONGODB_URI"),
			MongoDatabase: getEnv("MONGODB_DATABASE", "pharmaflow"),
			Seed:          getEnvBool("SEED_DATA", true),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:    getEnvSlice("KAFKA_BROKERS"),
			BillsTopic: getEnv("KAFKA_BILLS_TOPIC", "pharmaflow.bills"),
		},
		Auth: AuthConfig{
			Secret:                strings.TrimSpace(os.Getenv("AUTH_SECRET")),
			AccessTokenTTLMinutes: getEnvPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
			AdminPIN:              strings.TrimSpace(os.Getenv("ADMIN_PIN")),
			OTPTTLMinutes:         getEnvPositiveInt("OTP_TTL_MINUTES", 10),
		},
		Inventory: InventoryConfig{
			LowStockThreshold: getEnvPositiveInt("LOW_STOCK_THRESHOLD", 20),
		},
		Billing: BillingConfig{
			CheckoutTimeout: time.Duration(getEnvPositiveInt("CHECKOUT_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		Reporting: ReportingConfig{
			AnalyticsTTL: time.Duration(getEnvPositiveInt("ANALYTICS_TTL_SECONDS", 60)) * time.Second,
		},
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Server.Port)
}

// ResolveDriver returns the explicit driver or infers one from whichever
// connection setting is present.
func (d DatabaseConfig) ResolveDriver() string {
	switch {
	case d.Driver != "":
		return d.Driver
	case d.URL != "":
		return DriverPostgres
	case d.MongoURI != "":
		return DriverMongo
	case d.SQLitePath != "":
		return DriverSQLite
	default:
		return DriverMemory
	}
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvPositiveInt(key string, fallback int) int {
	v := getEnvInt(key, fallback)
	if v < 1 {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvSlice(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
