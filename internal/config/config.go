package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMongo    = "mongodb"
	BackendDynamoDB = "dynamodb"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	MongoDB   MongoDBConfig
	DynamoDB  DynamoDBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	OTP       OTPConfig
	Mail      MailConfig
	Upload    UploadConfig
	RateLimit RateLimitConfig
	Admin     AdminConfig
	LogLevel  string
}

type ServerConfig struct {
	Port               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	CORSAllowedOrigins []string
	TrustProxy         bool
}

// StorageConfig selects the credential and OTP store backends.
type StorageConfig struct {
	Backend    string
	OTPBackend string
}

type MongoDBConfig struct {
	URL      string
	Database string
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey           string
	AccessExpiry        time.Duration
	RefreshExpiry       time.Duration
	RefreshCookieMaxAge time.Duration
	CookieSecure        bool
}

type OTPConfig struct {
	Expiry            time.Duration
	EchoLoginCode     bool
	FixedReferralCode string
}

type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether an SMTP transport is configured.
func (m MailConfig) Enabled() bool {
	return m.Host != ""
}

type UploadConfig struct {
	Path      string
	PublicURL string
	MaxBytes  int64
}

type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

type AdminConfig struct {
	AutoActivate bool
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; real environment variables
// take precedence over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	storageBackend := strings.ToLower(getEnv("STORAGE_BACKEND", BackendMongo))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "3000"),
			ReadTimeout:        getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:       getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			TrustProxy:         getEnvAsBool("TRUST_PROXY", false),
		},
		Storage: StorageConfig{
			Backend:    storageBackend,
			OTPBackend: strings.ToLower(getEnv("OTP_STORE", storageBackend)),
		},
		MongoDB: MongoDBConfig{
			URL:      getEnv("MONGODB_URL", getEnv("MONGODB_URL_D", "mongodb://localhost:27017")),
			Database: getEnv("MONGODB_DATABASE", "taskapp"),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "TaskAppTable"),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			SecretKey:           getEnv("JWT_SECRET_KEY", getEnv("JWT_SECRET", "")),
			AccessExpiry:        getEnvAsDuration("JWT_ACCESS_EXPIRY", 24*time.Hour),
			RefreshExpiry:       getEnvAsDuration("JWT_REFRESH_EXPIRY", 30*24*time.Hour),
			RefreshCookieMaxAge: getEnvAsDuration("REFRESH_COOKIE_MAX_AGE", 72*time.Hour),
			CookieSecure:        getEnvAsBool("COOKIE_SECURE", false),
		},
		OTP: OTPConfig{
			Expiry:            getEnvAsDuration("OTP_EXPIRY", 60*time.Second),
			EchoLoginCode:     getEnvAsBool("OTP_ECHO_LOGIN_CODE", false),
			FixedReferralCode: getEnv("REFERRAL_FIXED_CODE", ""),
		},
		Mail: MailConfig{
			Host:     getEnv("MAIL_HOST", ""),
			Port:     getEnvAsInt("MAIL_PORT", 587),
			Username: getEnv("MAIL_USERNAME", ""),
			Password: getEnv("MAIL_PASSWORD", ""),
			From:     getEnv("MAIL_FROM", `"Task App" <support@taskapp.local>`),
		},
		Upload: UploadConfig{
			Path:      getEnv("IMAGE_UPLOAD_PATH", "./uploads"),
			PublicURL: strings.TrimRight(getEnv("IMAGE_PUBLIC_URL", "http://localhost:3000/uploads"), "/"),
			MaxBytes:  getEnvAsInt64("UPLOAD_MAX_BYTES", 32<<20),
		},
		RateLimit: RateLimitConfig{
			Max:    getEnvAsInt("RATE_LIMIT_MAX", 5),
			Window: getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Admin: AdminConfig{
			AutoActivate: getEnvAsBool("ADMIN_AUTO_ACTIVATE", false),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	switch c.Storage.Backend {
	case BackendMongo, BackendDynamoDB, BackendMemory:
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Storage.Backend)
	}

	switch c.Storage.OTPBackend {
	case BackendMongo, BackendDynamoDB, BackendMemory:
	case BackendRedis:
		if c.Redis.Endpoint == "" {
			return fmt.Errorf("OTP_STORE=redis requires REDIS_ENDPOINT")
		}
	default:
		return fmt.Errorf("unsupported OTP_STORE %q", c.Storage.OTPBackend)
	}

	if c.OTP.Expiry <= 0 {
		return fmt.Errorf("OTP_EXPIRY must be positive")
	}

	if c.JWT.AccessExpiry < 0 || c.JWT.RefreshExpiry <= 0 {
		return fmt.Errorf("JWT expiries must not be negative and refresh expiry must be positive")
	}

	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
