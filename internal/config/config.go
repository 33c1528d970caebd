package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DB        DBConfig
	Redis     RedisConfig
	MinIO     MinIOConfig
	JWT       JWTConfig
	Server    ServerConfig
	WebAuthn  WebAuthnConfig
	Challenge ChallengeConfig
	Audit     AuditConfig
	Log       LogConfig
	Seed      SeedConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	URL string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type ServerConfig struct {
	Port           string
	AllowedOrigins string
	// AuthRateLimit caps passkey authentication calls per IP per minute.
	AuthRateLimit int
}

type WebAuthnConfig struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
}

type ChallengeConfig struct {
	// Backend is "redis" or "database".
	Backend         string
	CleanupInterval time.Duration
}

type AuditConfig struct {
	ExportEnabled  bool
	ExportInterval time.Duration
}

type LogConfig struct {
	Level string
}

// SeedConfig is the first admin account created by the seed command.
type SeedConfig struct {
	AdminEmail    string
	AdminPassword string
	AdminName     string
}

var defaults = map[string]any{
	"DB_HOST":                    "localhost",
	"DB_PORT":                    "5432",
	"DB_USER":                    "elysian",
	"DB_PASSWORD":                "elysian_secret",
	"DB_NAME":                    "elysian",
	"DB_SSLMODE":                 "disable",
	"REDIS_URL":                  "redis://localhost:6379/0",
	"MINIO_ENDPOINT":             "localhost:9000",
	"MINIO_ACCESS_KEY":           "elysian",
	"MINIO_SECRET_KEY":           "elysian_secret",
	"MINIO_BUCKET":               "audit-archive",
	"MINIO_USE_SSL":              false,
	"JWT_SECRET":                 "change-me-in-production",
	"JWT_EXPIRATION_HOURS":       24,
	"SERVER_PORT":                "8080",
	"CORS_ALLOWED_ORIGINS":       "http://localhost:3000",
	"AUTH_RATE_LIMIT":            30,
	"WEBAUTHN_RP_ID":             "localhost",
	"WEBAUTHN_RP_NAME":           "Elysian Realm Admin",
	"WEBAUTHN_RP_ORIGINS":        "http://localhost:3000",
	"CHALLENGE_BACKEND":          "redis",
	"CHALLENGE_CLEANUP_INTERVAL": "5m",
	"AUDIT_EXPORT_ENABLED":       false,
	"AUDIT_EXPORT_INTERVAL":      "1h",
	"LOG_LEVEL":                  "info",
	"SEED_ADMIN_EMAIL":           "admin@elysian.local",
	"SEED_ADMIN_PASSWORD":        "admin123",
	"SEED_ADMIN_NAME":            "System Admin",
}

// Load reads configuration from defaults, an optional file named by
// CONFIG_FILE, and environment variables, in increasing precedence.
func Load() *Config {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		// A missing or malformed file leaves defaults and env in place.
		_ = v.ReadInConfig()
	}

	return &Config{
		DB: DBConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Name:     v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			URL: v.GetString("REDIS_URL"),
		},
		MinIO: MinIOConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			Bucket:    v.GetString("MINIO_BUCKET"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
		},
		JWT: JWTConfig{
			Secret:          v.GetString("JWT_SECRET"),
			ExpirationHours: v.GetInt("JWT_EXPIRATION_HOURS"),
		},
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			AllowedOrigins: v.GetString("CORS_ALLOWED_ORIGINS"),
			AuthRateLimit:  v.GetInt("AUTH_RATE_LIMIT"),
		},
		WebAuthn: WebAuthnConfig{
			RPID:          v.GetString("WEBAUTHN_RP_ID"),
			RPDisplayName: v.GetString("WEBAUTHN_RP_NAME"),
			RPOrigins:     splitList(v.GetString("WEBAUTHN_RP_ORIGINS")),
		},
		Challenge: ChallengeConfig{
			Backend:         strings.ToLower(v.GetString("CHALLENGE_BACKEND")),
			CleanupInterval: v.GetDuration("CHALLENGE_CLEANUP_INTERVAL"),
		},
		Audit: AuditConfig{
			ExportEnabled:  v.GetBool("AUDIT_EXPORT_ENABLED"),
			ExportInterval: v.GetDuration("AUDIT_EXPORT_INTERVAL"),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
		Seed: SeedConfig{
			AdminEmail:    v.GetString("SEED_ADMIN_EMAIL"),
			AdminPassword: v.GetString("SEED_ADMIN_PASSWORD"),
			AdminName:     v.GetString("SEED_ADMIN_NAME"),
		},
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
