package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
)

// Config holds application configuration.
type Config struct {
	AppName          string
	AppVersion       string
	Environment      string
	HTTPAddr         string
	AuthCookieSecure bool
	SessionTTL       time.Duration
	SnowflakeNode    int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Google    GoogleConfig
	Firebase  FirebaseConfig
	Bootstrap BootstrapConfig
	RateLimit RateLimitConfig
	Live      LiveConfig
	Mail      MailConfig
	Tiers     TierConfig
	Scheduler SchedulerConfig
}

type GoogleConfig struct {
	Enabled      bool
	ClientID     string
	ClientSecret string
	JWKSURL      string
}

type FirebaseConfig struct {
	Enabled         bool
	ProjectID       string
	CredentialsFile string
	CredentialsJSON string
}

type BootstrapConfig struct {
	AdminEmails []string
}

type RateLimitConfig struct {
	SubmitRate    float64
	SubmitBurst   int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type LiveConfig struct {
	Bridge        string
	RedisChannel  string
	PostgresDSN   string
	PostgresTopic string
}

type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type TierConfig struct {
	ConfigPaths []string
}

type SchedulerConfig struct {
	Enabled          bool
	RunInterval      time.Duration
	BatchSize        int
	SessionRetention time.Duration
	EnabledJobs      []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	authCookieSecure := environment == "production"
	if !authCookieSecure {
		authCookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "creditdesk"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       environment,
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		AuthCookieSecure:  authCookieSecure,
		SessionTTL:        time.Duration(getenvInt64("SESSION_TTL_HOURS", 24*7)) * time.Hour,
		SnowflakeNode:     getenvInt64("SNOWFLAKE_NODE", 1),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "creditdesk"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "creditdesk.db"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 1800)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 300)),
		Google: GoogleConfig{
			Enabled:      getenvBool("GOOGLE_AUTH_ENABLED", true),
			ClientID:     strings.TrimSpace(getenv("GOOGLE_CLIENT_ID", "")),
			ClientSecret: strings.TrimSpace(getenv("GOOGLE_CLIENT_SECRET", "")),
			JWKSURL:      getenv("GOOGLE_JWKS_URL", "https://www.googleapis.com/oauth2/v3/certs"),
		},
		Firebase: FirebaseConfig{
			Enabled:         getenvBool("FIREBASE_AUTH_ENABLED", false),
			ProjectID:       strings.TrimSpace(getenv("FIREBASE_PROJECT_ID", "")),
			CredentialsFile: strings.TrimSpace(getenv("FIREBASE_CREDENTIALS_FILE", "")),
			CredentialsJSON: strings.TrimSpace(getenv("FIREBASE_CREDENTIALS_JSON", "")),
		},
		Bootstrap: BootstrapConfig{
			AdminEmails: parseList(getenv("BOOTSTRAP_ADMIN_EMAILS", "")),
		},
		RateLimit: RateLimitConfig{
			SubmitRate:    getenvFloat("RATE_LIMIT_SUBMIT_RATE", 0.2),
			SubmitBurst:   int(getenvInt64("RATE_LIMIT_SUBMIT_BURST", 3)),
			RedisAddr:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword: strings.TrimSpace(getenv("RATE_LIMIT_REDIS_PASSWORD", "")),
			RedisDB:       int(getenvInt64("RATE_LIMIT_REDIS_DB", 0)),
		},
		Live: LiveConfig{
			Bridge:        strings.ToLower(strings.TrimSpace(getenv("LIVE_BRIDGE", "none"))),
			RedisChannel:  getenv("LIVE_REDIS_CHANNEL", "creditdesk:live"),
			PostgresDSN:   strings.TrimSpace(getenv("LIVE_POSTGRES_DSN", "")),
			PostgresTopic: getenv("LIVE_POSTGRES_CHANNEL", "creditdesk_live"),
		},
		Mail: MailConfig{
			Host:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			Port:     int(getenvInt64("SMTP_PORT", 587)),
			Username: strings.TrimSpace(getenv("SMTP_USERNAME", "")),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     strings.TrimSpace(getenv("SMTP_FROM", "")),
		},
		Tiers: TierConfig{
			ConfigPaths: parseList(getenv("TIERS_CONFIG_PATHS", "/etc/creditdesk,.")),
		},
		Scheduler: SchedulerConfig{
			Enabled:          getenvBool("SCHEDULER_ENABLED", true),
			RunInterval:      time.Duration(getenvInt64("SCHEDULER_INTERVAL_SECONDS", 600)) * time.Second,
			BatchSize:        int(getenvInt64("SCHEDULER_BATCH_SIZE", 500)),
			SessionRetention: time.Duration(getenvInt64("SESSION_RETENTION_HOURS", 24)) * time.Hour,
			EnabledJobs:      parseList(getenv("SCHEDULER_JOBS", "")),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// IsBootstrapAdmin reports whether the email should get the admin role on first sign-in.
func (c Config) IsBootstrapAdmin(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, candidate := range c.Bootstrap.AdminEmails {
		if strings.ToLower(candidate) == email {
			return true
		}
	}
	return false
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
