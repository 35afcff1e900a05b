package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	JWT    JWTConfig
	GCP    GCPConfig
	PubSub PubSubConfig
	Ingest IngestConfig

	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ORDERGATE_APP_ENV" required:"true"`
	Port         string `envconfig:"ORDERGATE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ORDERGATE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ORDERGATE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"ORDERGATE_DB_DSN"`
	Driver string `envconfig:"ORDERGATE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ORDERGATE_DB_HOST"`
	LegacyPort     int    `envconfig:"ORDERGATE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ORDERGATE_DB_USER"`
	LegacyPassword string `envconfig:"ORDERGATE_DB_PASSWORD"`
	LegacyName     string `envconfig:"ORDERGATE_DB_NAME"`
	LegacySSLMode  string `envconfig:"ORDERGATE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ORDERGATE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ORDERGATE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ORDERGATE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ORDERGATE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ORDERGATE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ORDERGATE_REDIS_ADDR"`
	Password     string        `envconfig:"ORDERGATE_REDIS_PASSWORD"`
	DB           int           `envconfig:"ORDERGATE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ORDERGATE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ORDERGATE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ORDERGATE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ORDERGATE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ORDERGATE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"ORDERGATE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ORDERGATE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ORDERGATE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ORDERGATE_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"ORDERGATE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ORDERGATE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	IngestTopic            string `envconfig:"ORDERGATE_PUBSUB_INGEST_TOPIC" required:"true"`
	IngestSubscription     string `envconfig:"ORDERGATE_PUBSUB_INGEST_SUBSCRIPTION" required:"true"`
	DeadLetterTopic        string `envconfig:"ORDERGATE_PUBSUB_DEAD_LETTER_TOPIC"`
	DeadLetterSubscription string `envconfig:"ORDERGATE_PUBSUB_DEAD_LETTER_SUBSCRIPTION" required:"true"`
}

// IngestConfig carries the tunables the pipeline refuses to hardcode: how long
// a worker may hold the per-message lock and how many delivery attempts a
// message gets before it is parked.
type IngestConfig struct {
	LockTTL      time.Duration `envconfig:"ORDERGATE_INGEST_LOCK_TTL" default:"5m"`
	MaxAttempts  int           `envconfig:"ORDERGATE_INGEST_MAX_ATTEMPTS" default:"5"`
	LedgerTTL    time.Duration `envconfig:"ORDERGATE_INGEST_LEDGER_MARK_TTL" default:"720h"`
	ConsumerName string        `envconfig:"ORDERGATE_INGEST_CONSUMER_NAME" default:"ingest-worker"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ORDERGATE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ORDERGATE_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
