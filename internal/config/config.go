package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates runtime configuration for the AppDrive API.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Blob     BlobConfig
	MinIO    MinIOConfig
	S3       S3Config
	Identity IdentityConfig
	Quota    QuotaConfig
	Upload   UploadConfig
	Trash    TrashConfig
	Share    ShareConfig
	Metrics  MetricsConfig
}

// ServerConfig parameterizes the HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// PublicBaseURL prefixes share links handed back to clients.
	PublicBaseURL string
}

// Address returns the listen address in host:port form.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PostgresConfig contains PostgreSQL connection details.
type PostgresConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Database      string
	SSLMode       string
	MaxConns      int32
	RunMigrations bool
}

// DSN returns the PostgreSQL DSN string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// Blob store drivers.
const (
	BlobDriverMinIO = "minio"
	BlobDriverS3    = "s3"
)

// BlobConfig selects the blob store implementation.
type BlobConfig struct {
	Driver      string
	Bucket      string
	PresignTTL  time.Duration
	CallTimeout time.Duration
}

// MinIOConfig carries MinIO connection information.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Region          string
}

// S3Config carries AWS S3 (or S3-compatible) connection information.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// BaseEndpoint overrides the AWS endpoint, e.g. for MinIO in S3 mode.
	BaseEndpoint string
	UsePathStyle bool
}

// IdentityConfig groups identity-token verification settings. When
// OIDCIssuerURL is set tokens are verified against the issuer; otherwise
// HS256 tokens signed with JWTSecret are accepted.
type IdentityConfig struct {
	JWTSecret     string
	JWTIssuer     string
	JWTAudience   string
	OIDCIssuerURL string
	OIDCClientID  string
}

// QuotaConfig groups account quota defaults.
type QuotaConfig struct {
	DefaultPlanID   string
	DefaultCapBytes int64

	// PlanCatalogPath points at an optional YAML plan catalog.
	PlanCatalogPath string
}

// UploadConfig parameterizes upload sessions and their expiry sweep.
type UploadConfig struct {
	SessionTTL    time.Duration
	MaxFileSize   int64
	SweepInterval time.Duration
	SweepBatch    int
}

// TrashConfig parameterizes soft deletion retention and purging.
type TrashConfig struct {
	Retention     time.Duration
	PurgeInterval time.Duration
	PurgeBatch    int
}

// ShareConfig parameterizes public share links.
type ShareConfig struct {
	DefaultTTL time.Duration
	MaxTTL     time.Duration
	TokenBytes int
}

// MetricsConfig groups observability settings.
type MetricsConfig struct {
	PrometheusPath string
}

// Load reads configuration values from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host:          getString("APPDRIVE_API_HOST", "0.0.0.0"),
			Port:          getInt("APPDRIVE_API_PORT", 8080),
			ReadTimeout:   getDuration("APPDRIVE_API_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:  getDuration("APPDRIVE_API_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:   getDuration("APPDRIVE_API_IDLE_TIMEOUT", 60*time.Second),
			PublicBaseURL: strings.TrimRight(getString("APPDRIVE_PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		},
		Postgres: PostgresConfig{
			Host:          getString("POSTGRES_HOST", "localhost"),
			Port:          getInt("POSTGRES_PORT", 5432),
			User:          getString("POSTGRES_USER", "appdrive"),
			Password:      getString("POSTGRES_PASSWORD", "change-me"),
			Database:      getString("POSTGRES_DB", "appdrive"),
			SSLMode:       strings.ToLower(getString("POSTGRES_SSL_MODE", "disable")),
			MaxConns:      int32(getInt("POSTGRES_MAX_CONNS", 20)),
			RunMigrations: getBool("POSTGRES_RUN_MIGRATIONS", true),
		},
		Blob: BlobConfig{
			Driver:      strings.ToLower(getString("APPDRIVE_BLOB_DRIVER", BlobDriverMinIO)),
			Bucket:      getString("APPDRIVE_BLOB_BUCKET", "appdrive"),
			PresignTTL:  getDuration("APPDRIVE_BLOB_PRESIGN_TTL", 15*time.Minute),
			CallTimeout: getDuration("APPDRIVE_BLOB_CALL_TIMEOUT", 5*time.Second),
		},
		MinIO: MinIOConfig{
			Endpoint:        getString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getString("MINIO_ROOT_USER", "appdrive"),
			SecretAccessKey: getString("MINIO_ROOT_PASSWORD", "change-me-strong-password"),
			UseSSL:          getBool("MINIO_USE_SSL", false),
			Region:          getString("MINIO_REGION", "us-east-1"),
		},
		S3: S3Config{
			Region:          getString("S3_REGION", "us-east-1"),
			AccessKeyID:     getString("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getString("S3_SECRET_ACCESS_KEY", ""),
			BaseEndpoint:    getString("S3_BASE_ENDPOINT", ""),
			UsePathStyle:    getBool("S3_USE_PATH_STYLE", false),
		},
		Identity: IdentityConfig{
			JWTSecret:     getString("APPDRIVE_JWT_SECRET", ""),
			JWTIssuer:     getString("APPDRIVE_JWT_ISSUER", ""),
			JWTAudience:   getString("APPDRIVE_JWT_AUDIENCE", ""),
			OIDCIssuerURL: getString("APPDRIVE_OIDC_ISSUER_URL", ""),
			OIDCClientID:  getString("APPDRIVE_OIDC_CLIENT_ID", ""),
		},
		Quota: QuotaConfig{
			DefaultPlanID:   getString("APPDRIVE_DEFAULT_PLAN", "free"),
			DefaultCapBytes: getInt64("APPDRIVE_DEFAULT_CAP_BYTES", 5*1024*1024*1024),
			PlanCatalogPath: getString("APPDRIVE_PLAN_CATALOG", ""),
		},
		Upload: UploadConfig{
			SessionTTL:    getDuration("APPDRIVE_UPLOAD_SESSION_TTL", 24*time.Hour),
			MaxFileSize:   getInt64("APPDRIVE_UPLOAD_MAX_FILE_SIZE", 5*1024*1024*1024),
			SweepInterval: getDuration("APPDRIVE_UPLOAD_SWEEP_INTERVAL", 5*time.Minute),
			SweepBatch:    getInt("APPDRIVE_UPLOAD_SWEEP_BATCH", 200),
		},
		Trash: TrashConfig{
			Retention:     getDuration("APPDRIVE_TRASH_RETENTION", 30*24*time.Hour),
			PurgeInterval: getDuration("APPDRIVE_TRASH_PURGE_INTERVAL", time.Hour),
			PurgeBatch:    getInt("APPDRIVE_TRASH_PURGE_BATCH", 100),
		},
		Share: ShareConfig{
			DefaultTTL: getDuration("APPDRIVE_SHARE_DEFAULT_TTL", 7*24*time.Hour),
			MaxTTL:     getDuration("APPDRIVE_SHARE_MAX_TTL", 30*24*time.Hour),
			TokenBytes: getInt("APPDRIVE_SHARE_TOKEN_BYTES", 32),
		},
		Metrics: MetricsConfig{
			PrometheusPath: getString("APPDRIVE_METRICS_PATH", "/metrics"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the services cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Blob.Driver {
	case BlobDriverMinIO, BlobDriverS3:
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	if c.Identity.OIDCIssuerURL == "" && c.Identity.JWTSecret == "" {
		errs = append(errs, errors.New("APPDRIVE_JWT_SECRET is required when OIDC is not configured"))
	}
	if c.Identity.OIDCIssuerURL != "" && c.Identity.OIDCClientID == "" {
		errs = append(errs, errors.New("APPDRIVE_OIDC_CLIENT_ID is required with APPDRIVE_OIDC_ISSUER_URL"))
	}
	positive := map[string]time.Duration{
		"upload session ttl":    c.Upload.SessionTTL,
		"upload sweep interval": c.Upload.SweepInterval,
		"trash retention":       c.Trash.Retention,
		"trash purge interval":  c.Trash.PurgeInterval,
		"share default ttl":     c.Share.DefaultTTL,
		"share max ttl":         c.Share.MaxTTL,
		"blob presign ttl":      c.Blob.PresignTTL,
		"blob call timeout":     c.Blob.CallTimeout,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Share.DefaultTTL > c.Share.MaxTTL {
		errs = append(errs, errors.New("share default ttl exceeds share max ttl"))
	}
	if c.Share.TokenBytes < 16 {
		errs = append(errs, errors.New("share token bytes must be at least 16"))
	}
	if c.Quota.DefaultCapBytes < 0 || c.Upload.MaxFileSize <= 0 {
		errs = append(errs, errors.New("quota cap and max file size must be positive"))
	}
	return errors.Join(errs...)
}

func getString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.ToLower(strings.TrimSpace(val))
		switch val {
		case "1", "true", "t", "yes", "y":
			return true
		case "0", "false", "f", "no", "n":
			return false
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}
