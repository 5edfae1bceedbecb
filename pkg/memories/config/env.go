package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	s3storage "github.com/tendant/simple-memories/pkg/memories/storage/s3"
)

// EnvConfig is the process environment understood by WithEnv.
//
// DATABASE_URL is "memory" or a postgres:// / postgresql:// connection string.
// STORAGE_URL is one of:
//
//	memory://
//	file:///path/to/data[?compress=zstd]
//	s3://bucket[/prefix][?region=..&endpoint=..&path_style=true&sse=AES256&create_bucket=true]
type EnvConfig struct {
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"`

	DatabaseURL string `env:"DATABASE_URL" env-default:"memory"`
	DBSchema    string `env:"MEMORIES_DB_SCHEMA" env-default:"memories"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" env-default:"false"`

	StorageURL         string `env:"STORAGE_URL" env-default:"memory://"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	AWSRegion          string `env:"AWS_REGION" env-default:"us-east-1"`
	ChunkCacheSize     int    `env:"CHUNK_CACHE_SIZE" env-default:"0"`

	MaxChunkSize       int64         `env:"MAX_CHUNK_SIZE" env-default:"1800000"`
	MaxInlineAssetSize int64         `env:"MAX_INLINE_ASSET_SIZE" env-default:"32768"`
	MaxBlobReadSize    int64         `env:"MAX_BLOB_READ_SIZE" env-default:"16777216"`
	SessionTTL         time.Duration `env:"SESSION_TTL" env-default:"24h"`
	CascadeParallelism int           `env:"CASCADE_PARALLELISM" env-default:"4"`

	JWTSecret          string        `env:"JWT_SECRET"`
	JanitorInterval    time.Duration `env:"JANITOR_INTERVAL" env-default:"1m"`
	EnableEventLogging bool          `env:"ENABLE_EVENT_LOGGING" env-default:"true"`
	EnableMetrics      bool          `env:"ENABLE_METRICS" env-default:"true"`
}

// WithEnv reads the process environment through cleanenv and applies it.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		var env EnvConfig
		if err := cleanenv.ReadEnv(&env); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return env.apply(c)
	}
}

// LoadServerConfig loads configuration from the environment on top of defaults.
func LoadServerConfig() (*ServerConfig, error) {
	return Load(WithEnv())
}

func (e EnvConfig) apply(c *ServerConfig) error {
	c.Port = e.Port
	c.Environment = e.Environment
	c.DBSchema = e.DBSchema
	c.AutoMigrate = e.AutoMigrate
	c.ChunkCacheSize = e.ChunkCacheSize
	c.Limits.MaxChunkSize = e.MaxChunkSize
	c.Limits.MaxInlineAssetSize = e.MaxInlineAssetSize
	c.Limits.MaxBlobReadSize = e.MaxBlobReadSize
	c.Limits.SessionTTL = e.SessionTTL
	c.Limits.CascadeParallelism = e.CascadeParallelism
	c.JWTSecret = e.JWTSecret
	c.JanitorInterval = e.JanitorInterval
	c.EnableEventLogging = e.EnableEventLogging
	c.EnableMetrics = e.EnableMetrics

	if err := applyDatabaseURL(e.DatabaseURL, c); err != nil {
		return err
	}
	return e.applyStorageURL(c)
}

// applyDatabaseURL auto-detects the database type from the URL
func applyDatabaseURL(dbURL string, c *ServerConfig) error {
	switch {
	case dbURL == "" || dbURL == "memory":
		c.DatabaseType = "memory"
		c.DatabaseURL = ""
	case strings.HasPrefix(dbURL, "postgresql://"), strings.HasPrefix(dbURL, "postgres://"):
		c.DatabaseType = "postgres"
		c.DatabaseURL = dbURL
	default:
		return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgresql://...')", redact(dbURL))
	}
	return nil
}

func (e EnvConfig) applyStorageURL(c *ServerConfig) error {
	raw := e.StorageURL
	if raw == "" || raw == "memory" || raw == "memory://" {
		c.DefaultStorageBackend = "memory"
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, StorageBackendConfig{Name: "memory", Type: "memory"})
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid STORAGE_URL: %w", err)
	}
	q := u.Query()

	switch u.Scheme {
	case "file":
		// file:///abs/path has an empty host; file://rel/path keeps the first segment there
		path := u.Host + u.Path
		if path == "" {
			return fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
		}
		compress := false
		switch q.Get("compress") {
		case "", "none":
		case "zstd":
			compress = true
		default:
			return fmt.Errorf("unsupported compression %q in STORAGE_URL", q.Get("compress"))
		}
		c.DefaultStorageBackend = "fs"
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, StorageBackendConfig{
			Name:     "fs",
			Type:     "fs",
			BaseDir:  path,
			Compress: compress,
		})
		return nil

	case "s3":
		if u.Host == "" {
			return fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
		}
		s3Config := s3storage.Config{
			Bucket:          u.Host,
			Prefix:          strings.Trim(u.Path, "/"),
			Region:          e.AWSRegion,
			AccessKeyID:     e.AWSAccessKeyID,
			SecretAccessKey: e.AWSSecretAccessKey,
			Endpoint:        q.Get("endpoint"),
		}
		if region := q.Get("region"); region != "" {
			s3Config.Region = region
		}
		if s3Config.UsePathStyle, err = queryBool(q, "path_style"); err != nil {
			return err
		}
		if s3Config.CreateBucketIfNotExist, err = queryBool(q, "create_bucket"); err != nil {
			return err
		}
		if sse := q.Get("sse"); sse != "" {
			if sse != "AES256" && sse != "aws:kms" {
				return fmt.Errorf("unsupported sse %q in STORAGE_URL", sse)
			}
			s3Config.EnableSSE = true
			s3Config.SSEAlgorithm = sse
			s3Config.SSEKMSKeyID = q.Get("kms_key_id")
		}
		c.DefaultStorageBackend = "s3"
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, StorageBackendConfig{
			Name: "s3",
			Type: "s3",
			S3:   s3Config,
		})
		return nil
	}

	return fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", raw)
}

func queryBool(q url.Values, key string) (bool, error) {
	raw := q.Get(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for %s in STORAGE_URL: %w", key, err)
	}
	return v, nil
}

// redact hides credentials embedded in a URL.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
