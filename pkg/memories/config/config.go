package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tendant/simple-memories/pkg/memories"
	"github.com/tendant/simple-memories/pkg/memories/repo/memory"
	repopg "github.com/tendant/simple-memories/pkg/memories/repo/postgres"
	cachestorage "github.com/tendant/simple-memories/pkg/memories/storage/cache"
	fsstorage "github.com/tendant/simple-memories/pkg/memories/storage/fs"
	memorystorage "github.com/tendant/simple-memories/pkg/memories/storage/memory"
	s3storage "github.com/tendant/simple-memories/pkg/memories/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:                  "8080",
		Environment:           "development",
		DatabaseType:          "memory",
		DBSchema:              "memories",
		DefaultStorageBackend: "memory",
		StorageBackends: []StorageBackendConfig{
			{Name: "memory", Type: "memory"},
		},
		Limits:             memories.DefaultLimits(),
		JanitorInterval:    time.Minute,
		EnableEventLogging: true,
		EnableMetrics:      true,
	}
}

// ServerConfig represents server configuration for the memories service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"
	DBSchema     string // Postgres schema to use (default: memories)
	AutoMigrate  bool   // Apply the Postgres schema at startup

	// Storage configuration
	DefaultStorageBackend string
	StorageBackends       []StorageBackendConfig
	ChunkCacheSize        int // Chunks kept in the read cache; 0 disables it

	Limits memories.Limits

	// Server options
	JWTSecret          string        // Enables bearer token auth on the API when set
	JanitorInterval    time.Duration // 0 disables the expired session janitor
	EnableEventLogging bool
	EnableMetrics      bool
}

// StorageBackendConfig represents configuration for a chunk backend
type StorageBackendConfig struct {
	Name string
	Type string // "memory", "fs", "s3"

	// fs
	BaseDir  string
	Compress bool

	// s3
	S3 s3storage.Config
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	if c.ChunkCacheSize < 0 {
		return errors.New("chunk cache size cannot be negative")
	}
	if c.Limits.MaxChunkSize < 0 || c.Limits.MaxInlineAssetSize < 0 || c.Limits.MaxBlobReadSize < 0 {
		return errors.New("size limits cannot be negative")
	}

	// Ensure default storage backend exists in configured backends
	found := false
	for _, backend := range c.StorageBackends {
		switch backend.Type {
		case "memory":
		case "fs":
			if backend.BaseDir == "" {
				return fmt.Errorf("storage backend '%s' requires a base directory", backend.Name)
			}
		case "s3":
			if backend.S3.Bucket == "" {
				return fmt.Errorf("storage backend '%s' requires a bucket", backend.Name)
			}
		default:
			return fmt.Errorf("storage backend '%s' has unsupported type '%s'", backend.Name, backend.Type)
		}
		if backend.Name == c.DefaultStorageBackend {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("default storage backend '%s' not found in configured backends", c.DefaultStorageBackend)
	}

	return nil
}

// Runtime is a built service together with the resources it holds.
type Runtime struct {
	Service memories.Service
	// Registry holds the service metrics; nil when metrics are disabled.
	Registry *prometheus.Registry

	closers []func()
}

// Close releases database pools and other resources.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// BuildService creates a Service instance from the server configuration
func (c *ServerConfig) BuildService(ctx context.Context, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{}
	options := []memories.Option{
		memories.WithLogger(logger),
		memories.WithLimits(c.Limits),
		memories.WithDefaultBackend(c.DefaultStorageBackend),
	}

	// Set up repository
	repo, err := c.buildRepository(ctx, rt)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	options = append(options, memories.WithRepository(repo))

	// Set up storage backends
	for _, backendConfig := range c.StorageBackends {
		backend, err := c.buildStorageBackend(ctx, backendConfig)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to build storage backend %s: %w", backendConfig.Name, err)
		}
		options = append(options, memories.WithChunkBackend(backendConfig.Name, backend))
	}

	if c.EnableEventLogging {
		options = append(options, memories.WithEventSink(memories.NewLoggingEventSink(logger)))
	}

	if c.EnableMetrics {
		rt.Registry = prometheus.NewRegistry()
		rt.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		observer, err := memories.NewPrometheusObserver("memories", rt.Registry)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		options = append(options, memories.WithObserver(observer))
	}

	svc, err := memories.New(options...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Service = svc
	return rt, nil
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context, rt *Runtime) (memories.Repository, error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil
	case "postgres":
		pool, err := newPool(ctx, c.DatabaseURL, c.DBSchema)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		if c.AutoMigrate {
			if err := repopg.Migrate(ctx, pool); err != nil {
				return nil, err
			}
		}
		return repopg.NewWithPool(pool), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

func newPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database_url is required for postgres")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingPostgres verifies connectivity to Postgres with the schema on the search path.
func PingPostgres(ctx context.Context, databaseURL, schema string) error {
	pool, err := newPool(ctx, databaseURL, schema)
	if err != nil {
		return err
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// buildStorageBackend creates a ChunkBackend based on the backend configuration,
// wrapped in the read cache when one is configured
func (c *ServerConfig) buildStorageBackend(ctx context.Context, config StorageBackendConfig) (memories.ChunkBackend, error) {
	var backend memories.ChunkBackend
	switch config.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		b, err := fsstorage.New(fsstorage.Config{BaseDir: config.BaseDir, Compress: config.Compress})
		if err != nil {
			return nil, err
		}
		backend = b

	case "s3":
		b, err := s3storage.New(ctx, config.S3)
		if err != nil {
			return nil, err
		}
		backend = b

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", config.Type)
	}

	if c.ChunkCacheSize > 0 {
		return cachestorage.New(backend, c.ChunkCacheSize)
	}
	return backend, nil
}
