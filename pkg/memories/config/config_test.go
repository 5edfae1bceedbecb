package config_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-memories/pkg/memories"
	"github.com/tendant/simple-memories/pkg/memories/config"
)

func findBackend(cfg *config.ServerConfig, name string) (config.StorageBackendConfig, bool) {
	for _, b := range cfg.StorageBackends {
		if b.Name == name {
			return b, true
		}
	}
	return config.StorageBackendConfig{}, false
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.DatabaseType)
	assert.Equal(t, "memory", cfg.DefaultStorageBackend)
	assert.Equal(t, memories.DefaultLimits(), cfg.Limits)
	assert.Equal(t, time.Minute, cfg.JanitorInterval)
	assert.True(t, cfg.EnableMetrics)
}

func TestOptions(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(
		config.WithPort("9090"),
		config.WithEnvironment("production"),
		config.WithFilesystemStorage("", dir, true),
		config.WithDefaultStorage("fs"),
		config.WithChunkCache(16),
		config.WithSessionTTL(time.Hour),
		config.WithJanitorInterval(0),
	)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 16, cfg.ChunkCacheSize)
	assert.Equal(t, time.Hour, cfg.Limits.SessionTTL)
	assert.Zero(t, cfg.JanitorInterval)

	fs, ok := findBackend(cfg, "fs")
	require.True(t, ok)
	assert.Equal(t, dir, fs.BaseDir)
	assert.True(t, fs.Compress)
}

func TestOptionErrors(t *testing.T) {
	tests := []struct {
		name string
		opt  config.Option
	}{
		{"empty port", config.WithPort("")},
		{"postgres missing url", config.WithDatabase("postgres", "")},
		{"unknown database", config.WithDatabase("mysql", "")},
		{"empty fs dir", config.WithFilesystemStorage("fs", "", false)},
		{"empty bucket", config.WithS3Storage("s3", s3Config(""))},
		{"negative cache", config.WithChunkCache(-1)},
		{"zero ttl", config.WithSessionTTL(0)},
		{"unknown default", config.WithDefaultStorage("nope")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(tt.opt)
			assert.Error(t, err)
		})
	}
}

func TestBuildServiceMemory(t *testing.T) {
	cfg, err := config.Load(config.WithChunkCache(8))
	require.NoError(t, err)

	rt, err := cfg.BuildService(context.Background(), nil)
	require.NoError(t, err)
	defer rt.Close()

	require.NotNil(t, rt.Registry)
	assert.Equal(t, "memory", rt.Service.DefaultBackend())

	ctx := context.Background()
	capsule, err := rt.Service.CreateCapsule(ctx, "alice")
	require.NoError(t, err)
	session, err := rt.Service.BeginUpload(ctx, memories.BeginUploadRequest{CapsuleID: capsule.ID, ExpectedChunks: 1})
	require.NoError(t, err)
	_, err = rt.Service.PutChunk(ctx, memories.PutChunkRequest{SessionID: session.ID, Index: 0, Data: []byte("hi")})
	require.NoError(t, err)
	res, err := rt.Service.FinishUpload(ctx, memories.FinishUploadRequest{
		SessionID:   session.ID,
		SHA256:      memories.SumDigest([]byte("hi")),
		TotalLength: 2,
	})
	require.NoError(t, err)

	families, err := rt.Registry.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "memories_operation_duration_seconds")
	assert.NotEmpty(t, res.BlobID)
}

func TestBuildServiceFilesystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chunks")
	cfg, err := config.Load(
		config.WithFilesystemStorage("fs", dir, true),
		config.WithDefaultStorage("fs"),
		config.WithMetrics(false),
	)
	require.NoError(t, err)

	rt, err := cfg.BuildService(context.Background(), nil)
	require.NoError(t, err)
	defer rt.Close()

	assert.Nil(t, rt.Registry)
	assert.Equal(t, "fs", rt.Service.DefaultBackend())
}
