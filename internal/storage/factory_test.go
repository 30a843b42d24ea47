package storage

import (
	"testing"

	"linqyard/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory(t *testing.T) {
	factory := NewFactory()

	t.Run("GetSupportedProviders", func(t *testing.T) {
		assert.Equal(t, []string{"memory", "postgres", "sqlite"}, factory.GetSupportedProviders())
	})

	t.Run("ValidateConfig", func(t *testing.T) {
		tests := []struct {
			name      string
			config    models.StorageConfig
			expectErr bool
		}{
			{name: "valid memory config", config: models.StorageConfig{Type: "memory"}},
			{name: "valid sqlite config", config: models.StorageConfig{Type: "sqlite", Database: models.DatabaseConfig{DSN: ":memory:"}}},
			{name: "postgres without DSN", config: models.StorageConfig{Type: "postgres"}, expectErr: true},
			{name: "invalid storage type", config: models.StorageConfig{Type: "json"}, expectErr: true},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := factory.ValidateConfig(tt.config)
				if tt.expectErr {
					assert.Error(t, err)
				} else {
					assert.NoError(t, err)
				}
			})
		}
	})

	t.Run("Create memory storage", func(t *testing.T) {
		s, err := factory.Create(models.StorageConfig{Type: models.StorageTypeMemory})
		require.NoError(t, err)
		defer s.Close()
		assert.IsType(t, &MemoryStorage{}, s)
	})

	t.Run("Create sqlite storage", func(t *testing.T) {
		cfg := models.NewDefaultConfig().Storage
		cfg.Type = models.StorageTypeSQLite
		cfg.Database.DSN = ":memory:"

		s, err := factory.Create(cfg)
		require.NoError(t, err)
		defer s.Close()
		assert.IsType(t, &SQLiteStorage{}, s)
	})

	t.Run("Create failure returns nil storage", func(t *testing.T) {
		s, err := factory.Create(models.StorageConfig{Type: models.StorageTypeSQLite})
		assert.Error(t, err)
		assert.Nil(t, s)
	})

	t.Run("Create unsupported type", func(t *testing.T) {
		_, err := factory.Create(models.StorageConfig{Type: "json"})
		assert.Error(t, err)
	})

	t.Run("CreateBucketStore reuses primary storage", func(t *testing.T) {
		primary, err := NewMemoryStorage(Config{})
		require.NoError(t, err)

		store, closer, err := factory.CreateBucketStore(models.RateLimitConfig{Store: models.BucketStoreStorage}, primary)
		require.NoError(t, err)
		assert.Same(t, primary, store)
		assert.Nil(t, closer)
	})

	t.Run("CreateBucketStore rejects unknown store", func(t *testing.T) {
		_, _, err := factory.CreateBucketStore(models.RateLimitConfig{Store: "etcd"}, nil)
		assert.Error(t, err)
	})
}
