package credential

import (
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kisproxy/configs"
)

func TestNewStore(t *testing.T) {
	t.Run("in-memory", func(t *testing.T) {
		store, err := NewStore(configs.CredentialCacheConfig{Type: "in-memory"})
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, store)
	})

	t.Run("redis", func(t *testing.T) {
		server := miniredis.RunT(t)

		store, err := NewStore(configs.CredentialCacheConfig{
			Type:  "redis",
			Redis: configs.RedisConfig{Addr: server.Addr()},
		})
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &RedisStore{}, store)
	})

	t.Run("redis unreachable", func(t *testing.T) {
		_, err := NewStore(configs.CredentialCacheConfig{
			Type:  "redis",
			Redis: configs.RedisConfig{Addr: "127.0.0.1:1"},
		})
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewStore(configs.CredentialCacheConfig{Type: "memcached"})
		assert.Error(t, err)
	})
}
