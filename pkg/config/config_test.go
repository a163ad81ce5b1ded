package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mahaj/chatwithme/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ACCESS_SECRET_KEY", "secret")

	c, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, 3000, c.Port)
	assert.Equal(t, ":3000", c.Addr())
	assert.Equal(t, 15*time.Minute, c.TokenTTL)
	assert.Equal(t, StoreBadger, c.StoreDriver)
	assert.Equal(t, "chat-messages", c.KafkaTopic)
	assert.Empty(t, c.Brokers())
	assert.Equal(t, []string{"localhost:9042"}, c.Scylla())
	assert.False(t, c.IsProduction())
}

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "ACCESS_SECRET_KEY=from-file\nACCESS_SECRET_TIME=2h\nKAFKA_BROKERS=k1:9092, k2:9092 ,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("PORT", "4000")
	t.Setenv("STORE_DRIVER", StoreScylla)

	c, err := Load(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = os.Unsetenv("ACCESS_SECRET_KEY")
		_ = os.Unsetenv("ACCESS_SECRET_TIME")
		_ = os.Unsetenv("KAFKA_BROKERS")
	})

	assert.Equal(t, "from-file", c.SecretKey)
	assert.Equal(t, 2*time.Hour, c.TokenTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Brokers())
	assert.Equal(t, 4000, c.Port)
	assert.Equal(t, StoreScylla, c.StoreDriver)
}

func TestValidate(t *testing.T) {
	c := &Config{TokenTTL: time.Minute, StoreDriver: StoreBadger}
	require.ErrorIs(t, c.Validate(), common.ErrorSigningKeyMissing)

	c = &Config{SecretKey: "k", TokenTTL: time.Minute, StoreDriver: "mongo"}
	require.ErrorIs(t, c.Validate(), common.ErrorUnknownStoreDriver)

	c = &Config{SecretKey: "k", TokenTTL: 0, StoreDriver: StoreScylla}
	require.Error(t, c.Validate())
}
