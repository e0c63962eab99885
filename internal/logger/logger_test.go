package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaymail/backend/internal/config"
)

func TestNew(t *testing.T) {
	t.Run("写入轮转日志文件", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "logs", "relaymail.log")
		log, err := New(config.LogConfig{Level: "debug", File: file, MaxSizeMB: 1})
		require.NoError(t, err)

		log.Info("alias created")
		_ = log.Sync()

		data, err := os.ReadFile(file)
		require.NoError(t, err)
		assert.Contains(t, string(data), "alias created")
		assert.Contains(t, string(data), `"service":"relaymail"`)
	})

	t.Run("非法级别回退为 info", func(t *testing.T) {
		log, err := New(config.LogConfig{Level: "verbose"})
		require.NoError(t, err)
		assert.False(t, log.Core().Enabled(-1))
		assert.True(t, log.Core().Enabled(0))
	})
}
