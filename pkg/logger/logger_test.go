package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitWithFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, Init(&LogConfig{Level: "debug", Filename: file}, "release"))
	t.Cleanup(func() { Lg = zap.NewNop() })

	Info("dispatch finished", zap.Int("delivered", 2))
	assert.True(t, Lg.Core().Enabled(zapcore.DebugLevel))
	_ = Sync()
	assert.FileExists(t, file)
}

func TestInitRejectsBadLevel(t *testing.T) {
	assert.Error(t, Init(&LogConfig{Level: "loud"}, "debug"))
}

func TestSetLevel(t *testing.T) {
	require.NoError(t, Init(nil, "debug"))
	t.Cleanup(func() { Lg = zap.NewNop() })

	require.NoError(t, SetLevel("error"))
	assert.False(t, Lg.Core().Enabled(zapcore.WarnLevel))
	require.NoError(t, SetLevel("info"))
	assert.True(t, Lg.Core().Enabled(zapcore.InfoLevel))
}
