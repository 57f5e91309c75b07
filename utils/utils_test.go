package utils

import (
	"path/filepath"
	"testing"

	"github.com/A-SH2k17/LeafEyeAIServer/config"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesMD5(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", BytesMD5(nil))
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", BytesMD5([]byte("hello")))
}

func TestNewRequestID(t *testing.T) {
	a, b := NewRequestID(), NewRequestID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestInitLoggerWithFile(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })

	path := filepath.Join(t.TempDir(), "leafeye.log")
	require.NoError(t, InitLogger(config.LogConfig{Mode: "release", File: path, MaxSizeMB: 1}))
	Logger.Info("hello")
	Sync()
	assert.FileExists(t, path)
}
