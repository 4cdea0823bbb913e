package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":    zapcore.DebugLevel,
		"INFO":     zapcore.InfoLevel,
		"warning":  zapcore.WarnLevel,
		"error":    zapcore.ErrorLevel,
		"CRITICAL": zapcore.FatalLevel,
		"bogus":    zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewWritesLogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	log, err := New(Config{Level: "debug", Dir: dir, FileName: "test.log"})
	require.NoError(t, err)

	log.Info("hello")
	_ = log.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
