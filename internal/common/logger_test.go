package common

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for name, want := range tests {
		assert.Equal(t, want, ParseLevel(name), name)
	}
}

func TestLogHelpers(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	LogError(errors.New("lot missing"), "Material failed", Fields{"material": "Em2p", "lot": "L-1"})
	out := buf.String()
	assert.Contains(t, out, `msg="Material failed"`)
	assert.Contains(t, out, `error="lot missing"`)
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("lot=L-1")), bytes.Index(buf.Bytes(), []byte("material=Em2p")))

	buf.Reset()
	LogDebug("hidden", nil)
	assert.Empty(t, buf.String())

	LogWarn("Run history unavailable", Fields{"path": "/tmp/h.db"})
	assert.Contains(t, buf.String(), "level=WARN")
}
