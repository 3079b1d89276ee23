package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewWriter(t *testing.T) {
	t.Run("json output", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewWriter(&buf, Options{Level: "info", Format: "json"})
		require.NoError(t, err)

		logger.Info("job failed permanently", "kind", "embed_split")
		logger.Debug("hidden")

		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, "job failed permanently", rec["msg"])
		assert.Equal(t, "embed_split", rec["kind"])
	})

	t.Run("text output respects level", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewWriter(&buf, Options{Level: "warn"})
		require.NoError(t, err)

		logger.Info("quiet")
		logger.Warn("loud")

		assert.NotContains(t, buf.String(), "quiet")
		assert.Contains(t, buf.String(), "msg=loud")
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := NewWriter(&bytes.Buffer{}, Options{Format: "xml"})
		assert.Error(t, err)
	})
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := Nop()
	assert.Same(t, l, OrNop(l))
}
