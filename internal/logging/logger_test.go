package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"error", LevelError, false},
		{"WARN", LevelWarn, false},
		{"warning", LevelWarn, false},
		{" Info ", LevelInfo, false},
		{"debug", LevelDebug, false},
		{"TRACE", LevelTrace, false},
		{"loud", LevelInfo, true},
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

func TestWithPrefixSharesLevel(t *testing.T) {
	root := NewLogger("TEST")
	var buf bytes.Buffer
	root.SetOutput(&buf)

	child := root.WithPrefix("scan")
	child.Debug("hidden")
	assert.Empty(t, buf.String())

	root.SetLevel(LevelDebug)
	child.Debug("visible %d", 42)
	assert.Contains(t, buf.String(), "[DEBUG] (scan) visible 42")
	assert.Equal(t, LevelDebug, child.Level())
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "TRACE", LevelTrace.String())
	assert.Equal(t, "LEVEL(9)", LogLevel(9).String())
}
