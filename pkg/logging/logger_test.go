package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		err  bool
	}{
		{"trace", LevelTrace, false},
		{"DEBUG", LevelDebug, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

// TestStructuredFields проверяет что компонент, вызов и поля попадают в запись
func TestStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.DebugLevel)

	log := FromLogrus(l).WithComponent("gkclient").WithCall("call_o_1")
	log.Debug("sent ARQ", Uint16("seq", 7), Err(errors.New("boom")))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "gkclient", entry["component"])
	assert.Equal(t, "call_o_1", entry["call"])
	assert.Equal(t, float64(7), entry["seq"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "sent ARQ", entry["msg"])

	assert.True(t, log.IsEnabled(LevelDebug))
	assert.False(t, log.IsEnabled(LevelTrace))
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h323.log")
	root, err := New(Options{Level: "info", Format: "json", File: path, Quiet: true})
	require.NoError(t, err)
	root.Info("endpoint started", String("alias", "ep1"))
	require.NoError(t, root.Close())
	assert.FileExists(t, path)

	_, err = New(Options{Format: "xml"})
	assert.Error(t, err)
}

func TestNopDiscards(t *testing.T) {
	log := Nop()
	log.Error("nothing")
	assert.False(t, log.IsEnabled(LevelError))
}
