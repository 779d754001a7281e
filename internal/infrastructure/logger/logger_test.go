package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		" error ": LevelError,
		"fatal":   LevelFatal,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLevel_YAML(t *testing.T) {
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte("level: warn\nformat: json\n"), &cfg))
	assert.Equal(t, LevelWarn, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
}

func TestLogrusLogger_DerivedLoggersShareOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogrusLogger(&Config{Level: LevelInfo, Format: "json"})
	log.SetOutput(&buf)

	child := log.WithField("component", "broadcaster")
	child.SetLevel(LevelDebug)
	child.Debug("pruned")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "broadcaster", line["component"])
	assert.Equal(t, "pruned", line["message"])
}
