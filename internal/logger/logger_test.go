package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupTo_JSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	log := SetupTo(&buf, "warn", "json")
	log.Info().Msg("hidden")
	log.Warn().Str("component", "session").Msg("visible")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "visible", line["message"])
	assert.Equal(t, "session", line["component"])
	assert.Contains(t, line, "time")
}

func TestSetupTo_BadLevelDefaultsToInfo(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	SetupTo(&bytes.Buffer{}, "loud", "pretty")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestSetupTo_PrettyWithoutTerminalHasNoColor(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	log := SetupTo(&buf, "info", "pretty")
	log.Info().Msg("round started")

	assert.Contains(t, buf.String(), "round started")
	assert.NotContains(t, buf.String(), "\x1b[")
}
