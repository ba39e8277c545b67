package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	saved := log.Logger
	t.Cleanup(func() { log.Logger = saved })

	var buf bytes.Buffer
	require.NoError(t, Init(&buf, "INFO"))

	log.Debug().Msg("hidden")
	log.Info().Str("director", "dir:9101").Msg("connected")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "dir:9101", line["director"])
	assert.Equal(t, "connected", line["message"])
}

func TestInitDefaultsToWarn(t *testing.T) {
	saved := log.Logger
	t.Cleanup(func() { log.Logger = saved })

	var buf bytes.Buffer
	require.NoError(t, Init(&buf, ""))
	log.Info().Msg("quiet")
	assert.Zero(t, buf.Len())
	log.Warn().Msg("loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Init(&bytes.Buffer{}, "chatty"))
}
