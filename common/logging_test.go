package common

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(&LoggingOpts{JSON: true, Service: "custody", Version: "v1", Output: &buf})

	logger.Info("hello", "k", "v")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "custody", line["service"])
	assert.Equal(t, "v1", line["version"])
	assert.Equal(t, "v", line["k"])
}

func TestSetupLogger_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	SetupLogger(&LoggingOpts{Output: &buf}).Debug("hidden")
	assert.Empty(t, buf.String())

	SetupLogger(&LoggingOpts{Debug: true, Output: &buf}).Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestSetupLogger_DefaultService(t *testing.T) {
	var buf bytes.Buffer
	SetupLogger(&LoggingOpts{Output: &buf}).Info("hi")
	assert.Contains(t, buf.String(), "service="+PackageName)
}
