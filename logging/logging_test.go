package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTMLoggerCarriesKeyvals(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&log.JSONFormatter{})

	tm := NewTMLogger(log.NewEntry(logger)).With("module", "pubsub")
	tm.Info("subscribed", "client", "monitor", "dangling")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "subscribed", line["msg"])
	assert.Equal(t, "pubsub", line["module"])
	assert.Equal(t, "monitor", line["client"])
	assert.Equal(t, "(MISSING)", line["dangling"])
}

func TestConfigureRejectsUnknown(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Configure("loud", "text", &buf))
	assert.Error(t, Configure("info", "xml", &buf))
	require.NoError(t, Configure("debug", "json", &buf))
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	require.NoError(t, Configure("info", "text", &buf))
}
