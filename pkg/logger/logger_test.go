package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithOutputJSON(t *testing.T) {
	t.Cleanup(func() { log = nil })

	var buf bytes.Buffer
	require.NoError(t, InitWithOutput("debug", "json", &buf))

	WithFields(logrus.Fields{"seq": 3}).Info("attempt started")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "attempt started", entry["msg"])
	assert.Equal(t, float64(3), entry["seq"])
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	t.Cleanup(func() { log = nil })
	assert.Error(t, InitWithOutput("verbose", "text", &bytes.Buffer{}))
}

func TestHelpersAreSafeBeforeInit(t *testing.T) {
	log = nil
	assert.NotPanics(t, func() {
		Debugf("x %d", 1)
		Info("x")
		Warnf("x")
		WithFields(logrus.Fields{"a": 1}).Warn("discarded")
	})
}
