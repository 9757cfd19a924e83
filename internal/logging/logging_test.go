package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("warn", &buf)

	l.Infof("hidden %d", 1)
	assert.Empty(t, buf.String())

	l.Warnf("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("loud", &buf)

	l.Debugf("debug")
	assert.Empty(t, buf.String())
	l.Infof("info")
	assert.Contains(t, buf.String(), "info")
}

func TestFieldsAndNilLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("debug", &buf)
	l.WithFields(map[string]any{"entry_id": "q-1"}).WithError(errors.New("boom")).Errorf("replay failed")

	out := buf.String()
	assert.Contains(t, out, "entry_id=q-1")
	assert.Contains(t, out, "error=boom")

	var nilLogger *Logger
	assert.NotPanics(t, func() {
		nilLogger.WithFields(map[string]any{"a": 1}).Infof("nothing")
	})
}
