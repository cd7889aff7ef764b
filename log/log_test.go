package log_test

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"pipelined.dev/voltpipe/log"
)

func TestWithLevel(t *testing.T) {
	l, err := log.WithLevel("warn")
	assert.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, l.GetLevel())

	l, err = log.WithLevel("")
	assert.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())

	_, err = log.WithLevel("loud")
	assert.Error(t, err)
}

func TestStage(t *testing.T) {
	var buf bytes.Buffer
	l := log.GetLogger()
	l.SetOutput(&buf)
	log.Stage(l, "strip").Info("started")
	assert.Contains(t, buf.String(), "stage=strip")

	assert.NotNil(t, log.Stage(nil, "writer"))
}
