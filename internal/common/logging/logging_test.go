package logging

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractStack(t *testing.T) {
	assert.Nil(t, ExtractStack(nil))
	assert.Nil(t, ExtractStack(plainError{}))
	assert.NotNil(t, ExtractStack(errors.New("with stack")))
	assert.NotNil(t, ExtractStack(errors.WithMessage(errors.WithStack(plainError{}), "wrapped")))
}

func TestWithStacktrace(t *testing.T) {
	logger, hook := test.NewNullLogger()
	WithStacktrace(logrus.NewEntry(logger), errors.New("boom")).Error("failed")
	require.Len(t, hook.Entries, 1)
	assert.Contains(t, hook.LastEntry().Data, Stacktrace)
	assert.Contains(t, hook.LastEntry().Data, logrus.ErrorKey)

	hook.Reset()
	WithStacktrace(logrus.NewEntry(logger), plainError{}).Error("failed")
	require.Len(t, hook.Entries, 1)
	assert.NotContains(t, hook.LastEntry().Data, Stacktrace)
}

func TestConfigureLogging(t *testing.T) {
	defer func() {
		logrus.SetFormatter(&logrus.TextFormatter{})
		logrus.SetLevel(logrus.InfoLevel)
	}()
	var buf bytes.Buffer
	require.NoError(t, ConfigureLogging(logrus.WarnLevel, "json", &buf))
	logrus.Info("hidden")
	logrus.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	assert.Error(t, ConfigureLogging(logrus.InfoLevel, "xml", &buf))
}

type plainError struct{}

func (plainError) Error() string { return "plain" }
