package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	t.Cleanup(func() {
		_ = Setup(nil, "info", "text")
	})

	var buf bytes.Buffer
	require.NoError(t, Setup(&buf, "debug", "json"))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	logrus.WithField("isbn", "978-0").Debug("hello")
	assert.Contains(t, buf.String(), `"isbn":"978-0"`)

	assert.Error(t, Setup(nil, "loud", "text"))
	assert.Error(t, Setup(nil, "info", "xml"))
}

func TestGetLogger(t *testing.T) {
	base := GetLogger(context.Background())
	require.NotNil(t, base)
	assert.Empty(t, base.Data)

	entry := logrus.WithField("request_id", "abc")
	ctx := WithLogger(context.Background(), entry)
	assert.Same(t, entry, GetLogger(ctx))
}
