package otel

import (
	"bytes"
	"context"
	"testing"

	"github.com/nulzo/gptload-sync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer(config.TracingConfig{Enabled: false}, zap.NewNop(), nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracer_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracer(config.TracingConfig{Enabled: true, ServiceName: "gptload-sync-test"}, zap.NewNop(), &buf)
	require.NoError(t, err)

	_, span := Tracer("test").Start(context.Background(), "sync.run")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "sync.run")
}
