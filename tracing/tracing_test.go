package tracing

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-bestsellers/config"
)

func TestNewDisabled(t *testing.T) {
	tp, err := New(OptionsFromConfig(config.DefaultConfig()))
	require.NoError(t, err)
	assert.Nil(t, tp)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestNewExportsToWriter(t *testing.T) {
	var buf bytes.Buffer
	tp, err := New(Options{Writer: &buf})
	require.NoError(t, err)
	require.NotNil(t, tp)

	_, span := tp.Tracer("scraper").Start(context.Background(), "GET listing")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), `"Name":"GET listing"`)
	assert.Contains(t, buf.String(), ServiceName)
}

func TestNewExportsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces", "spans.jsonl")
	cfg := config.DefaultConfig()
	cfg.TraceOutput = path

	tp, err := New(OptionsFromConfig(cfg))
	require.NoError(t, err)

	_, span := tp.Tracer("scraper").Start(context.Background(), "GET detail")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "GET detail")
}
