package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledProviderReturnsNoopTracer(t *testing.T) {
	p, err := New("infologger-test", Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	_, span := p.StartSpan(context.Background(), "test", "op")
	assert.False(t, span.SpanContext().IsValid(), "a no-op tracer never produces a valid span context")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestUnknownExporterRejected(t *testing.T) {
	_, err := New("infologger-test", Config{Enabled: true, Exporter: "zipkin", Endpoint: "http://example"})
	assert.Error(t, err)
}

func TestNilProviderMethodsAreSafe(t *testing.T) {
	var p *Provider
	_, span := p.StartSpan(context.Background(), "test", "op")
	span.End()
	assert.NoError(t, p.Shutdown(context.Background()))
}
