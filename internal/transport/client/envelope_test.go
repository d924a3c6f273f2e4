package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	in := envelope{Source: "dcs01", MinID: 7, MajID: 3, Payload: []byte("*1.4#I#...\n")}
	out, err := decodeEnvelope(encodeEnvelope(in))
	require.NoError(t, err)
	assert.Equal(t, in.Source, out.Source)
	assert.Equal(t, in.MinID, out.MinID)
	assert.Equal(t, in.MajID, out.MajID)
	assert.Equal(t, in.Payload, out.Payload)
}

func TestEnvelopeEmptyPayload(t *testing.T) {
	in := envelope{Source: "x", MinID: 1, MajID: 1}
	out, err := decodeEnvelope(encodeEnvelope(in))
	require.NoError(t, err)
	assert.Empty(t, out.Payload)
}

func TestDecodeEnvelopeTruncated(t *testing.T) {
	_, err := decodeEnvelope([]byte{0, 1})
	assert.Error(t, err)
}

func TestNextBackoffCapsAtMax(t *testing.T) {
	assert.Equal(t, 4*time.Second, nextBackoff(2*time.Second, 300*time.Second))
	assert.Equal(t, 300*time.Second, nextBackoff(250*time.Second, 300*time.Second))
}
