package compression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	payload := []byte("*1.4#I#1#ts#host#role#1#user#sys#fac#det#part#7#0#0#src#hello world\n")

	for _, alg := range []Algorithm{None, Snappy, LZ4, Zstd} {
		alg := alg
		t.Run(string(alg), func(t *testing.T) {
			codec, err := New(alg)
			require.NoError(t, err)
			assert.Equal(t, alg, codec.Algorithm())

			compressed, err := codec.Compress(payload)
			require.NoError(t, err)

			out, err := codec.Decompress(compressed)
			require.NoError(t, err)
			assert.Equal(t, payload, out)
		})
	}
}

func TestNewUnknownAlgorithm(t *testing.T) {
	_, err := New("bogus")
	require.Error(t, err)
}
