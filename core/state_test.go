package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateBlob_RoundTripsThroughEncodeDecode(t *testing.T) {
	s := &stateBlobV1{
		version:       1,
		primal:        []float64{1, 2, 3, 4.5},
		momentum:      []float64{0.1, 0.2, 0.3, 0.4},
		extrapCoeff:   1.618,
		prevObjective: 42.0,
		iteration:     17,
		lipschitz:     3.3,
		fingerprint:   kernelFingerprint{tauRise: 0.1, tauDecay: 1.0, fs: 30.0, filterEnabled: true, n: 4},
	}
	blob := encodeStateBlob(s)
	decoded, err := decodeStateBlob(blob)
	require.NoError(t, err)

	assert.Equal(t, s.primal, decoded.primal)
	assert.Equal(t, s.momentum, decoded.momentum)
	assert.InDelta(t, s.extrapCoeff, decoded.extrapCoeff, 1e-12)
	assert.InDelta(t, s.prevObjective, decoded.prevObjective, 1e-12)
	assert.Equal(t, s.iteration, decoded.iteration)
	assert.InDelta(t, s.lipschitz, decoded.lipschitz, 1e-12)
	assert.Equal(t, s.fingerprint, decoded.fingerprint)
}

func TestStateBlob_RoundTripsEmptyVectors(t *testing.T) {
	s := &stateBlobV1{
		version:     1,
		primal:      []float64{},
		momentum:    []float64{},
		fingerprint: kernelFingerprint{n: 0},
	}
	blob := encodeStateBlob(s)
	decoded, err := decodeStateBlob(blob)
	require.NoError(t, err)
	assert.Empty(t, decoded.primal)
	assert.Empty(t, decoded.momentum)
}

func TestDecodeStateBlob_RejectsUnknownVersion(t *testing.T) {
	blob := []byte{99, 0, 0, 0, 0}
	_, err := decodeStateBlob(blob)
	assert.Error(t, err)
}

func TestDecodeStateBlob_RejectsTruncatedPayload(t *testing.T) {
	s := &stateBlobV1{primal: []float64{1, 2, 3}, momentum: []float64{1, 2, 3}}
	blob := encodeStateBlob(s)
	_, err := decodeStateBlob(blob[:len(blob)-4])
	assert.Error(t, err)
}
