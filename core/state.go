package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// stateBlobVersion identifies the wire layout of an encoded state blob.
// Bumped whenever the binary layout changes; decodeStateBlob refuses to
// read a blob whose version it does not recognize.
const stateBlobVersion byte = 1

// kernelFingerprint identifies the kernel configuration a state blob was
// produced under. decodeStateBlob's caller refuses to warm-start from a
// blob whose fingerprint disagrees on length.
type kernelFingerprint struct {
	tauRise, tauDecay, fs float64
	filterEnabled         bool
	n                     int
}

// stateBlobV1 is the serialized FISTA solver state: primal vector,
// momentum vector, Nesterov extrapolation coefficient, previous objective
// value, iteration count, cached Lipschitz estimate, and a kernel
// fingerprint used to validate compatibility on warm-start.
type stateBlobV1 struct {
	version       byte
	primal        []float64
	momentum      []float64
	extrapCoeff   float64
	prevObjective float64
	iteration     uint32
	lipschitz     float64
	fingerprint   kernelFingerprint
}

// encodeStateBlob serializes s into its opaque wire layout: version byte;
// primal vector; momentum vector; extrapolation coefficient; previous
// objective; iteration count;
// Lipschitz estimate; kernel fingerprint.
func encodeStateBlob(s *stateBlobV1) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(stateBlobVersion)
	writeFloat64Slice(buf, s.primal)
	writeFloat64Slice(buf, s.momentum)
	writeFloat64(buf, s.extrapCoeff)
	writeFloat64(buf, s.prevObjective)
	writeUint32(buf, s.iteration)
	writeFloat64(buf, s.lipschitz)
	writeFloat64(buf, s.fingerprint.tauRise)
	writeFloat64(buf, s.fingerprint.tauDecay)
	writeFloat64(buf, s.fingerprint.fs)
	writeBool(buf, s.fingerprint.filterEnabled)
	writeUint32(buf, uint32(s.fingerprint.n))
	return buf.Bytes()
}

// decodeStateBlob parses a blob produced by encodeStateBlob. It rejects
// blobs with an unrecognized version byte or a truncated/corrupt payload.
func decodeStateBlob(data []byte) (*stateBlobV1, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading version byte: %w", err)
	}
	if version != stateBlobVersion {
		return nil, fmt.Errorf("unsupported state blob version %d", version)
	}

	s := &stateBlobV1{version: version}
	if s.primal, err = readFloat64Slice(r); err != nil {
		return nil, fmt.Errorf("reading primal vector: %w", err)
	}
	if s.momentum, err = readFloat64Slice(r); err != nil {
		return nil, fmt.Errorf("reading momentum vector: %w", err)
	}
	if s.extrapCoeff, err = readFloat64(r); err != nil {
		return nil, fmt.Errorf("reading extrapolation coefficient: %w", err)
	}
	if s.prevObjective, err = readFloat64(r); err != nil {
		return nil, fmt.Errorf("reading previous objective: %w", err)
	}
	if s.iteration, err = readUint32(r); err != nil {
		return nil, fmt.Errorf("reading iteration count: %w", err)
	}
	if s.lipschitz, err = readFloat64(r); err != nil {
		return nil, fmt.Errorf("reading lipschitz estimate: %w", err)
	}
	if s.fingerprint.tauRise, err = readFloat64(r); err != nil {
		return nil, fmt.Errorf("reading fingerprint tau_rise: %w", err)
	}
	if s.fingerprint.tauDecay, err = readFloat64(r); err != nil {
		return nil, fmt.Errorf("reading fingerprint tau_decay: %w", err)
	}
	if s.fingerprint.fs, err = readFloat64(r); err != nil {
		return nil, fmt.Errorf("reading fingerprint fs: %w", err)
	}
	if s.fingerprint.filterEnabled, err = readBool(r); err != nil {
		return nil, fmt.Errorf("reading fingerprint filter_enabled: %w", err)
	}
	var n uint32
	if n, err = readUint32(r); err != nil {
		return nil, fmt.Errorf("reading fingerprint length: %w", err)
	}
	s.fingerprint.n = int(n)
	return s, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func writeFloat64(buf *bytes.Buffer, v float64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v))
	buf.Write(tmp[:])
}

func readFloat64(r *bytes.Reader) (float64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(tmp[:])), nil
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func writeFloat64Slice(buf *bytes.Buffer, xs []float64) {
	writeUint32(buf, uint32(len(xs)))
	for _, x := range xs {
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], math.Float64bits(x))
		buf.Write(tmp[:])
	}
}

func readFloat64Slice(r *bytes.Reader) ([]float64, error) {
	count, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]float64, count)
	for i := range out {
		v, err := readFloat64(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
