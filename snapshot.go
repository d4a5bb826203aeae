package hashinator

import (
	"encoding/binary"
	"math"
)

// Snapshot layout is a big-endian version, a big-endian length of the cooked
// config and the cooked config itself.
const snapshotHeaderSize = 8 + 4

// Snapshot returns the active ring with its version in a form suitable for
// durable snapshot metadata.
func (r *Registry) Snapshot() ([]byte, error) {
	v := r.current.Load()
	cooked, err := v.Ring.Config().Cooked()
	if err != nil {
		return nil, err
	}
	return EncodeSnapshot(v.Version, cooked), nil
}

// Restore installs the ring stored by Snapshot. It follows the rules of
// Update, so restoring an older snapshot does not replace a newer ring.
func (r *Registry) Restore(p []byte) (UndoAction, *Ring, error) {
	version, cooked, err := DecodeSnapshot(p)
	if err != nil {
		return nil, nil, err
	}
	return r.Update(version, cooked, true)
}

// EncodeSnapshot encodes version and cooked config.
func EncodeSnapshot(version int64, cooked []byte) []byte {
	p := make([]byte, snapshotHeaderSize+len(cooked))
	binary.BigEndian.PutUint64(p, uint64(version))
	binary.BigEndian.PutUint32(p[8:], uint32(len(cooked)))
	copy(p[snapshotHeaderSize:], cooked)
	return p
}

// DecodeSnapshot decodes data encoded by EncodeSnapshot. Returned config
// shares memory with p.
func DecodeSnapshot(p []byte) (version int64, cooked []byte, err error) {
	if len(p) < snapshotHeaderSize {
		return 0, nil, malformedf("snapshot is %d bytes long", len(p))
	}
	version = int64(binary.BigEndian.Uint64(p))
	n := binary.BigEndian.Uint32(p[8:])
	if n > math.MaxInt32 || int64(n) != int64(len(p)-snapshotHeaderSize) {
		return 0, nil, malformedf(
			"snapshot holds %d config bytes; header says %d",
			len(p)-snapshotHeaderSize, n,
		)
	}
	if version < 0 {
		return 0, nil, malformedf("negative snapshot version %d", version)
	}
	return version, p[snapshotHeaderSize:], nil
}
