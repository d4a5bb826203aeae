package hashinator

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/gzip"

	"github.com/voltdb/hashinator/internal/arena"
)

// Raw config layout is a big-endian token count followed by count pairs of
// big-endian (token, partition) integers.
//
// Cooked config layout is the token count, then the four byte planes of all
// tokens (most significant plane first), then all partitions; the whole
// buffer is gzip compressed. Adjacent tokens share their high bytes, so
// planes compress much better than interleaved pairs.
const (
	countSize = 4
	planes    = 4
)

// RingConfig is an immutable serialized form of a ring.
type RingConfig struct {
	raw       []byte
	signature uint64

	cookOnce sync.Once
	cooked   []byte
	cookErr  error
}

func newRingConfig(raw []byte) *RingConfig {
	return &RingConfig{
		raw:       raw,
		signature: Signature(raw),
	}
}

// Signature returns 64-bit checksum of raw config bytes.
func Signature(raw []byte) uint64 {
	return xxhash.Sum64(raw)
}

// Raw returns raw config bytes. Returned slice must not be modified.
func (c *RingConfig) Raw() []byte {
	return c.raw
}

// Cooked returns cooked config bytes. They are computed once on first call.
// Returned slice must not be modified.
func (c *RingConfig) Cooked() ([]byte, error) {
	c.cookOnce.Do(func() {
		c.cooked, c.cookErr = Cook(c.raw)
	})
	return c.cooked, c.cookErr
}

// Signature returns checksum of the raw config bytes. Equal signatures are
// used as a fast path for comparing configs across nodes.
func (c *RingConfig) Signature() uint64 {
	return c.signature
}

// Cook converts raw config bytes into cooked ones.
func Cook(raw []byte) ([]byte, error) {
	var scratch arena.Arena
	b, err := decodeRaw(raw, &scratch)
	if err != nil {
		return nil, err
	}
	defer b.Release()
	return encodeCooked(b.Entries())
}

// Uncook converts cooked config bytes into raw ones.
func Uncook(cooked []byte) ([]byte, error) {
	var scratch arena.Arena
	b, err := decodeCooked(cooked, &scratch)
	if err != nil {
		return nil, err
	}
	defer b.Release()
	return encodeRaw(b.Entries()), nil
}

func encodeRaw(es []uint64) []byte {
	p := make([]byte, countSize+len(es)*arena.EntrySize)
	binary.BigEndian.PutUint32(p, uint32(len(es)))
	for i, e := range es {
		// Packed entry holds token in its high half, so its big-endian form
		// is exactly the (token, partition) pair.
		binary.BigEndian.PutUint64(p[countSize+i*arena.EntrySize:], e)
	}
	return p
}

func decodeRaw(p []byte, a *arena.Arena) (*arena.Block, error) {
	n, err := readCount(p)
	if err != nil {
		return nil, err
	}
	b := a.Alloc(n)
	es := b.Entries()
	for i := range es {
		es[i] = binary.BigEndian.Uint64(p[countSize+i*arena.EntrySize:])
		if i > 0 && arena.Token(es[i]) <= arena.Token(es[i-1]) {
			b.Release()
			return nil, malformedf(
				"token #%d (%d) does not follow %d",
				i, arena.Token(es[i]), arena.Token(es[i-1]),
			)
		}
	}
	return b, nil
}

func encodeCooked(es []uint64) ([]byte, error) {
	n := len(es)
	p := make([]byte, countSize+n*arena.EntrySize)
	binary.BigEndian.PutUint32(p, uint32(n))

	off := countSize
	for plane := planes - 1; plane >= 0; plane-- {
		shift := uint(plane * 8)
		for _, e := range es {
			p[off] = byte(uint32(arena.Token(e)) >> shift)
			off++
		}
	}
	for _, e := range es {
		binary.BigEndian.PutUint32(p[off:], uint32(arena.Partition(e)))
		off += 4
	}

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(p); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeCooked(cooked []byte, a *arena.Arena) (*arena.Block, error) {
	r, err := gzip.NewReader(bytes.NewReader(cooked))
	if err != nil {
		return nil, malformedf("can not decompress: %v", err)
	}
	defer r.Close()

	var head [countSize]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, malformedf("can not decompress: %v", err)
	}
	n := int32(binary.BigEndian.Uint32(head[:]))
	if n <= 0 {
		return nil, malformedf("bad token count %d", n)
	}
	// Inflate at most one byte past the declared size.
	size := int64(n) * arena.EntrySize
	p, err := io.ReadAll(io.LimitReader(r, size+1))
	if err != nil {
		return nil, malformedf("can not decompress: %v", err)
	}
	if int64(len(p)) > size {
		return nil, malformedf(
			"config of %d tokens exceeds %d bytes",
			n, countSize+size,
		)
	}
	if int64(len(p)) < size {
		return nil, malformedf(
			"config of %d tokens must be %d bytes long; got %d",
			n, countSize+size, countSize+len(p),
		)
	}
	count := int(n)
	var (
		tokens     = p[:count*planes]
		partitions = p[count*planes:]
	)
	b := a.Alloc(count)
	es := b.Entries()
	for i := range es {
		t := uint32(tokens[i])<<24 |
			uint32(tokens[count+i])<<16 |
			uint32(tokens[2*count+i])<<8 |
			uint32(tokens[3*count+i])
		part := binary.BigEndian.Uint32(partitions[i*4:])
		es[i] = arena.Pack(int32(t), int32(part))
		if i > 0 && arena.Token(es[i]) <= arena.Token(es[i-1]) {
			b.Release()
			return nil, malformedf(
				"token #%d (%d) does not follow %d",
				i, arena.Token(es[i]), arena.Token(es[i-1]),
			)
		}
	}
	return b, nil
}

// readCount reads token count of raw config p and checks that p holds exactly
// that many entries.
func readCount(p []byte) (int, error) {
	if len(p) < countSize {
		return 0, malformedf("config is %d bytes long", len(p))
	}
	n := int32(binary.BigEndian.Uint32(p))
	if n <= 0 {
		return 0, malformedf("bad token count %d", n)
	}
	if exp := int64(countSize) + int64(n)*arena.EntrySize; int64(len(p)) != exp {
		return 0, malformedf(
			"config of %d tokens must be %d bytes long; got %d",
			n, exp, len(p),
		)
	}
	return int(n), nil
}
