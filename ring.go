package hashinator

import (
	"fmt"
	"runtime"
	"sort"

	"github.com/voltdb/hashinator/internal/arena"
)

// Ring is an immutable consistent hashing ring. It maps ring tokens to
// partitions.
//
// Each token owns the part of the ring from itself up to (but not including)
// the next token. Values hashed below the lowest token belong to the owner of
// the highest token since the ring wraps around.
//
// Ring is safe for concurrent use. Ring instances must not be copied.
type Ring struct {
	// block holds packed (token, partition) entries sorted by token.
	// It is written once before the ring is returned by a constructor.
	block *arena.Block

	config *RingConfig
}

// FromTokens builds a ring from token set ts. The lowest token must be
// MinToken.
func FromTokens(ts Tokens, opts ...Option) (*Ring, error) {
	min, _, ok := ts.Min()
	if !ok {
		return nil, fmt.Errorf("%w: no tokens", ErrInvalidRing)
	}
	if min != MinToken {
		return nil, fmt.Errorf(
			"%w: first token is %d; want %d",
			ErrInvalidRing, min, MinToken,
		)
	}
	o := newOptions(opts)
	b := o.allocator().Alloc(ts.Len())
	es := b.Entries()
	var i int
	ts.Ascend(func(t Token, p Partition) bool {
		es[i] = arena.Pack(int32(t), int32(p))
		i++
		return true
	})
	return newRing(b), nil
}

// FromBytes builds a ring from raw or cooked config bytes.
// It returns error wrapping ErrMalformedConfig if p is not a valid config.
func FromBytes(p []byte, cooked bool, opts ...Option) (*Ring, error) {
	o := newOptions(opts)
	var (
		b   *arena.Block
		err error
	)
	if cooked {
		b, err = decodeCooked(p, o.allocator())
	} else {
		b, err = decodeRaw(p, o.allocator())
	}
	if err != nil {
		return nil, err
	}
	return newRing(b), nil
}

func newRing(b *arena.Block) *Ring {
	r := &Ring{
		block:  b,
		config: newRingConfig(encodeRaw(b.Entries())),
	}
	assertSorted(r)
	runtime.SetFinalizer(r, (*Ring).Close)
	return r
}

// Close releases memory accounted for the ring. Ring stays usable after Close
// for goroutines which still hold it. It is safe to call Close more than once.
// Rings which are never closed are released once garbage collected.
func (r *Ring) Close() {
	r.block.Release()
}

// Config returns serialized form of the ring.
func (r *Ring) Config() *RingConfig {
	return r.config
}

// Signature returns checksum of the ring's raw config.
func (r *Ring) Signature() uint64 {
	return r.config.signature
}

// TokenCount returns number of tokens on the ring.
func (r *Ring) TokenCount() int {
	return r.block.Len()
}

// Tokens returns the ring's token mapping.
func (r *Ring) Tokens() Tokens {
	var ts Tokens
	for _, e := range r.block.Entries() {
		ts = ts.With(Token(arena.Token(e)), Partition(arena.Partition(e)))
	}
	return ts
}

// Partitions returns sorted list of partitions owning at least one token.
func (r *Ring) Partitions() []Partition {
	seen := make(map[Partition]struct{})
	for _, e := range r.block.Entries() {
		seen[Partition(arena.Partition(e))] = struct{}{}
	}
	ps := make([]Partition, 0, len(seen))
	for p := range seen {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool {
		return ps[i] < ps[j]
	})
	return ps
}

// PartitionForToken returns partition owning ring position t.
func (r *Ring) PartitionForToken(t Token) Partition {
	es := r.block.Entries()
	return Partition(arena.Partition(es[r.index(t)]))
}

// index returns index of the entry owning position t.
func (r *Ring) index(t Token) int {
	es := r.block.Entries()
	lo, hi := 0, len(es)-1
	for lo <= hi {
		mid := int(uint(lo+hi) >> 1)
		switch v := Token(arena.Token(es[mid])); {
		case v < t:
			lo = mid + 1
		case v > t:
			hi = mid - 1
		default:
			return mid
		}
	}
	if lo == 0 {
		// Wrap around.
		return len(es) - 1
	}
	return lo - 1
}

// HashLong returns partition for integer value v.
// The math.MinInt64 value is the null integer and always maps to partition 0.
func (r *Ring) HashLong(v int64) Partition {
	t, hashed, _ := longToken(v)
	if !hashed {
		return 0
	}
	return r.PartitionForToken(t)
}

// HashBytes returns partition for byte string p.
func (r *Ring) HashBytes(p []byte) Partition {
	return r.PartitionForToken(HashBytes(p))
}

// HashValue returns partition for a value of a partitioning column.
// Integers of any width are hashed as int64, strings as their UTF-8 bytes.
// Null values (nil, nil byte slices and math.MinInt64) map to partition 0.
func (r *Ring) HashValue(v interface{}) (Partition, error) {
	t, hashed, err := valueToken(v)
	if err != nil || !hashed {
		return 0, err
	}
	return r.PartitionForToken(t), nil
}

// maxPartitionKeys is the number of integer keys PartitionKeys tries.
const maxPartitionKeys = 1 << 20

// PartitionKeys returns one integer key per partition which routes to that
// partition. It is used to dispatch work to every partition.
//
// Keys are searched among the first maxPartitionKeys non-negative integers.
// A partition owning so narrow ranges that none of them routes to it is
// absent from the result.
func (r *Ring) PartitionKeys() map[Partition]int64 {
	ps := r.Partitions()
	keys := make(map[Partition]int64, len(ps))
	for k := int64(0); k < maxPartitionKeys && len(keys) < len(ps); k++ {
		p := r.HashLong(k)
		if _, has := keys[p]; !has {
			keys[p] = k
		}
	}
	return keys
}

// Predecessors returns, for every token owned by partition p, the entry
// preceding it on the ring, unless that entry is owned by p as well.
//
// It scans the whole ring and should not be used on hot paths.
func (r *Ring) Predecessors(p Partition) map[Token]Partition {
	es := r.block.Entries()
	ret := make(map[Token]Partition)
	for i, e := range es {
		if Partition(arena.Partition(e)) != p {
			continue
		}
		prev := es[(i+len(es)-1)%len(es)]
		if pp := Partition(arena.Partition(prev)); pp != p {
			ret[Token(arena.Token(prev))] = pp
		}
	}
	return ret
}

// Predecessor returns the entry preceding token t owned by partition p.
func (r *Ring) Predecessor(p Partition, t Token) (Token, Partition, error) {
	es := r.block.Entries()
	i := r.index(t)
	if Token(arena.Token(es[i])) != t || Partition(arena.Partition(es[i])) != p {
		return 0, 0, invalidArgumentf(
			"token %d does not map to partition %d", t, p,
		)
	}
	if len(es) == 1 {
		return 0, 0, fmt.Errorf("%w: token %d is the only one on the ring", ErrIllegalState, t)
	}
	prev := es[(i+len(es)-1)%len(es)]
	return Token(arena.Token(prev)), Partition(arena.Partition(prev)), nil
}

// Ranges returns ranges of the ring owned by partition p as a mapping of
// range start to inclusive range end. The range of the highest token ends at
// MaxToken. If the lowest token is above MinToken, the owner of the highest
// token also owns the range from MinToken up to the lowest token.
func (r *Ring) Ranges(p Partition) map[Token]Token {
	es := r.block.Entries()
	ret := make(map[Token]Token)
	var (
		start Token
		open  bool
	)
	if first := Token(arena.Token(es[0])); first != MinToken {
		if Partition(arena.Partition(es[len(es)-1])) == p {
			ret[MinToken] = first - 1
		}
	}
	for _, e := range es {
		t := Token(arena.Token(e))
		if open {
			ret[start] = t - 1
			open = false
		}
		if Partition(arena.Partition(e)) == p {
			start, open = t, true
		}
	}
	if open {
		ret[start] = MaxToken
	}
	return ret
}

// Equal reports whether r and x route all tokens of both rings equally.
//
// Rings having equal signatures are equal. Otherwise a token present on both
// rings with different partitions makes them unequal, while a token present
// on one ring only is tolerated if the other ring routes it to the same
// partition. That allows a ring which temporarily holds a token off the bucket
// boundary to be equal to a ring without it.
func (r *Ring) Equal(x *Ring) bool {
	if r == x {
		return true
	}
	if r == nil || x == nil {
		return false
	}
	if r.Signature() == x.Signature() {
		return true
	}
	var (
		a = r.block.Entries()
		b = x.block.Entries()
	)
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j == len(b) || (i < len(a) && arena.Token(a[i]) < arena.Token(b[j])):
			// Only on r.
			t, p := arena.Token(a[i]), arena.Partition(a[i])
			if x.PartitionForToken(Token(t)) != Partition(p) {
				return false
			}
			i++
		case i == len(a) || arena.Token(b[j]) < arena.Token(a[i]):
			// Only on x.
			t, p := arena.Token(b[j]), arena.Partition(b[j])
			if r.PartitionForToken(Token(t)) != Partition(p) {
				return false
			}
			j++
		default:
			if a[i] != b[j] {
				return false
			}
			i++
			j++
		}
	}
	return true
}
