package hashinator

import (
	"math"

	"github.com/gobwas/avl"
)

const (
	// MinToken is the lowest position on the ring. Every ring built from a
	// token set starts with it.
	MinToken Token = math.MinInt32

	// MaxToken is the highest position on the ring.
	MaxToken Token = math.MaxInt32
)

// Token is a position on the ring.
type Token int32

// Partition is an identifier of a logical shard.
type Partition int32

type entry struct {
	token     Token
	partition Partition
}

func (e entry) Compare(x avl.Item) int {
	y := x.(entry).token
	switch {
	case e.token < y:
		return -1
	case e.token > y:
		return 1
	}
	return 0
}

// Tokens is an immutable sorted mapping of tokens to partitions.
// Modifying methods return a new mapping sharing structure with the receiver,
// so Tokens values are cheap to copy and safe for concurrent use.
// The zero value for Tokens is an empty mapping ready to use.
type Tokens struct {
	tree avl.Tree // tree<entry>
}

// NewTokens returns a mapping holding all pairs of m.
func NewTokens(m map[Token]Partition) Tokens {
	var ts Tokens
	for t, p := range m {
		ts = ts.With(t, p)
	}
	return ts
}

// With returns a copy of ts where token t is owned by partition p.
func (ts Tokens) With(t Token, p Partition) Tokens {
	tree, _ := ts.tree.Delete(entry{token: t})
	tree, _ = tree.Insert(entry{token: t, partition: p})
	return Tokens{tree: tree}
}

// Without returns a copy of ts without token t.
func (ts Tokens) Without(t Token) Tokens {
	tree, _ := ts.tree.Delete(entry{token: t})
	return Tokens{tree: tree}
}

// Get returns partition owning token t.
func (ts Tokens) Get(t Token) (p Partition, ok bool) {
	x := ts.tree.Search(entry{token: t})
	if x == nil {
		return 0, false
	}
	return x.(entry).partition, true
}

// Len returns number of tokens.
func (ts Tokens) Len() int {
	return ts.tree.Size()
}

// Min returns the lowest token and its partition.
func (ts Tokens) Min() (t Token, p Partition, ok bool) {
	x := ts.tree.Min()
	if x == nil {
		return 0, 0, false
	}
	e := x.(entry)
	return e.token, e.partition, true
}

// Ascend calls fn for each token in increasing order until fn returns false.
func (ts Tokens) Ascend(fn func(Token, Partition) bool) {
	ts.tree.InOrder(func(x avl.Item) bool {
		e := x.(entry)
		return fn(e.token, e.partition)
	})
}

// Map returns contents of ts as a Go map.
func (ts Tokens) Map() map[Token]Partition {
	m := make(map[Token]Partition, ts.Len())
	ts.Ascend(func(t Token, p Partition) bool {
		m[t] = p
		return true
	})
	return m
}

func (ts Tokens) entries() []entry {
	es := make([]entry, 0, ts.Len())
	ts.Ascend(func(t Token, p Partition) bool {
		es = append(es, entry{t, p})
		return true
	})
	return es
}

// floor returns index of the greatest entry of es having token less or
// equal to t, or -1.
func floor(es []entry, t Token) int {
	lo, hi := 0, len(es)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if es[mid].token <= t {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}
