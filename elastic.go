package hashinator

import (
	"encoding/binary"
	"math"
	"math/rand"
	"sort"

	"github.com/voltdb/hashinator/internal/arena"
)

// ringSpan is the number of positions on the ring.
const ringSpan = int64(1) << 32

// DefaultTotalTokens is the number of tokens on a ring created by
// InitialConfig with DefaultTokensPerPartition.
const DefaultTotalTokens = 16384

// DefaultTokensPerPartition returns the number of tokens per partition which
// keeps total number of tokens close to DefaultTotalTokens.
func DefaultTokensPerPartition(partitions int) int {
	if partitions <= 0 {
		return 1
	}
	if n := DefaultTotalTokens / partitions; n > 0 {
		return n
	}
	return 1
}

// InitialConfig returns config of a ring with partitions*tokensPerPartition
// evenly spaced tokens. Tokens are given to partitions in round robin.
func InitialConfig(partitions, tokensPerPartition int) (*RingConfig, error) {
	if partitions <= 0 || tokensPerPartition <= 0 {
		return nil, invalidArgumentf(
			"partitions (%d) and tokens per partition (%d) must be positive",
			partitions, tokensPerPartition,
		)
	}
	total := int64(partitions) * int64(tokensPerPartition)
	if total > math.MaxInt32 || total > ringSpan/2 {
		return nil, invalidArgumentf("too many tokens: %d", total)
	}
	interval := ringSpan / total

	p := make([]byte, countSize+total*arena.EntrySize)
	binary.BigEndian.PutUint32(p, uint32(total))
	for i := int64(0); i < total; i++ {
		t := int32(int64(MinToken) + i*interval)
		part := int32(i % int64(partitions))
		binary.BigEndian.PutUint64(p[countSize+i*arena.EntrySize:], arena.Pack(t, part))
	}
	return newRingConfig(p), nil
}

// AddTokens returns a new ring holding tokens of r merged with tokens of add.
// Tokens present on both take the partition from add.
//
// At most one token of r is expected to lie off the bucket boundary at any
// time (a partition's token which is being moved forward). Such a token is
// dropped when add holds a token of the same partition within the same bucket
// below it.
func AddTokens(r *Ring, add Tokens) (*Ring, error) {
	es := r.block.Entries()
	interval := tokenInterval(es)
	plan := add.entries()

	ts := add
	for _, e := range es {
		t := Token(arena.Token(e))
		p := Partition(arena.Partition(e))
		if _, has := add.Get(t); has {
			continue
		}
		if isIntermediate(t, interval) {
			if i := floor(plan, t); i >= 0 {
				f := plan[i]
				if f.partition == p && bucketOf(f.token, interval) == bucketOf(t, interval) {
					continue
				}
			}
		}
		ts = ts.With(t, p)
	}
	return FromTokens(ts, withArena(r.block.Arena()))
}

// tokenInterval derives bucket width of the ring from the first ranges
// starting at MinToken. At most one token is expected to be off the bucket
// boundary, so the maximum of first four deltas is a bucket width.
func tokenInterval(es []uint64) int64 {
	var (
		interval int64
		prev     = int64(MinToken)
	)
	for i := 0; i < len(es) && i < 4; i++ {
		t := int64(arena.Token(es[i]))
		if d := t - prev; d > interval {
			interval = d
		}
		prev = t
	}
	if interval == 0 {
		// Single token ring: the whole ring is one bucket.
		return ringSpan
	}
	return interval
}

func bucketOf(t Token, interval int64) int64 {
	return ((int64(t)-int64(MinToken))/interval)*interval + int64(MinToken)
}

func isIntermediate(t Token, interval int64) bool {
	return bucketOf(t, interval) != int64(t)
}

// AddPartitions returns config of a ring where count new partitions take over
// tokens of r.
//
// New partitions get identifiers following the highest existing one. Each new
// partition takes tokens one by one from the currently most loaded partition
// until it owns tokens/(partitions+count) of them. Which token of the donor is
// taken is chosen pseudo-randomly with given seed, so equal seeds produce
// equal configs. Tokens which are not taken keep their partitions.
func AddPartitions(r *Ring, count int, seed int64) (*RingConfig, error) {
	plan, err := placePartitions(r, count, seed)
	if err != nil {
		return nil, err
	}
	next, err := AddTokens(r, plan)
	if err != nil {
		return nil, err
	}
	defer next.Close()
	return next.Config(), nil
}

func placePartitions(r *Ring, count int, seed int64) (Tokens, error) {
	if count <= 0 {
		return Tokens{}, invalidArgumentf("partitions count must be positive; got %d", count)
	}
	owned := make(map[Partition][]Token)
	for _, e := range r.block.Entries() {
		p := Partition(arena.Partition(e))
		owned[p] = append(owned[p], Token(arena.Token(e)))
	}
	ids := make([]Partition, 0, len(owned)+count)
	for p := range owned {
		ids = append(ids, p)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})
	if int64(ids[len(ids)-1])+int64(count) > math.MaxInt32 {
		return Tokens{}, invalidArgumentf("partition identifiers overflow")
	}

	total := r.TokenCount()
	target := total / (len(owned) + count)
	if target == 0 {
		return Tokens{}, invalidArgumentf(
			"ring of %d tokens can not hold %d partitions",
			total, len(owned)+count,
		)
	}

	var (
		rnd  = rand.New(rand.NewSource(seed))
		plan Tokens
		last = ids[len(ids)-1]
	)
	for k := 1; k <= count; k++ {
		p := last + Partition(k)
		for n := 0; n < target; n++ {
			donor := mostLoaded(ids, owned)
			ts := owned[donor]
			if len(ts) <= 1 {
				panic("hashinator: internal error: donor would lose its last token")
			}
			i := rnd.Intn(len(ts))
			t := ts[i]
			ts[i] = ts[len(ts)-1]
			owned[donor] = ts[:len(ts)-1]
			owned[p] = append(owned[p], t)
			plan = plan.With(t, p)
		}
		ids = append(ids, p)
	}
	return plan, nil
}

// mostLoaded returns partition owning most tokens. Ties are resolved to the
// lowest identifier; ids must be sorted.
func mostLoaded(ids []Partition, owned map[Partition][]Token) (ret Partition) {
	max := -1
	for _, p := range ids {
		if n := len(owned[p]); n > max {
			ret, max = p, n
		}
	}
	return ret
}
