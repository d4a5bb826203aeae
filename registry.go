package hashinator

import (
	"github.com/zhangyunhao116/skipmap"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/voltdb/hashinator/internal/arena"
)

// VersionedRing is a ring together with the version it was installed at.
type VersionedRing struct {
	Version int64
	Ring    *Ring
}

// UndoAction is a compensating action returned by Registry.Update.
type UndoAction interface {
	// Undo reinstalls the ring which was current before the update, unless
	// another update already replaced the installed ring.
	Undo()

	// Release discards the action.
	Release()
}

// Registry holds the active ring of a node.
//
// Rings are installed by version: an update is adopted only if its version is
// greater than the version of the active ring, so concurrent updates converge
// on the highest version no matter of their order. Reading the active ring
// never blocks.
//
// Registry is safe for concurrent use.
type Registry struct {
	kind      Kind
	arena     *arena.Arena
	logger    *zap.Logger
	retention int64

	// current is the only pointer readers load to route.
	current atomic.Pointer[VersionedRing]

	// pristine is the ring the registry was created with.
	pristine *Ring

	// modified is set once a ring different from pristine is installed and
	// is never reset.
	modified atomic.Bool

	// cache maps versions to rings, so that repeated updates to the same
	// version share a single ring.
	cache *skipmap.OrderedMap[int64, *Ring]

	trace traceRegistry

	// unwatch removes the registry's memory pressure handler.
	unwatch func()
}

// NewRegistry returns registry with initial ring installed as version zero.
// The initial ring is also the pristine one.
//
// The registry prunes its version cache when the arena its rings are accounted
// in reports memory pressure. That is the process wide arena unless one was
// configured with WithMemoryThreshold. Registry must be closed to stop
// watching the arena.
func NewRegistry(initial *Ring, opts ...Option) *Registry {
	o := newOptions(opts)
	r := &Registry{
		kind:      o.kind,
		arena:     o.allocator(),
		logger:    o.logger,
		retention: o.retention,
		pristine:  initial,
		cache:     skipmap.New[int64, *Ring](),
	}
	r.cache.Store(0, initial)
	r.current.Store(&VersionedRing{
		Version: 0,
		Ring:    initial,
	})
	r.unwatch = r.arena.OnPressure(o.logger, r.reclaim)
	setupRegistryTrace(r)
	return r
}

// Update installs ring built from config bytes p as the given version.
//
// If version is not greater than the version of the active ring, Update does
// nothing and returns the active ring. Otherwise it returns the new ring and
// an action able to revert the update.
//
// It returns error wrapping ErrMalformedConfig if p can not be parsed; the
// active ring is left untouched then.
func (r *Registry) Update(version int64, p []byte, cooked bool) (_ UndoAction, _ *Ring, err error) {
	trace := r.trace.onUpdate(version)

	ring, has := r.cache.Load(version)
	if !has {
		done := trace.onConstruct(cooked)
		ring, err = r.kind.Construct(p, cooked, withArena(r.arena))
		done(err)
		if err != nil {
			return nil, nil, err
		}
		actual, loaded := r.cache.LoadOrStore(version, ring)
		if loaded {
			ring.Close()
			ring = actual
		}
	}
	for {
		prev := r.current.Load()
		if version <= prev.Version {
			trace.onDone(false, prev.Version)
			return noopUndo{}, prev.Ring, nil
		}
		next := &VersionedRing{
			Version: version,
			Ring:    ring,
		}
		if !r.current.CompareAndSwap(prev, next) {
			continue
		}
		if !r.modified.Load() && ring.Signature() != r.pristine.Signature() {
			if r.modified.CompareAndSwap(false, true) {
				r.logger.Debug(
					"hashinator: ring has been elastically modified",
					zap.Int64("version", version),
				)
			}
		}
		r.prune(version)
		trace.onDone(true, version)

		return &undoAction{
			registry: r,
			prev:     prev,
			next:     next,
		}, ring, nil
	}
}

// Current returns the active ring and its version.
func (r *Registry) Current() VersionedRing {
	return *r.current.Load()
}

// CurrentConfig returns config of the active ring and its version.
func (r *Registry) CurrentConfig() (int64, *RingConfig) {
	v := r.current.Load()
	return v.Version, v.Ring.Config()
}

// Pristine returns the ring the registry was created with.
func (r *Registry) Pristine() *Ring {
	return r.pristine
}

// IsElasticallyModified reports whether a ring different from the pristine
// one was ever installed.
func (r *Registry) IsElasticallyModified() bool {
	return r.modified.Load()
}

// Construct builds a ring of the registry's kind accounted in the registry's
// arena.
func (r *Registry) Construct(p []byte, cooked bool) (*Ring, error) {
	return r.kind.Construct(p, cooked, withArena(r.arena))
}

func (r *Registry) ring() *Ring {
	return r.current.Load().Ring
}

// HashLong returns partition of integer value v on the active ring.
func (r *Registry) HashLong(v int64) Partition {
	return r.ring().HashLong(v)
}

// HashBytes returns partition of byte string p on the active ring.
func (r *Registry) HashBytes(p []byte) Partition {
	return r.ring().HashBytes(p)
}

// HashValue returns partition of a column value on the active ring.
func (r *Registry) HashValue(v interface{}) (Partition, error) {
	return r.ring().HashValue(v)
}

// PartitionForToken returns partition owning token t on the active ring.
func (r *Registry) PartitionForToken(t Token) Partition {
	return r.ring().PartitionForToken(t)
}

// PartitionKeys returns one routing key per partition of the active ring.
func (r *Registry) PartitionKeys() map[Partition]int64 {
	return r.ring().PartitionKeys()
}

// Ranges returns ranges owned by partition p on the active ring.
func (r *Registry) Ranges(p Partition) map[Token]Token {
	return r.ring().Ranges(p)
}

// Predecessors returns predecessors of partition p tokens on the active ring.
func (r *Registry) Predecessors(p Partition) map[Token]Partition {
	return r.ring().Predecessors(p)
}

// Predecessor returns predecessor of token t of partition p on the active
// ring.
func (r *Registry) Predecessor(p Partition, t Token) (Token, Partition, error) {
	return r.ring().Predecessor(p, t)
}

// AddPartitions returns config of the active ring grown by count partitions.
func (r *Registry) AddPartitions(count int, seed int64) (*RingConfig, error) {
	return AddPartitions(r.ring(), count, seed)
}

// AddTokens returns config of the active ring merged with tokens ts.
func (r *Registry) AddTokens(ts Tokens) (*RingConfig, error) {
	next, err := AddTokens(r.ring(), ts)
	if err != nil {
		return nil, err
	}
	defer next.Close()
	return next.Config(), nil
}

// Signature returns signature of the active ring's config.
func (r *Registry) Signature() uint64 {
	return r.ring().Signature()
}

// ConfigBytes returns raw config of the active ring.
func (r *Registry) ConfigBytes() []byte {
	return r.ring().Config().Raw()
}

// CookedBytes returns cooked config of the active ring.
func (r *Registry) CookedBytes() ([]byte, error) {
	return r.ring().Config().Cooked()
}

// prune evicts cached rings of versions older than the retention window below
// version. Evicted rings which are neither active nor pristine are closed.
func (r *Registry) prune(version int64) {
	cutoff := version - r.retention
	var stale []int64
	r.cache.Range(func(v int64, _ *Ring) bool {
		if v >= cutoff {
			return false
		}
		stale = append(stale, v)
		return true
	})
	if len(stale) == 0 {
		return
	}
	active := r.ring()
	for _, v := range stale {
		ring, ok := r.cache.LoadAndDelete(v)
		if !ok {
			continue
		}
		if ring != active && ring != r.pristine {
			ring.Close()
		}
		r.trace.onPrune(v)
	}
}

func (r *Registry) reclaim() {
	r.prune(r.current.Load().Version)
}

// Close stops watching the arena for memory pressure. Registry stays usable
// after Close. It is safe to call Close more than once.
func (r *Registry) Close() {
	r.unwatch()
}

type undoAction struct {
	registry *Registry
	prev     *VersionedRing
	next     *VersionedRing
}

func (u *undoAction) Undo() {
	done := u.registry.trace.onUndo(u.next.Version, u.prev.Version)
	rolledBack := u.registry.current.CompareAndSwap(u.next, u.prev)
	if !rolledBack {
		u.registry.logger.Info(
			"hashinator: ring was not rolled back since it was replaced",
			zap.Int64("version", u.next.Version),
		)
	}
	done(rolledBack)
}

func (u *undoAction) Release() {}

type noopUndo struct{}

func (noopUndo) Undo()    {}
func (noopUndo) Release() {}
