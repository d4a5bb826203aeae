// Package arena accounts for the memory backing hash rings.
//
// Every ring stores its (token, partition) entries in one contiguous block of
// 8 bytes per entry. Blocks are ordinary Go slices; the arena only tracks how
// many bytes are held by live blocks and asks for reclamation once that number
// crosses a threshold.
package arena

import (
	"runtime"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// DefaultThreshold is the number of allocated bytes above which the arena
// requests reclamation.
const DefaultThreshold = 128 << 20

// EntrySize is the number of bytes accounted for a single ring entry.
const EntrySize = 8

var defaultArena Arena

// Default returns the process wide arena.
func Default() *Arena {
	return &defaultArena
}

// Arena tracks bytes held by live blocks.
// The zero value for Arena is ready to use. Arena instances must not be
// copied.
type Arena struct {
	// Threshold is an optional number of bytes after which reclamation is
	// requested. If Threshold is zero, then the DefaultThreshold is used.
	Threshold int64

	mu       sync.Mutex
	handlers []*pressure

	allocated atomic.Int64

	// pending is set while a reclaim goroutine is outstanding.
	pending atomic.Bool

	wg sync.WaitGroup
}

// Alloc returns a block able to hold n entries and accounts for it.
func (a *Arena) Alloc(n int) *Block {
	if n < 0 {
		panic("arena: negative block size")
	}
	size := int64(n) * EntrySize
	b := &Block{
		arena: a,
		data:  make([]uint64, n),
	}
	b.size.Store(size)

	total := a.allocated.Add(size)
	if total > a.threshold() {
		a.requestReclaim(total)
	}
	return b
}

// Allocated returns the number of bytes held by unreleased blocks.
func (a *Arena) Allocated() int64 {
	return a.allocated.Load()
}

// Wait blocks until an outstanding reclaim goroutine (if any) completes.
func (a *Arena) Wait() {
	a.wg.Wait()
}

func (a *Arena) threshold() int64 {
	if t := a.Threshold; t > 0 {
		return t
	}
	return DefaultThreshold
}

type pressure struct {
	logger  *zap.Logger
	reclaim func()
}

// OnPressure registers logger used to report memory pressure and reclaim
// function called from a background goroutine when allocated bytes exceed the
// threshold. Either of them may be nil. After all registered handlers are run
// the arena requests a garbage collection cycle, so that rings dropped by
// reclaim functions stop being accounted.
//
// The returned function removes the handler. It is safe to call it more than
// once.
func (a *Arena) OnPressure(log *zap.Logger, reclaim func()) (remove func()) {
	h := &pressure{
		logger:  log,
		reclaim: reclaim,
	}
	a.mu.Lock()
	a.handlers = append(a.handlers, h)
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		for i, x := range a.handlers {
			if x == h {
				a.handlers = append(a.handlers[:i:i], a.handlers[i+1:]...)
				return
			}
		}
	}
}

// requestReclaim starts at most one reclaim goroutine at a time.
func (a *Arena) requestReclaim(total int64) {
	if !a.pending.CompareAndSwap(false, true) {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.pending.Store(false)

		a.mu.Lock()
		hs := a.handlers
		a.mu.Unlock()

		for _, h := range hs {
			if h.logger != nil {
				h.logger.Warn(
					"arena: ring memory is above threshold; requesting reclamation",
					zap.Int64("allocated", total),
					zap.Int64("threshold", a.threshold()),
				)
			}
			if h.reclaim != nil {
				h.reclaim()
			}
		}
		runtime.GC()
	}()
}

func (a *Arena) free(size int64) {
	a.allocated.Sub(size)
}

// Block is a fixed size run of packed ring entries.
// Entries are written once by the constructing goroutine before the block is
// shared and are read-only afterwards.
type Block struct {
	arena *Arena

	// size is the accounted size of the block in bytes. It is swapped to zero
	// on release so that a second release is a no-op.
	size atomic.Int64

	data []uint64
}

// Entries returns packed entries of the block.
func (b *Block) Entries() []uint64 {
	return b.data
}

// Len returns number of entries in the block.
func (b *Block) Len() int {
	return len(b.data)
}

// Arena returns the arena the block was allocated from.
func (b *Block) Arena() *Arena {
	return b.arena
}

// Released reports whether the block was released.
func (b *Block) Released() bool {
	return b.size.Load() == 0 && len(b.data) > 0
}

// Release stops accounting for the block. It is safe to call Release more
// than once and from multiple goroutines; only the first call has an effect.
//
// Entries stay readable after Release: goroutines which loaded the owning
// ring before it was released may still be routing with it.
func (b *Block) Release() {
	if size := b.size.Swap(0); size != 0 {
		b.arena.free(size)
	}
}

// Pack returns an entry holding token t owned by partition p.
func Pack(t, p int32) uint64 {
	return uint64(uint32(t))<<32 | uint64(uint32(p))
}

// Token returns the token of a packed entry.
func Token(e uint64) int32 {
	return int32(uint32(e >> 32))
}

// Partition returns the partition of a packed entry.
func Partition(e uint64) int32 {
	return int32(uint32(e))
}
