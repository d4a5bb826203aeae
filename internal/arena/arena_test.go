package arena

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"go.uber.org/atomic"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestArenaAccounting(t *testing.T) {
	var a Arena
	b0 := a.Alloc(16)
	b1 := a.Alloc(4)
	if act, exp := a.Allocated(), int64(20*EntrySize); act != exp {
		t.Fatalf("unexpected allocated bytes: %d; want %d", act, exp)
	}
	b0.Release()
	if act, exp := a.Allocated(), int64(4*EntrySize); act != exp {
		t.Fatalf("unexpected allocated bytes after release: %d; want %d", act, exp)
	}
	b1.Release()
	if act := a.Allocated(); act != 0 {
		t.Fatalf("unexpected allocated bytes after all released: %d", act)
	}
	a.Wait()
}

func TestBlockReleaseTwice(t *testing.T) {
	var a Arena
	b := a.Alloc(8)
	other := a.Alloc(2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Release()
		}()
	}
	wg.Wait()

	if !b.Released() {
		t.Fatalf("block must be released")
	}
	if act, exp := a.Allocated(), int64(2*EntrySize); act != exp {
		t.Fatalf("double release changed counter: %d; want %d", act, exp)
	}
	// Entries must stay readable for late readers.
	if n := len(b.Entries()); n != 8 {
		t.Fatalf("unexpected entries after release: %d", n)
	}
	other.Release()
	a.Wait()
}

func TestArenaReclaim(t *testing.T) {
	var (
		calls   atomic.Int64
		release = make(chan struct{})
	)
	a := Arena{
		Threshold: 10 * EntrySize,
	}
	a.OnPressure(zap.NewNop(), func() {
		calls.Inc()
		<-release
	})
	b0 := a.Alloc(8)
	if n := calls.Load(); n != 0 {
		t.Fatalf("reclaim must not be requested below threshold")
	}
	// Crosses the threshold; reclaim goroutine blocks on release channel so
	// further allocations must not start another one.
	b1 := a.Alloc(8)
	b2 := a.Alloc(8)
	close(release)
	a.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("unexpected number of reclaim calls: %d; want 1", n)
	}
	for _, b := range []*Block{b0, b1, b2} {
		b.Release()
	}
	if act := a.Allocated(); act != 0 {
		t.Fatalf("unexpected allocated bytes: %d", act)
	}
}

func TestArenaPressureHandlers(t *testing.T) {
	a := Arena{
		Threshold: 2 * EntrySize,
	}
	var (
		core, logs = observer.New(zapcore.WarnLevel)
		calls      []string
	)
	a.OnPressure(zap.New(core), func() {
		calls = append(calls, "a")
	})
	removeB := a.OnPressure(nil, func() {
		calls = append(calls, "b")
	})
	a.OnPressure(zap.New(core), nil)

	b0 := a.Alloc(4)
	a.Wait()
	if act, exp := fmt.Sprint(calls), "[a b]"; act != exp {
		t.Fatalf("unexpected reclaim calls: %s; want %s", act, exp)
	}
	if n := logs.Len(); n != 2 {
		t.Fatalf("unexpected number of warnings: %d; want 2", n)
	}

	removeB()
	removeB()
	b1 := a.Alloc(4)
	a.Wait()
	if act, exp := fmt.Sprint(calls), "[a b a]"; act != exp {
		t.Fatalf("unexpected reclaim calls after removal: %s; want %s", act, exp)
	}
	if n := logs.Len(); n != 4 {
		t.Fatalf("unexpected number of warnings: %d; want 4", n)
	}
	b0.Release()
	b1.Release()
}

func TestPack(t *testing.T) {
	for _, test := range []struct {
		token     int32
		partition int32
	}{
		{math.MinInt32, 0},
		{math.MaxInt32, math.MaxInt32},
		{-1, -1},
		{0, 42},
		{1000, math.MinInt32},
	} {
		e := Pack(test.token, test.partition)
		if act := Token(e); act != test.token {
			t.Errorf("unexpected token: %d; want %d", act, test.token)
		}
		if act := Partition(e); act != test.partition {
			t.Errorf("unexpected partition: %d; want %d", act, test.partition)
		}
	}
}
