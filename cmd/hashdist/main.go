package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"runtime"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gobwas/avl"
	"go.uber.org/zap"

	"github.com/voltdb/hashinator"
)

func main() {
	var (
		p      int    // Number of goroutines.
		n      int    // Number of objects.
		parts  int    // Number of partitions on initial ring.
		tokens int    // Number of tokens per partition.
		add    int    // Number of partitions to add.
		lo     int    // Min seed.
		hi     int    // Max seed.
		ss     string // Comma-separated seeds list.
		config string // Optional config file.
		csv    bool

		verbose bool
		silent  bool
	)
	flag.IntVar(&p,
		"parallelism", runtime.NumCPU(),
		"number of concurrent processors",
	)
	flag.IntVar(&n,
		"objects", 1e6,
		"number of keys to route on ring",
	)
	flag.IntVar(&parts,
		"partitions", 0,
		"number of partitions on initial ring (overrides config)",
	)
	flag.IntVar(&tokens,
		"tokens", 0,
		"number of tokens per partition (overrides config)",
	)
	flag.IntVar(&add,
		"add", 1,
		"number of partitions to add",
	)
	flag.IntVar(&lo,
		"lo", 0,
		"placement seed to start from",
	)
	flag.IntVar(&hi,
		"hi", 0,
		"placement seed to end at",
	)
	flag.StringVar(&ss,
		"seeds", "",
		"comma-separated list of placement seeds",
	)
	flag.StringVar(&config,
		"config", "",
		"path to yaml config file",
	)
	flag.BoolVar(&verbose,
		"v", false,
		"be verbose",
	)
	flag.BoolVar(&silent,
		"s", false,
		"be silent",
	)
	flag.BoolVar(&csv,
		"csv", true,
		"print csv to standard output",
	)

	flag.Parse()

	cfg := hashinator.DefaultConfig()
	if config != "" {
		var err error
		if cfg, err = hashinator.LoadConfig(config); err != nil {
			fmt.Fprintf(os.Stderr, "hashdist: %v\n", err)
			os.Exit(1)
		}
	}
	if parts > 0 {
		cfg.Ring.Partitions = parts
		cfg.Ring.TokensPerPartition = hashinator.DefaultTokensPerPartition(parts)
	}
	if tokens > 0 {
		cfg.Ring.TokensPerPartition = tokens
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "hashdist: invalid config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log.Level)
	defer log.Sync()
	logf := log.Sugar().Debugf

	printf := func(f string, args ...interface{}) {
		if silent {
			return
		}
		fmt.Fprintf(os.Stderr, f, args...)
	}

	// Prepare initial ring and the registry serving it.
	initial, err := hashinator.InitialConfig(
		cfg.Ring.Partitions,
		cfg.Ring.TokensPerPartition,
	)
	if err != nil {
		log.Fatal("can not build initial config", zap.Error(err))
	}
	opts := append(cfg.Options(), hashinator.WithLogger(log))
	base, err := hashinator.FromBytes(initial.Raw(), false, opts...)
	if err != nil {
		log.Fatal("can not build initial ring", zap.Error(err))
	}
	registry := hashinator.NewRegistry(base, opts...)
	defer registry.Close()
	logf("initial ring is ready: %d partitions, %d tokens",
		len(base.Partitions()), base.TokenCount(),
	)

	// Prepare objects to be routed on ring(s).
	objects := make([]int64, n)
	seenObj := make(map[int64]bool)
	for i := 0; i < n; {
		k := rand.Int63()
		if seenObj[k] {
			logf("#%d object duplicated; repeat", i)
			continue
		}
		seenObj[k] = true
		objects[i] = k
		i++
	}
	logf("%d objects are ready", len(objects))

	// Routing on the initial ring to measure how many keys move.
	origin := make([]hashinator.Partition, n)
	for i, k := range objects {
		origin[i] = base.HashLong(k)
	}

	// Prepare list of seeds. We merge here seeds range (from `lo` to `hi`)
	// with manually specified seeds in `ss`.
	// We use tree to autofix duplicates (if any).
	var seeds avl.Tree
	for _, s := range strings.Split(ss, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		x, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			log.Fatal("can not parse seed", zap.String("seed", s), zap.Error(err))
		}
		seeds, _ = seeds.Insert(seed(x))
	}
	for x := lo; x < hi; x++ {
		seeds, _ = seeds.Insert(seed(x))
	}
	if seeds.Size() == 0 {
		seeds, _ = seeds.Insert(seed(0))
	}
	logf("%d seeds are ready", seeds.Size())

	numPart := len(base.Partitions()) + add
	mean := float64(n) / float64(numPart)

	var (
		work    = make(chan int64)
		stop    = make(chan struct{})
		done    = make(chan struct{}, p)
		results = make(chan result, 1)
	)
	for i := 0; i < p; i++ {
		go func() {
			defer func() {
				done <- struct{}{}
			}()
			distribution := make(map[hashinator.Partition]int, numPart)
			for {
				var s int64
				select {
				case <-stop:
					return
				case s = <-work:
					// Process below.
				}

				start := time.Now()
				grown, err := registry.AddPartitions(add, s)
				if err != nil {
					log.Fatal("can not add partitions", zap.Int64("seed", s), zap.Error(err))
				}
				latency := time.Since(start)

				cooked, err := grown.Cooked()
				if err != nil {
					log.Fatal("can not cook config", zap.Int64("seed", s), zap.Error(err))
				}
				r, err := registry.Construct(cooked, true)
				if err != nil {
					log.Fatal("can not build ring", zap.Int64("seed", s), zap.Error(err))
				}

				var moved int
				for i, k := range objects {
					x := r.HashLong(k)
					if x != origin[i] {
						moved++
					}
					distribution[x]++
				}
				r.Close()

				var variance float64
				for key, d := range distribution {
					variance += math.Pow(float64(d)-mean, 2)
					distribution[key] = 0
				}
				// Divide by number of partitions as for mean.
				variance /= float64(numPart)
				results <- result{
					seed:    s,
					latency: latency,
					stddev:  math.Sqrt(variance),
					moved:   moved,
					raw:     len(grown.Raw()),
					cooked:  len(cooked),
				}
			}
		}()
	}

	go func() {
		seeds.InOrder(func(x avl.Item) bool {
			select {
			case <-stop:
				return false
			case work <- int64(x.(seed)):
				return true
			}
		})
		close(stop)
		for i := 0; i < p; i++ {
			<-done
		}
		close(results)
	}()

	var t avl.Tree
	for r := range results {
		t, _ = t.Insert(r)
		printf(".")
		if n := t.Size(); n%80 == 0 {
			s := seeds.Size()
			printf(
				"%d/%d(%.1f%%)\n",
				n, s,
				float64(n)/float64(s)*100, // Progress percentage.
			)
		}
	}
	printf("\n")

	tw := tabwriter.NewWriter(os.Stdout, 2, 2, 2, ' ', 0)
	t.InOrder(func(x avl.Item) bool {
		r := x.(result)
		var (
			devPct   = r.stddev / float64(n) * 100
			movedPct = float64(r.moved) / float64(n) * 100
		)
		logf(
			"%04d: stddev=%.2f(%.2f%%) moved=%d(%.2f%%) raw=%d cooked=%d latency=%s",
			r.seed,
			r.stddev, devPct,
			r.moved, movedPct,
			r.raw, r.cooked,
			r.latency,
		)
		if csv {
			fmt.Fprintf(tw,
				"%d,\t%.4f,\t%.4f,\t%d,\t%d,\t%.2f\n",
				r.seed, devPct, movedPct,
				r.raw, r.cooked,
				r.latency.Seconds()*1000,
			)
		}
		return true
	})
	tw.Flush()

	printf("OK")
}

func newLogger(level string) *zap.Logger {
	c := zap.NewDevelopmentConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err == nil {
		c.Level = lvl
	}
	log, err := c.Build()
	if err != nil {
		panic(err)
	}
	return log.Named("hashdist")
}

type result struct {
	seed    int64
	latency time.Duration
	stddev  float64
	moved   int
	raw     int
	cooked  int
}

func (r result) Compare(x avl.Item) int {
	return compare(r.seed, x.(result).seed)
}

type seed int64

func (s seed) Compare(x avl.Item) int {
	return compare(int64(s), int64(x.(seed)))
}

func compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
