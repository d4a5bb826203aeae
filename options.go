package hashinator

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/voltdb/hashinator/internal/arena"
)

// DefaultCacheRetention is the default number of versions below the current
// one which the registry keeps cached.
const DefaultCacheRetention = 8

// Kind is a kind of ring. It selects how config bytes are turned into a ring.
type Kind uint8

const (
	// KindElastic is a ring of explicitly placed tokens which supports
	// elastic addition of partitions.
	KindElastic Kind = iota + 1
)

func (k Kind) String() string {
	switch k {
	case KindElastic:
		return "elastic"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// ParseKind parses the kind name as returned by Kind.String().
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "", "elastic":
		return KindElastic, nil
	default:
		return 0, invalidArgumentf("unknown ring kind %q", s)
	}
}

// Construct builds a ring of kind k from raw or cooked config bytes.
func (k Kind) Construct(p []byte, cooked bool, opts ...Option) (*Ring, error) {
	switch k {
	case KindElastic:
		return FromBytes(p, cooked, opts...)
	default:
		return nil, invalidArgumentf("unknown ring kind %d", uint8(k))
	}
}

// Option configures rings and registries.
type Option func(*options)

type options struct {
	arena     *arena.Arena
	logger    *zap.Logger
	retention int64
	kind      Kind
}

func newOptions(opts []Option) options {
	o := options{
		retention: DefaultCacheRetention,
		kind:      KindElastic,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

func (o options) allocator() *arena.Arena {
	if o.arena != nil {
		return o.arena
	}
	return arena.Default()
}

// WithLogger sets logger for operational messages.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithCacheRetention sets how many versions below the current one a registry
// keeps in its version cache.
func WithCacheRetention(n int) Option {
	return func(o *options) {
		o.retention = int64(n)
	}
}

// WithKind sets kind of rings constructed by a registry.
func WithKind(k Kind) Option {
	return func(o *options) {
		o.kind = k
	}
}

// WithMemoryThreshold makes rings account their memory in a dedicated arena
// which requests reclamation once more than n bytes are held.
// Registries install their own reclaim routine into that arena.
func WithMemoryThreshold(n int64) Option {
	a := &arena.Arena{Threshold: n}
	return func(o *options) {
		o.arena = a
	}
}

func withArena(a *arena.Arena) Option {
	return func(o *options) {
		o.arena = a
	}
}

// Config is a file representation of hashinator settings.
type Config struct {
	Ring   RingSection   `yaml:"ring"`
	Memory MemorySection `yaml:"memory"`
	Cache  CacheSection  `yaml:"cache"`
	Log    LogSection    `yaml:"log"`
}

// RingSection describes the initial ring.
type RingSection struct {
	Kind               string `yaml:"kind"`
	Partitions         int    `yaml:"partitions"`
	TokensPerPartition int    `yaml:"tokens_per_partition"`
}

// MemorySection configures ring memory accounting.
type MemorySection struct {
	ThresholdBytes int64 `yaml:"threshold_bytes"`
}

// CacheSection configures the registry version cache.
type CacheSection struct {
	Retention int `yaml:"retention"`
}

// LogSection configures logging.
type LogSection struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a baseline config.
func DefaultConfig() Config {
	return Config{
		Ring: RingSection{
			Kind:               KindElastic.String(),
			Partitions:         8,
			TokensPerPartition: DefaultTokensPerPartition(8),
		},
		Memory: MemorySection{
			ThresholdBytes: arena.DefaultThreshold,
		},
		Cache: CacheSection{
			Retention: DefaultCacheRetention,
		},
		Log: LogSection{
			Level: "info",
		},
	}
}

// LoadConfig reads yaml config at path. Missing fields keep DefaultConfig()
// values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	p, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(p, &cfg); err != nil {
		return cfg, fmt.Errorf("hashinator: parse config %q: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate reports all problems found in c.
func (c Config) Validate() (err error) {
	if _, kerr := ParseKind(c.Ring.Kind); kerr != nil {
		err = multierr.Append(err, kerr)
	}
	if c.Ring.Partitions <= 0 {
		err = multierr.Append(err, invalidArgumentf(
			"ring.partitions must be positive; got %d", c.Ring.Partitions,
		))
	}
	if c.Ring.TokensPerPartition <= 0 {
		err = multierr.Append(err, invalidArgumentf(
			"ring.tokens_per_partition must be positive; got %d", c.Ring.TokensPerPartition,
		))
	}
	if c.Memory.ThresholdBytes < 0 {
		err = multierr.Append(err, invalidArgumentf(
			"memory.threshold_bytes must not be negative; got %d", c.Memory.ThresholdBytes,
		))
	}
	if c.Cache.Retention < 0 {
		err = multierr.Append(err, invalidArgumentf(
			"cache.retention must not be negative; got %d", c.Cache.Retention,
		))
	}
	if _, lerr := zap.ParseAtomicLevel(c.Log.Level); lerr != nil {
		err = multierr.Append(err, lerr)
	}
	return err
}

// Options converts c into options. Logger is built by the caller.
func (c Config) Options() []Option {
	kind, _ := ParseKind(c.Ring.Kind)
	return []Option{
		WithKind(kind),
		WithMemoryThreshold(c.Memory.ThresholdBytes),
		WithCacheRetention(c.Cache.Retention),
	}
}
