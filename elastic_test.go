package hashinator

import (
	"errors"
	"fmt"
	"testing"
)

func TestInitialConfig(t *testing.T) {
	for _, test := range []struct {
		partitions int
		tokens     int
	}{
		{1, 1},
		{2, 2},
		{4, 4},
		{3, 7},
		{6, DefaultTokensPerPartition(6)},
	} {
		name := fmt.Sprintf("%dx%d", test.partitions, test.tokens)
		t.Run(name, func(t *testing.T) {
			config, err := InitialConfig(test.partitions, test.tokens)
			if err != nil {
				t.Fatal(err)
			}
			r := makeRingFromConfig(t, config)

			total := test.partitions * test.tokens
			if act := r.TokenCount(); act != total {
				t.Fatalf("unexpected token count: %d; want %d", act, total)
			}
			interval := ringSpan / int64(total)
			var i int64
			r.Tokens().Ascend(func(tok Token, p Partition) bool {
				if exp := Token(int64(MinToken) + i*interval); tok != exp {
					t.Fatalf("unexpected token #%d: %d; want %d", i, tok, exp)
				}
				if exp := Partition(i % int64(test.partitions)); p != exp {
					t.Fatalf("unexpected owner of token #%d: %d; want %d", i, p, exp)
				}
				i++
				return true
			})
			if act := len(r.Partitions()); act != test.partitions {
				t.Fatalf("unexpected number of partitions: %d; want %d", act, test.partitions)
			}
		})
	}
}

func TestInitialConfigInvalid(t *testing.T) {
	for _, test := range []struct {
		partitions int
		tokens     int
	}{
		{0, 1},
		{1, 0},
		{-1, 4},
		{1 << 16, 1 << 16},
	} {
		name := fmt.Sprintf("%dx%d", test.partitions, test.tokens)
		t.Run(name, func(t *testing.T) {
			_, err := InitialConfig(test.partitions, test.tokens)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("unexpected error: %v; want %v", err, ErrInvalidArgument)
			}
		})
	}
}

func TestDefaultTokensPerPartition(t *testing.T) {
	for _, test := range []struct {
		partitions int
		exp        int
	}{
		{-1, 1},
		{0, 1},
		{1, DefaultTotalTokens},
		{8, 2048},
		{3, 5461},
		{DefaultTotalTokens * 2, 1},
	} {
		if act := DefaultTokensPerPartition(test.partitions); act != test.exp {
			t.Errorf(
				"unexpected tokens per partition for %d partitions: %d; want %d",
				test.partitions, act, test.exp,
			)
		}
	}
}

func TestTokenInterval(t *testing.T) {
	const iv = 1 << 28
	for _, test := range []struct {
		name   string
		tokens map[Token]Partition
		exp    int64
	}{
		{
			name:   "single",
			tokens: map[Token]Partition{MinToken: 0},
			exp:    ringSpan,
		},
		{
			name: "aligned",
			tokens: map[Token]Partition{
				MinToken:        0,
				MinToken + iv:   1,
				MinToken + 2*iv: 0,
				MinToken + 3*iv: 1,
				MinToken + 4*iv: 0,
				MinToken + 5*iv: 1,
				MinToken + 6*iv: 0,
				MinToken + 7*iv: 1,
			},
			exp: iv,
		},
		{
			name: "intermediate",
			tokens: map[Token]Partition{
				MinToken:            0,
				MinToken + iv:       1,
				MinToken + iv + 100: 2,
				MinToken + 2*iv:     0,
				MinToken + 3*iv:     1,
			},
			exp: iv,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			r := makeRing(t, test.tokens)
			if act := tokenInterval(r.block.Entries()); act != test.exp {
				t.Fatalf("unexpected interval: %d; want %d", act, test.exp)
			}
		})
	}
}

func TestAddTokens(t *testing.T) {
	const iv = 1 << 30
	base := map[Token]Partition{
		MinToken:      0,
		MinToken + iv: 1,
		0:             0,
		iv:            1,
	}
	moving := map[Token]Partition{
		MinToken:      0,
		MinToken + iv: 1,
		0:             0,
		100:           1,
		iv:            1,
	}
	for _, test := range []struct {
		name string
		ring map[Token]Partition
		add  map[Token]Partition
		exp  map[Token]Partition
	}{
		{
			name: "reassign",
			ring: base,
			add:  map[Token]Partition{0: 2},
			exp: map[Token]Partition{
				MinToken:      0,
				MinToken + iv: 1,
				0:             2,
				iv:            1,
			},
		},
		{
			name: "new token",
			ring: base,
			add:  map[Token]Partition{50: 2},
			exp: map[Token]Partition{
				MinToken:      0,
				MinToken + iv: 1,
				0:             0,
				50:            2,
				iv:            1,
			},
		},
		{
			name: "intermediate dropped",
			ring: moving,
			add:  map[Token]Partition{0: 1},
			exp: map[Token]Partition{
				MinToken:      0,
				MinToken + iv: 1,
				0:             1,
				iv:            1,
			},
		},
		{
			name: "intermediate of other partition",
			ring: moving,
			add:  map[Token]Partition{0: 2},
			exp: map[Token]Partition{
				MinToken:      0,
				MinToken + iv: 1,
				0:             2,
				100:           1,
				iv:            1,
			},
		},
		{
			name: "intermediate in other bucket",
			ring: moving,
			add:  map[Token]Partition{MinToken + iv: 1},
			exp:  moving,
		},
		{
			name: "empty",
			ring: base,
			exp:  base,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			r := makeRing(t, test.ring)
			before := r.Signature()

			next, err := AddTokens(r, NewTokens(test.add))
			if err != nil {
				t.Fatal(err)
			}
			defer next.Close()

			assertTokenMap(t, next.Tokens().Map(), test.exp)
			if r.Signature() != before {
				t.Fatalf("source ring has changed")
			}
		})
	}
}

func TestAddPartitions(t *testing.T) {
	for _, test := range []struct {
		partitions int
		tokens     int
		add        int
	}{
		{1, 4, 1},
		{4, 8, 2},
		{4, 8, 4},
		{3, 64, 5},
		{8, DefaultTokensPerPartition(8), 8},
	} {
		name := fmt.Sprintf("%dx%d+%d", test.partitions, test.tokens, test.add)
		t.Run(name, func(t *testing.T) {
			config, err := InitialConfig(test.partitions, test.tokens)
			if err != nil {
				t.Fatal(err)
			}
			r := makeRingFromConfig(t, config)

			grown, err := AddPartitions(r, test.add, 42)
			if err != nil {
				t.Fatal(err)
			}
			next := makeRingFromConfig(t, grown)

			if act, exp := len(next.Partitions()), len(r.Partitions())+test.add; act != exp {
				t.Fatalf("unexpected number of partitions: %d; want %d", act, exp)
			}
			if act, exp := next.TokenCount(), r.TokenCount(); act != exp {
				t.Fatalf("unexpected token count: %d; want %d", act, exp)
			}

			var (
				total  = r.TokenCount()
				target = total / (test.partitions + test.add)
				load   = make(map[Partition]int)
			)
			r.Tokens().Ascend(func(tok Token, p Partition) bool {
				act := next.PartitionForToken(tok)
				load[act]++
				if act != p && int(act) < test.partitions {
					t.Fatalf(
						"token %d moved from %d to existing partition %d",
						tok, p, act,
					)
				}
				return true
			})
			min, max := total, 0
			for p, n := range load {
				if int(p) >= test.partitions && n != target {
					t.Errorf("new partition %d owns %d tokens; want %d", p, n, target)
				}
				if n < min {
					min = n
				}
				if n > max {
					max = n
				}
			}
			if test.partitions*test.tokens%(test.partitions+test.add) == 0 && max-min > 1 {
				t.Errorf("unbalanced ring: min load %d, max load %d", min, max)
			}
		})
	}
}

func TestAddPartitionsDeterministic(t *testing.T) {
	config, err := InitialConfig(4, 32)
	if err != nil {
		t.Fatal(err)
	}
	r := makeRingFromConfig(t, config)

	a, err := AddPartitions(r, 3, 7)
	if err != nil {
		t.Fatal(err)
	}
	b, err := AddPartitions(r, 3, 7)
	if err != nil {
		t.Fatal(err)
	}
	if a.Signature() != b.Signature() {
		t.Fatalf("equal seeds produced different configs")
	}
	c, err := AddPartitions(r, 3, 8)
	if err != nil {
		t.Fatal(err)
	}
	if a.Signature() == c.Signature() {
		t.Fatalf("different seeds produced equal configs")
	}
}

func TestAddPartitionsInvalid(t *testing.T) {
	config, err := InitialConfig(2, 2)
	if err != nil {
		t.Fatal(err)
	}
	r := makeRingFromConfig(t, config)
	for _, count := range []int{-1, 0, 3} {
		t.Run(fmt.Sprint(count), func(t *testing.T) {
			_, err := AddPartitions(r, count, 0)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("unexpected error: %v; want %v", err, ErrInvalidArgument)
			}
		})
	}
}
