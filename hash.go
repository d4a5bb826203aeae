package hashinator

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spaolacci/murmur3"
)

// HashLong returns ring token for integer value v.
//
// Values are hashed as their 8 little-endian bytes with 128-bit MurmurHash3
// (x64 variant, zero seed); the token is the low 32 bits of the first half of
// the digest. Nodes and clients must agree on this function bit for bit.
func HashLong(v int64) Token {
	var p [8]byte
	binary.LittleEndian.PutUint64(p[:], uint64(v))
	return HashBytes(p[:])
}

// HashBytes returns ring token for byte string p.
func HashBytes(p []byte) Token {
	h1, _ := murmur3.Sum128(p)
	return Token(int32(uint32(h1)))
}

// valueToken reduces v to a ring token. It reports false when v must be routed
// to partition zero without hashing (null values).
func valueToken(v interface{}) (_ Token, hashed bool, err error) {
	switch x := v.(type) {
	case nil:
		return 0, false, nil
	case int:
		return longToken(int64(x))
	case int8:
		return longToken(int64(x))
	case int16:
		return longToken(int64(x))
	case int32:
		return longToken(int64(x))
	case int64:
		return longToken(x)
	case uint8:
		return longToken(int64(x))
	case uint16:
		return longToken(int64(x))
	case uint32:
		return longToken(int64(x))
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false, invalidArgumentf("value %d overflows int64", x)
		}
		return longToken(int64(x))
	case uint64:
		if x > math.MaxInt64 {
			return 0, false, invalidArgumentf("value %d overflows int64", x)
		}
		return longToken(int64(x))
	case string:
		return HashBytes([]byte(x)), true, nil
	case []byte:
		if x == nil {
			return 0, false, nil
		}
		return HashBytes(x), true, nil
	default:
		return 0, false, fmt.Errorf(
			"%w: can not partition on value of type %T",
			ErrInvalidArgument, v,
		)
	}
}

// longToken treats math.MinInt64 as the null integer which always lives on
// partition zero.
func longToken(v int64) (Token, bool, error) {
	if v == math.MinInt64 {
		return 0, false, nil
	}
	return HashLong(v), true, nil
}
