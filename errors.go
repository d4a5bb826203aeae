package hashinator

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedConfig is returned when raw or cooked config bytes fail
	// structural validation. A node receiving such a config for routing must
	// not keep serving with it.
	ErrMalformedConfig = errors.New("hashinator: malformed config")

	// ErrInvalidRing is returned when a token set violates ring invariants.
	ErrInvalidRing = errors.New("hashinator: invalid ring")

	// ErrInvalidArgument is returned when a query names a token which is not
	// owned by the given partition, or when planning arguments are out of
	// range.
	ErrInvalidArgument = errors.New("hashinator: invalid argument")

	// ErrIllegalState is returned for queries which have no answer on the
	// ring's topology, e.g. predecessor of the only token.
	ErrIllegalState = errors.New("hashinator: illegal state")
)

func malformedf(f string, args ...interface{}) error {
	return fmt.Errorf("%w: "+f, append([]interface{}{ErrMalformedConfig}, args...)...)
}

func invalidArgumentf(f string, args ...interface{}) error {
	return fmt.Errorf("%w: "+f, append([]interface{}{ErrInvalidArgument}, args...)...)
}
