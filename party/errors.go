package party

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports an absent party, player or invitation. It is an
	// expected outcome and is never logged as an error.
	ErrNotFound = errors.New("party: not found")
	// ErrInvalidArgument reports a capacity outside the accepted range.
	ErrInvalidArgument = errors.New("party: invalid argument")
	// ErrPartyFull reports that admitting a member would exceed capacity.
	ErrPartyFull = errors.New("party: party is full")
	// ErrNotLeader reports a leadership change requested by a player who no
	// longer leads the party.
	ErrNotLeader = errors.New("party: not the leader")
	// ErrStoreIO wraps network or serialization failures talking to the
	// shared store or the bus.
	ErrStoreIO = errors.New("party: store i/o")
	// ErrDecode reports a malformed stored record.
	ErrDecode = errors.New("party: decode")
)

// WrapStore annotates a failure from the store or bus with op. Errors that
// already carry one of this package's sentinels keep it; anything else is
// classified as ErrStoreIO.
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrStoreIO, ErrPartyFull, ErrInvalidArgument, ErrNotFound, ErrNotLeader, ErrDecode} {
		if errors.Is(err, sentinel) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreIO, op, err)
}
