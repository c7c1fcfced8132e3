// Package lease serializes trading: at most one position is open at a time,
// and a mint that was just closed cannot be re-entered for a short while.
package lease

import (
	"context"
	"errors"
	"time"
)

// Defaults.
const (
	DefaultStaleAfter = 20 * time.Minute
	DefaultReentry    = 30 * time.Second
)

// ErrNotHeld is returned by Release when the handle no longer owns the lease.
var ErrNotHeld = errors.New("lease not held")

// Denial says why Acquire did not grant the lease.
type Denial string

const (
	DenialNone    Denial = ""
	DenialHeld    Denial = "held"
	DenialReentry Denial = "reentry_block"
)

// Handle identifies a granted lease. Token is unique per grant.
type Handle struct {
	Mint       string
	Token      string
	AcquiredAt time.Time
}

// Lease is the global one-position-at-a-time lock.
type Lease interface {
	// Acquire tries to take the lease for mint. ok is false when another
	// holder owns a fresh lease or mint is inside its reentry block; the
	// Denial says which.
	Acquire(ctx context.Context, mint string) (h Handle, ok bool, denial Denial, err error)

	// Release gives the lease back and starts the reentry block for h.Mint.
	Release(ctx context.Context, h Handle) error
}

// Options configure both implementations.
type Options struct {
	StaleAfter time.Duration // a lease older than this is reclaimed
	Reentry    time.Duration // block on re-acquiring a mint after release
}

func (o Options) withDefaults() Options {
	if o.StaleAfter <= 0 {
		o.StaleAfter = DefaultStaleAfter
	}
	if o.Reentry < 0 {
		o.Reentry = 0
	} else if o.Reentry == 0 {
		o.Reentry = DefaultReentry
	}
	return o
}
