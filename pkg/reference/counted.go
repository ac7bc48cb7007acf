// Package reference provides a counted shared-ownership handle over a value
// with a release routine attached, for resources whose lifetime is shared by
// holders that finish in no fixed order.
package reference

import (
	"sync/atomic"
)

// Share wraps value with release attached and one hold taken. Further
// holders come from Retain; the routine runs when the last hold is released.
func Share[E any](value E, release func(E)) *Counted[E] {
	counted := &Counted[E]{value: value, release: release}
	counted.count.Store(1)
	return counted
}

type Counted[E any] struct {
	value   E
	release func(E)
	count   atomic.Int64
}

func (counted *Counted[E]) Value() E {
	return counted.value
}

// Retain takes one more hold. The handle is shared, not copied: the returned
// pointer is the receiver.
func (counted *Counted[E]) Retain() *Counted[E] {
	counted.count.Add(1)
	return counted
}

func (counted *Counted[E]) Count() int64 {
	return counted.count.Load()
}

// Release drops one hold and runs the release routine when none remain.
// Releasing more holds than were taken panics.
func (counted *Counted[E]) Release() {
	n := counted.count.Add(-1)
	if n == 0 {
		if counted.release != nil {
			counted.release(counted.value)
		}
		return
	}
	if n < 0 {
		panic("reference: release of a handle with no holds left")
	}
}
