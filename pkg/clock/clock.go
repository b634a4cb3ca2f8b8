// Package clock abstrae la fuente de tiempo para poder fijarla en tests
// (expiraciones, ventanas de anulación, backoff).
package clock

import "time"

// Clock fuente de tiempo inyectable.
type Clock interface {
	Now() time.Time
}

// System usa time.Now.
type System struct{}

// Now devuelve la hora real.
func (System) Now() time.Time { return time.Now() }
