// Package clock provides an injectable time source so that components
// stamping created_at/updated_at fields can be tested with fixed time.
package clock

import "time"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// System is a Clock backed by time.Now.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a Clock that always returns the same instant. Tests advance it
// explicitly through Advance.
type Fixed struct {
	T time.Time
}

// Now returns the fixed instant.
func (f *Fixed) Now() time.Time {
	return f.T
}

// Advance moves the fixed clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.T = f.T.Add(d)
}
