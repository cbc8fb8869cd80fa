// Package simple contains a permissive admission policy.
package simple

// Policy admits every run. It is the default when no throttle is configured.
type Policy struct{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

// AllowRun always returns true.
func (Policy) AllowRun(_ string, _ string) bool {
	return true
}
