// Package xform holds observation transforms: pluggable stages that map a
// raw bar vector into the observation handed to the agent.
package xform

import "market_env/internal/core"

// Identity passes the raw bar vector through untouched, ignoring the
// position and gain arguments. It is the default transform.
type Identity struct{}

// NewIdentity returns the identity transform.
func NewIdentity() *Identity {
	return &Identity{}
}

// Apply returns raw unchanged.
func (Identity) Apply(raw []float64, _ float64, _ int64, _ int64) []float64 {
	return raw
}

var _ core.ITransform = (*Identity)(nil)
