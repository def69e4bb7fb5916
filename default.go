package execpolicy

import (
	_ "embed"
	"sync"
)

//go:embed default.policy
var defaultPolicySource string

const defaultPolicyName = "default.policy"

var defaultPolicy = sync.OnceValues(func() (*Policy, error) {
	return ParsePolicy(defaultPolicyName, defaultPolicySource)
})

// DefaultPolicy returns the built-in policy. It carries no Oracle and is
// parsed once, then shared.
func DefaultPolicy() (*Policy, error) {
	return defaultPolicy()
}

// LoadDefaultPolicy parses a fresh copy of the built-in policy with opts
// applied, e.g. WithOracle(FileSystemOracle{}).
func LoadDefaultPolicy(opts ...Option) (*Policy, error) {
	return ParsePolicy(defaultPolicyName, defaultPolicySource, opts...)
}
