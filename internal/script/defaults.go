package script

import (
	"fmt"
	"slices"

	"github.com/samber/lo"
)

// DefaultSecurityLimits lets scripts use the text, math, time and JSON modules
// of their language and nothing that reaches the host. Packages use the Tengo
// module names; Starlark binds math, json and times (as time) from the same
// list. There is no time limit: a started invocation runs to completion.
var DefaultSecurityLimits = SecurityLimits{
	AllowedPackages: []string{"fmt", "strings", "math", "rand", "times", "text", "json"},
}

// GetDefaultSecurityLimits returns a copy of DefaultSecurityLimits that the
// caller may modify.
func GetDefaultSecurityLimits() SecurityLimits {
	limits := DefaultSecurityLimits
	limits.AllowedPackages = slices.Clone(DefaultSecurityLimits.AllowedPackages)
	return limits
}

func (l SecurityLimits) allows(pkg string) bool {
	return lo.Contains(l.AllowedPackages, pkg)
}

// validate rejects limits no engine can apply.
func (l SecurityLimits) validate() error {
	if l.MaxExecutionTime < 0 {
		return fmt.Errorf("max execution time must not be negative, got %s", l.MaxExecutionTime)
	}
	if l.MaxAllocs < 0 {
		return fmt.Errorf("max allocations must not be negative, got %d", l.MaxAllocs)
	}
	return nil
}
