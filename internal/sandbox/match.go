package sandbox

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Filter is an optional glob for listings. The zero value means "no filter",
// which is distinct from a filter set to the empty string.
type Filter struct {
	Pattern string
	Set     bool
}

// NoFilter requests the default non-recursive listing.
var NoFilter = Filter{}

// Glob builds a filter from pattern.
func Glob(pattern string) Filter {
	return Filter{Pattern: pattern, Set: true}
}

// compile builds a matcher with no separators, so '*' also spans '/'.
func (f Filter) compile() (glob.Glob, error) {
	g, err := glob.Compile(f.Pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid filter %q: %v", ErrInvalidArgument, f.Pattern, err)
	}
	return g, nil
}
