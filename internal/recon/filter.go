package recon

import (
	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
)

// Filter selects image names with doublestar glob patterns. An empty
// include list admits every name; exclusion wins over inclusion.
type Filter struct {
	Include []string
	Exclude []string
}

// Validate rejects malformed glob patterns up front.
func (f Filter) Validate() error {
	for _, p := range append(append([]string{}, f.Include...), f.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return errors.Errorf("invalid glob pattern %q", p)
		}
	}
	return nil
}

// Match reports whether an image name passes the filter.
func (f Filter) Match(name string) bool {
	if len(f.Include) > 0 {
		in := false
		for _, p := range f.Include {
			if ok, _ := doublestar.Match(p, name); ok {
				in = true
				break
			}
		}
		if !in {
			return false
		}
	}
	for _, p := range f.Exclude {
		if ok, _ := doublestar.Match(p, name); ok {
			return false
		}
	}
	return true
}

func filterRecords(records []Record, f Filter) []Record {
	out := records[:0]
	for _, r := range records {
		if f.Match(r.Name) {
			out = append(out, r)
		}
	}
	return out
}
