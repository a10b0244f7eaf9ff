// Package metric enumerates the diffusion-tensor scalar maps compared by the
// pipeline and the dtifit outputs each one is collected from.
package metric

import (
	"fmt"
	"strings"
)

// Kind identifies one scalar diffusion metric.
type Kind string

const (
	FA Kind = "FA"
	MD Kind = "MD"
	AD Kind = "AD"
	RD Kind = "RD"
)

var all = []Kind{FA, MD, AD, RD}

// All returns every metric in protocol order: the primary metric first, then
// the secondary metrics in the order the pipeline repeats them.
func All() []Kind {
	return append([]Kind(nil), all...)
}

// Secondary returns the metrics that reuse the primary metric's skeleton.
func Secondary() []Kind {
	return append([]Kind(nil), all[1:]...)
}

// Parse converts a metric name (case-insensitive) into a Kind.
func Parse(name string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(name)))
	for _, known := range all {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown metric %q (want FA, MD, AD, or RD)", name)
}

// ParseList parses a comma separated list, drops duplicates, and returns the
// result in protocol order.
func ParseList(value string) ([]Kind, error) {
	selected := make(map[Kind]bool)
	for _, part := range strings.Split(value, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		k, err := Parse(part)
		if err != nil {
			return nil, err
		}
		selected[k] = true
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no metrics selected in %q", value)
	}
	out := make([]Kind, 0, len(selected))
	for _, k := range all {
		if selected[k] {
			out = append(out, k)
		}
	}
	return out, nil
}

// Primary reports whether k is the metric the registration and skeleton are
// computed from.
func (k Kind) Primary() bool {
	return k == FA
}

// Derived reports whether the metric is computed from more than one source
// volume instead of being copied.
func (k Kind) Derived() bool {
	return len(k.SourceSuffixes()) > 1
}

// SourceSuffixes lists the dtifit output suffixes the metric is built from.
// AD is dtifit's first eigenvalue; RD averages the second and third.
func (k Kind) SourceSuffixes() []string {
	switch k {
	case FA:
		return []string{"FA"}
	case MD:
		return []string{"MD"}
	case AD:
		return []string{"L1"}
	case RD:
		return []string{"L2", "L3"}
	default:
		return nil
	}
}

func (k Kind) String() string {
	return string(k)
}
