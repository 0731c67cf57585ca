// Package license answers feature-gate queries. Signature validation
// happens upstream; this gate only consults the feature list the
// configuration grants.
package license

import (
	"sort"
	"strings"
)

// Features granted when the configuration names none.
var defaultFeatures = []string{
	"summary:extractivo",
	"export:markdown",
	"export:json",
}

// Gate is a static boolean feature gate. The wildcard feature "*"
// allows everything.
type Gate struct {
	features map[string]struct{}
}

// NewGate builds a gate from the configured feature names. Blank
// entries are ignored; an empty list falls back to the default set.
func NewGate(features []string) *Gate {
	set := make(map[string]struct{})
	for _, f := range features {
		f = strings.TrimSpace(f)
		if f != "" {
			set[f] = struct{}{}
		}
	}
	if len(set) == 0 {
		for _, f := range defaultFeatures {
			set[f] = struct{}{}
		}
	}
	return &Gate{features: set}
}

// Allows reports whether the feature is granted.
func (g *Gate) Allows(feature string) bool {
	if _, ok := g.features["*"]; ok {
		return true
	}
	_, ok := g.features[feature]
	return ok
}

// Features returns the granted feature names, sorted.
func (g *Gate) Features() []string {
	out := make([]string, 0, len(g.features))
	for f := range g.features {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
