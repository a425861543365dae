package tax

import "strings"

// NexusRegions is the configured set of regions where the merchant collects
// tax. An entry is a country ("CA") or a country and state ("US-NY").
type NexusRegions struct {
	countries map[string]struct{}
	states    map[string]struct{}
}

// NewNexusRegions parses entries of the form "CC" or "CC-ST".
func NewNexusRegions(entries []string) NexusRegions {
	n := NexusRegions{countries: map[string]struct{}{}, states: map[string]struct{}{}}
	for _, e := range entries {
		e = strings.ToUpper(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if country, state, ok := strings.Cut(e, "-"); ok {
			n.states[country+"-"+state] = struct{}{}
			continue
		}
		n.countries[e] = struct{}{}
	}
	return n
}

// Empty reports whether no region is configured.
func (n NexusRegions) Empty() bool { return len(n.countries) == 0 && len(n.states) == 0 }

// Covers reports whether the destination lies in a nexus region. An empty
// set covers everything and leaves the decision to the remote service.
func (n NexusRegions) Covers(country, state string) bool {
	if n.Empty() {
		return true
	}
	country = strings.ToUpper(strings.TrimSpace(country))
	state = strings.ToUpper(strings.TrimSpace(state))
	if _, ok := n.countries[country]; ok {
		return true
	}
	_, ok := n.states[country+"-"+state]
	return ok
}
