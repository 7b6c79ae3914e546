package insights

// NameMatch is the strategy a store uses for the free-text name filter.
type NameMatch int

// Name match strategies.
const (
	NameMatchNone NameMatch = iota
	NameMatchFullText
	NameMatchSubstring
)

// PlanNameMatch picks the name strategy for a filter given the store's capability.
func PlanNameMatch(filter PageFilter, supportsTextSearch bool) NameMatch {
	switch {
	case filter.Name == "":
		return NameMatchNone
	case supportsTextSearch:
		return NameMatchFullText
	default:
		return NameMatchSubstring
	}
}
