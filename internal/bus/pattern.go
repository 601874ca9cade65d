package bus

// Pattern selects events by source and detail-type. An empty list matches anything.
type Pattern struct {
	Sources     []string
	DetailTypes []string
}

// OrderCreatedPattern is the rule the fulfillment service subscribes with.
var OrderCreatedPattern = Pattern{
	Sources:     []string{SourceSnacks},
	DetailTypes: []string{DetailTypeOrderCreated},
}

func (p Pattern) Matches(ev Event) bool {
	return matchAny(p.Sources, ev.Source) && matchAny(p.DetailTypes, ev.DetailType)
}

func matchAny(allowed []string, v string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}
