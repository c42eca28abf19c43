package graph

// Union returns a new set holding every element present in any input set.
func Union(sets ...map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for _, set := range sets {
		for key := range set {
			out[key] = struct{}{}
		}
	}
	return out
}

// Intersect returns a new set holding the elements present in every input
// set. With no arguments it returns the empty set.
func Intersect(sets ...map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	if len(sets) == 0 {
		return out
	}
	for key := range sets[0] {
		inAll := true
		for _, other := range sets[1:] {
			if _, ok := other[key]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			out[key] = struct{}{}
		}
	}
	return out
}
