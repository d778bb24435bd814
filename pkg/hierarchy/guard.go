package hierarchy

import "orghierarchy/pkg/ontology"

// WouldCreateCycle reports whether placing movingID under candidateParentID
// would close a parent cycle, i.e. whether the candidate is movingID itself
// or one of its descendants in orgs. An empty candidate means "move to the
// root level" and is always safe.
//
// Only the candidate's ancestor chain is walked. The walk remembers what it
// has seen so a cycle that already exists elsewhere cannot trap it.
func WouldCreateCycle(movingID, candidateParentID string, orgs []ontology.Organization) bool {
	if candidateParentID == "" {
		return false
	}
	if candidateParentID == movingID {
		return true
	}

	parents, _ := parentIndex(orgs)
	seen := make(map[string]struct{}, 8)
	current := candidateParentID
	for {
		if current == movingID {
			return true
		}
		if _, ok := seen[current]; ok {
			return false
		}
		seen[current] = struct{}{}

		parent, ok := parents[current]
		if !ok {
			return false
		}
		current = parent
	}
}
