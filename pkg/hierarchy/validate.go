package hierarchy

import (
	"fmt"
	"strings"

	"orghierarchy/pkg/ontology"
)

const (
	// MaxDepth is the number of parent hops at which a record is reported as
	// too deep. A chain of five records (levels 0..4) is fine, a sixth is not.
	MaxDepth = 5
	// MaxWalkHops caps the upward walk of the depth check.
	MaxWalkHops = 10
)

// Validate runs every structural check over the flat list and returns the
// complete set of violations. Cycles come first, then dangling parents, then
// depth violations. An organization may appear in more than one error.
func Validate(orgs []ontology.Organization) []ontology.ValidationError {
	errs := []ontology.ValidationError{}
	errs = append(errs, DetectCycles(orgs)...)
	errs = append(errs, DetectInvalidParents(orgs)...)
	errs = append(errs, CheckDepth(orgs)...)
	return errs
}

// parentIndex maps id to parent id for every record whose parent resolves.
func parentIndex(orgs []ontology.Organization) (map[string]string, map[string]bool) {
	exists := make(map[string]bool, len(orgs))
	for _, o := range orgs {
		exists[o.ID] = true
	}
	parents := make(map[string]string, len(orgs))
	for _, o := range orgs {
		if _, seen := parents[o.ID]; seen {
			continue
		}
		if o.HasParent() && exists[*o.ParentID] {
			parents[o.ID] = *o.ParentID
		}
	}
	return parents, exists
}

// DetectCycles walks parent links from every unvisited record. visited holds
// records whose ancestor chain is known to be finished; onStack holds the
// records of the walk in progress. Reaching a record that is on the stack
// closes a cycle, reported once against that record.
func DetectCycles(orgs []ontology.Organization) []ontology.ValidationError {
	parents, _ := parentIndex(orgs)
	visited := make(map[string]bool, len(orgs))
	onStack := make(map[string]bool)
	var errs []ontology.ValidationError

	for _, start := range orgs {
		if visited[start.ID] {
			continue
		}

		var path []string
		current := start.ID
		for {
			if visited[current] {
				break
			}
			if onStack[current] {
				cycle := append(append([]string{}, path...), current)
				errs = append(errs, ontology.ValidationError{
					Type:           ontology.ValidationCircularReference,
					Message:        fmt.Sprintf("Circular reference detected: %s", strings.Join(cycle, " -> ")),
					OrganizationID: current,
				})
				break
			}
			onStack[current] = true
			path = append(path, current)

			parent, ok := parents[current]
			if !ok {
				break
			}
			current = parent
		}

		for _, id := range path {
			delete(onStack, id)
			visited[id] = true
		}
	}
	return errs
}

// DetectInvalidParents reports every record whose parent id does not match
// any record in the list.
func DetectInvalidParents(orgs []ontology.Organization) []ontology.ValidationError {
	_, exists := parentIndex(orgs)
	var errs []ontology.ValidationError
	for _, o := range orgs {
		if !o.HasParent() || exists[*o.ParentID] {
			continue
		}
		errs = append(errs, ontology.ValidationError{
			Type:           ontology.ValidationInvalidParent,
			Message:        fmt.Sprintf("Organization %q references missing parent %s", o.Name, *o.ParentID),
			OrganizationID: o.ID,
		})
	}
	return errs
}

// CheckDepth walks up from every record for at most MaxWalkHops hops and
// reports the records whose chain reaches MaxDepth hops. The walk keeps its
// own seen set so it stops on a cycle regardless of DetectCycles.
func CheckDepth(orgs []ontology.Organization) []ontology.ValidationError {
	parents, _ := parentIndex(orgs)
	var errs []ontology.ValidationError
	for _, o := range orgs {
		seen := map[string]bool{o.ID: true}
		chain := []string{o.ID}
		current := o.ID
		hops := 0
		for hops < MaxWalkHops {
			parent, ok := parents[current]
			if !ok || seen[parent] {
				break
			}
			seen[parent] = true
			chain = append(chain, parent)
			current = parent
			hops++
		}
		if hops < MaxDepth {
			continue
		}
		errs = append(errs, ontology.ValidationError{
			Type:           ontology.ValidationMaxDepthExceeded,
			Message:        fmt.Sprintf("Organization %q exceeds maximum depth of %d: %s", o.Name, MaxDepth, strings.Join(reverse(chain), " -> ")),
			OrganizationID: o.ID,
		})
	}
	return errs
}

func reverse(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = id
	}
	return out
}
