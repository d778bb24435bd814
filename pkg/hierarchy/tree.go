package hierarchy

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"orghierarchy/pkg/ontology"
)

// BuildTree turns the flat organization list into a forest ordered by name.
//
// A parent id that does not resolve inside orgs makes the record a root.
// Records that cannot be reached from any root because they sit on (or hang
// off) a parent cycle are promoted to roots one at a time, in input order,
// so every record is placed exactly once. The input slice is not modified.
func BuildTree(orgs []ontology.Organization) []*ontology.OrganizationNode {
	if len(orgs) == 0 {
		return []*ontology.OrganizationNode{}
	}

	nodes := make([]*ontology.OrganizationNode, len(orgs))
	byID := make(map[string]*ontology.OrganizationNode, len(orgs))
	for i := range orgs {
		node := &ontology.OrganizationNode{
			Organization: orgs[i].Clone(),
			Children:     []*ontology.OrganizationNode{},
		}
		nodes[i] = node
		// first record wins on duplicate ids
		if _, exists := byID[node.ID]; !exists {
			byID[node.ID] = node
		}
	}

	var roots []*ontology.OrganizationNode
	parentOf := make(map[*ontology.OrganizationNode]*ontology.OrganizationNode, len(nodes))
	for _, node := range nodes {
		parent, ok := byID[node.ParentKey()]
		if !node.HasParent() || !ok {
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
		parentOf[node] = parent
	}

	placed := make(map[*ontology.OrganizationNode]bool, len(nodes))
	for _, root := range roots {
		assignLevels(root, placed)
	}

	for _, node := range nodes {
		if placed[node] {
			continue
		}
		if parent := parentOf[node]; parent != nil {
			parent.Children = removeChild(parent.Children, node)
		}
		roots = append(roots, node)
		assignLevels(node, placed)
	}

	sortNodes(roots)
	return roots
}

// assignLevels walks the subtree below root breadth-first, setting Level and
// marking every visited node. Children already placed are cut from the
// subtree, which only happens for promoted cycle members.
func assignLevels(root *ontology.OrganizationNode, placed map[*ontology.OrganizationNode]bool) {
	root.Level = 0
	placed[root] = true
	queue := []*ontology.OrganizationNode{root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		kept := node.Children[:0]
		for _, child := range node.Children {
			if placed[child] {
				continue
			}
			child.Level = node.Level + 1
			placed[child] = true
			kept = append(kept, child)
			queue = append(queue, child)
		}
		node.Children = kept
	}
}

func removeChild(children []*ontology.OrganizationNode, target *ontology.OrganizationNode) []*ontology.OrganizationNode {
	out := children[:0]
	for _, c := range children {
		if c != target {
			out = append(out, c)
		}
	}
	return out
}

// sortNodes orders siblings by case-insensitive name, keeping input order for
// ties, and recurses into every subtree.
func sortNodes(nodes []*ontology.OrganizationNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return strings.ToLower(nodes[i].Name) < strings.ToLower(nodes[j].Name)
	})
	for _, n := range nodes {
		sortNodes(n.Children)
	}
}

// Index maps every node in the forest by organization id.
func Index(roots []*ontology.OrganizationNode) map[string]*ontology.OrganizationNode {
	index := make(map[string]*ontology.OrganizationNode)
	var walk func(nodes []*ontology.OrganizationNode)
	walk = func(nodes []*ontology.OrganizationNode) {
		for _, n := range nodes {
			if _, exists := index[n.ID]; !exists {
				index[n.ID] = n
			}
			walk(n.Children)
		}
	}
	walk(roots)
	return index
}

// Flatten returns the rows a tree view would render: every root, and the
// children of each node for which expanded reports true, depth first.
func Flatten(roots []*ontology.OrganizationNode, expanded func(id string) bool) []*ontology.OrganizationNode {
	var out []*ontology.OrganizationNode
	var walk func(nodes []*ontology.OrganizationNode)
	walk = func(nodes []*ontology.OrganizationNode) {
		for _, n := range nodes {
			out = append(out, n)
			if expanded != nil && expanded(n.ID) {
				walk(n.Children)
			}
		}
	}
	walk(roots)
	return out
}

// Fingerprint hashes the structural fields of orgs in input order. Two lists
// with the same fingerprint produce the same forest.
func Fingerprint(orgs []ontology.Organization) string {
	h := sha256.New()
	for _, o := range orgs {
		h.Write([]byte(o.ID))
		h.Write([]byte{0})
		h.Write([]byte(o.ParentKey()))
		h.Write([]byte{0})
		h.Write([]byte(o.Name))
		h.Write([]byte{0})
		h.Write([]byte(o.Type))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatBool(o.IsActive)))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
