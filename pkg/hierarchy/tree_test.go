package hierarchy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"orghierarchy/pkg/hierarchy"
	"orghierarchy/pkg/ontology"
)

var _ = Describe("BuildTree", func() {
	It("returns an empty forest for no records", func() {
		roots := hierarchy.BuildTree(nil)
		Expect(roots).NotTo(BeNil())
		Expect(roots).To(BeEmpty())
	})

	It("builds root -> mid -> leaf with levels", func() {
		orgs := []ontology.Organization{
			org("1", "", "Root"),
			org("2", "1", "Mid"),
			org("3", "2", "Leaf"),
		}

		roots := hierarchy.BuildTree(orgs)
		Expect(roots).To(HaveLen(1))
		Expect(roots[0].ID).To(Equal("1"))
		Expect(roots[0].Level).To(Equal(0))
		Expect(roots[0].Children).To(HaveLen(1))

		mid := roots[0].Children[0]
		Expect(mid.ID).To(Equal("2"))
		Expect(mid.Level).To(Equal(1))
		Expect(mid.Children).To(HaveLen(1))

		leaf := mid.Children[0]
		Expect(leaf.ID).To(Equal("3"))
		Expect(leaf.Level).To(Equal(2))
		Expect(leaf.Children).To(BeEmpty())

		Expect(hierarchy.Validate(orgs)).To(BeEmpty())
	})

	It("computes levels when children precede their parents in the input", func() {
		orgs := []ontology.Organization{
			org("3", "2", "Leaf"),
			org("2", "1", "Mid"),
			org("1", "", "Root"),
		}

		index := hierarchy.Index(hierarchy.BuildTree(orgs))
		Expect(index["1"].Level).To(Equal(0))
		Expect(index["2"].Level).To(Equal(1))
		Expect(index["3"].Level).To(Equal(2))
	})

	It("sorts siblings and roots case-insensitively by name", func() {
		orgs := []ontology.Organization{
			org("r", "", "root"),
			org("a", "r", "zeta"),
			org("b", "r", "Alpha"),
			org("c", "r", "beta"),
			org("x", "", "Another root"),
		}

		roots := hierarchy.BuildTree(orgs)
		Expect(ids(roots)).To(Equal([]string{"x", "r"}))
		Expect(ids(roots[1].Children)).To(Equal([]string{"b", "c", "a"}))
	})

	It("keeps input order for siblings with equal names", func() {
		orgs := []ontology.Organization{
			org("r", "", "Root"),
			org("second", "r", "ACME"),
			org("first", "r", "acme"),
			org("third", "r", "Acme"),
		}

		roots := hierarchy.BuildTree(orgs)
		Expect(ids(roots[0].Children)).To(Equal([]string{"second", "first", "third"}))
	})

	It("treats a dangling parent as a root", func() {
		orgs := []ontology.Organization{
			org("1", "", "Root"),
			org("2", "missing", "Orphan"),
		}

		roots := hierarchy.BuildTree(orgs)
		Expect(ids(roots)).To(ConsistOf("1", "2"))
		index := hierarchy.Index(roots)
		Expect(index["2"].Level).To(Equal(0))
	})

	It("places every member of a cycle exactly once", func() {
		orgs := []ontology.Organization{
			org("root", "", "Root"),
			org("a", "b", "A"),
			org("b", "a", "B"),
			org("c", "a", "C"),
		}

		roots := hierarchy.BuildTree(orgs)
		Expect(ids(roots)).To(ConsistOf("root", "a"))

		index := hierarchy.Index(roots)
		Expect(index).To(HaveLen(4))
		Expect(index["a"].Level).To(Equal(0))
		Expect(ids(index["a"].Children)).To(Equal([]string{"b", "c"}))
		Expect(index["b"].Children).To(BeEmpty())
		Expect(index["b"].Level).To(Equal(1))
	})

	It("promotes a self-parented record to a root", func() {
		orgs := []ontology.Organization{org("self", "self", "Self")}

		roots := hierarchy.BuildTree(orgs)
		Expect(ids(roots)).To(Equal([]string{"self"}))
		Expect(roots[0].Children).To(BeEmpty())
	})

	It("is idempotent", func() {
		orgs := []ontology.Organization{
			org("1", "", "Root"),
			org("2", "1", "b"),
			org("3", "1", "a"),
			org("4", "3", "leaf"),
			org("5", "nope", "orphan"),
		}

		Expect(hierarchy.BuildTree(orgs)).To(Equal(hierarchy.BuildTree(orgs)))
	})

	It("does not mutate the input", func() {
		orgs := []ontology.Organization{
			org("1", "", "Root"),
			org("2", "1", "Child"),
		}
		before := []ontology.Organization{orgs[0].Clone(), orgs[1].Clone()}

		roots := hierarchy.BuildTree(orgs)
		*roots[0].Children[0].ParentID = "changed"

		Expect(orgs).To(Equal(before))
	})
})

var _ = Describe("Flatten", func() {
	orgs := []ontology.Organization{
		org("1", "", "Root"),
		org("2", "1", "A"),
		org("3", "2", "A1"),
		org("4", "1", "B"),
	}

	It("shows only roots when nothing is expanded", func() {
		rows := hierarchy.Flatten(hierarchy.BuildTree(orgs), nil)
		Expect(ids(rows)).To(Equal([]string{"1"}))
	})

	It("descends only into expanded nodes", func() {
		state := hierarchy.NewExpansionState()
		state.Expand("1")

		rows := hierarchy.Flatten(hierarchy.BuildTree(orgs), state.IsExpanded)
		Expect(ids(rows)).To(Equal([]string{"1", "2", "4"}))

		state.Expand("2")
		rows = hierarchy.Flatten(hierarchy.BuildTree(orgs), state.IsExpanded)
		Expect(ids(rows)).To(Equal([]string{"1", "2", "3", "4"}))
	})
})

var _ = Describe("Fingerprint", func() {
	It("is stable for equal input and changes on reparent", func() {
		orgs := []ontology.Organization{org("1", "", "Root"), org("2", "1", "Child")}
		same := []ontology.Organization{org("1", "", "Root"), org("2", "1", "Child")}
		moved := []ontology.Organization{org("1", "", "Root"), org("2", "", "Child")}

		Expect(hierarchy.Fingerprint(orgs)).To(Equal(hierarchy.Fingerprint(same)))
		Expect(hierarchy.Fingerprint(orgs)).NotTo(Equal(hierarchy.Fingerprint(moved)))
	})
})
