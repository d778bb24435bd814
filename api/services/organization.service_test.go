package services_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"orghierarchy/api/services"
	"orghierarchy/pkg/hierarchy"
	"orghierarchy/pkg/ontology"
)

var _ = Describe("OrganizationService", func() {
	var (
		ctx context.Context
		svc *services.OrganizationService
	)

	BeforeEach(func() {
		ctx = context.Background()
		svc = services.NewOrganizationService(newTestDB())
	})

	create := func(name, parent string) *ontology.Organization {
		req := &ontology.CreateOrganizationRequest{Name: name, Type: string(ontology.OrgTypeEngineeringFirm)}
		if parent != "" {
			req.ParentID = strPtr(parent)
		}
		o, err := svc.CreateOrganization(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		return o
	}

	It("creates and fetches an organization", func() {
		created := create("  Northwind  ", "")
		Expect(created.ID).NotTo(BeEmpty())
		Expect(created.Name).To(Equal("Northwind"))
		Expect(created.IsActive).To(BeTrue())
		Expect(created.HasParent()).To(BeFalse())

		fetched, err := svc.GetOrganization(ctx, created.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(fetched.Name).To(Equal("Northwind"))
		Expect(fetched.Type).To(Equal(ontology.OrgTypeEngineeringFirm))
		Expect(fetched.CreatedAt).To(BeTemporally("~", created.CreatedAt))
	})

	It("rejects invalid requests", func() {
		_, err := svc.CreateOrganization(ctx, &ontology.CreateOrganizationRequest{Name: "", Type: "architect"})
		Expect(err).To(MatchError(services.ErrInvalidRequest))

		_, err = svc.CreateOrganization(ctx, &ontology.CreateOrganizationRequest{Name: "X", Type: "spaceship"})
		Expect(err).To(MatchError(services.ErrInvalidRequest))
	})

	It("accepts a parent id that does not exist yet", func() {
		o := create("Orphan", "missing")
		Expect(o.ParentKey()).To(Equal("missing"))

		orgs, err := svc.ListOrganizations(ctx)
		Expect(err).NotTo(HaveOccurred())
		violations := hierarchy.Validate(orgs)
		Expect(violations).To(HaveLen(1))
		Expect(violations[0].Type).To(Equal(ontology.ValidationInvalidParent))
	})

	It("lists in creation order", func() {
		a := create("Zeta", "")
		b := create("Alpha", a.ID)
		c := create("Mid", "")

		orgs, err := svc.ListOrganizations(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(orgs).To(HaveLen(3))
		Expect([]string{orgs[0].ID, orgs[1].ID, orgs[2].ID}).To(Equal([]string{a.ID, b.ID, c.ID}))
		Expect(orgs[1].ParentKey()).To(Equal(a.ID))
	})

	It("returns an empty list for an empty table", func() {
		orgs, err := svc.ListOrganizations(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(orgs).NotTo(BeNil())
		Expect(orgs).To(BeEmpty())
	})

	It("updates the parent and clears it again", func() {
		a := create("A", "")
		b := create("B", "")

		moved := b.Clone()
		moved.ParentID = strPtr(a.ID)
		saved, err := svc.UpdateOrganization(ctx, moved)
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.ParentKey()).To(Equal(a.ID))
		Expect(saved.Name).To(Equal("B"))

		moved.ParentID = nil
		saved, err = svc.UpdateOrganization(ctx, moved)
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.HasParent()).To(BeFalse())
	})

	It("reports missing records", func() {
		_, err := svc.GetOrganization(ctx, "nope")
		Expect(err).To(MatchError(services.ErrOrganizationNotFound))

		_, err = svc.UpdateOrganization(ctx, ontology.Organization{ID: "nope", Name: "N", Type: ontology.OrgTypeArchitect})
		Expect(err).To(MatchError(services.ErrOrganizationNotFound))

		Expect(svc.DeleteOrganization(ctx, "nope")).To(MatchError(services.ErrOrganizationNotFound))
	})

	It("deletes an organization", func() {
		a := create("A", "")
		Expect(svc.DeleteOrganization(ctx, a.ID)).To(Succeed())

		_, err := svc.GetOrganization(ctx, a.ID)
		Expect(err).To(MatchError(services.ErrOrganizationNotFound))
	})

	It("fails loudly on a corrupt timestamp", func() {
		_, err := svc.DB().Exec(`INSERT INTO organizations (org_id, name, org_type, created_at, updated_at)
			VALUES ('bad', 'Bad', 'architect', 'yesterday', 'yesterday')`)
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.ListOrganizations(ctx)
		Expect(err).To(MatchError(ContainSubstring("failed to parse created_at")))

		_, err = svc.GetOrganization(ctx, "bad")
		Expect(err).To(HaveOccurred())
		Expect(err).NotTo(MatchError(services.ErrOrganizationNotFound))
	})

	It("backs a hierarchy service end to end", func() {
		a := create("A", "")
		b := create("B", a.ID)
		c := create("C", b.ID)

		hs := services.NewHierarchyService(svc, nil, nil)
		Expect(hs.Load(ctx)).To(Succeed())

		_, err := hs.Reparent(ctx, a.ID, c.ID)
		Expect(err).To(MatchError(services.ErrWouldCreateCycle))

		_, err = hs.Reparent(ctx, c.ID, a.ID)
		Expect(err).NotTo(HaveOccurred())

		stored, err := svc.GetOrganization(ctx, c.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.ParentKey()).To(Equal(a.ID))
		Expect(hierarchy.Index(hs.Snapshot().Roots)[c.ID].Level).To(Equal(1))
	})
})
