package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"orghierarchy/api/services"
	"orghierarchy/pkg/hierarchy"
	"orghierarchy/pkg/ontology"
	"orghierarchy/pkg/shared"
)

var _ = Describe("HierarchyService", func() {
	var (
		ctx       context.Context
		source    *mockRecordSource
		publisher *mockPublisher
		svc       *services.HierarchyService
	)

	BeforeEach(func() {
		ctx = context.Background()
		source = &mockRecordSource{orgs: []ontology.Organization{
			org("A", "", "Alpha"),
			org("B", "A", "Bravo"),
			org("C", "B", "Charlie"),
			org("D", "", "Delta"),
		}}
		publisher = &mockPublisher{}
		svc = services.NewHierarchyService(source, publisher, hierarchy.NewExpansionState())
	})

	Describe("Load", func() {
		It("builds the forest and validates it", func() {
			Expect(svc.Load(ctx)).To(Succeed())

			view := svc.Snapshot()
			Expect(view.Error).To(BeEmpty())
			Expect(view.Total).To(Equal(4))
			Expect(view.Roots).To(HaveLen(2))
			Expect(view.Roots[0].ID).To(Equal("A"))
			Expect(view.Violations).To(BeEmpty())
			Expect(publisher.subjects()).To(ConsistOf(shared.SubjectValidationCompleted))
		})

		It("surfaces violations without blocking the tree", func() {
			source.orgs = append(source.orgs, org("X", "Y", "X"), org("Y", "X", "Y"), org("O", "ghost", "Orphan"))

			Expect(svc.Load(ctx)).To(Succeed())

			view := svc.Snapshot()
			Expect(view.Total).To(Equal(7))
			Expect(hierarchy.Index(view.Roots)).To(HaveLen(7))
			types := []ontology.ValidationErrorType{}
			for _, v := range view.Violations {
				types = append(types, v.Type)
			}
			Expect(types).To(ConsistOf(ontology.ValidationCircularReference, ontology.ValidationInvalidParent))
		})

		It("switches to an empty error state when listing fails", func() {
			Expect(svc.Load(ctx)).To(Succeed())
			source.listFn = func(context.Context) ([]ontology.Organization, error) {
				return nil, errors.New("connection refused")
			}

			err := svc.Load(ctx)
			Expect(err).To(MatchError(services.ErrLoadFailed))
			var herr *services.HierarchyError
			Expect(errors.As(err, &herr)).To(BeTrue())
			Expect(herr.Code).To(Equal(services.CodeLoadFailed))

			view := svc.Snapshot()
			Expect(view.Error).NotTo(BeEmpty())
			Expect(view.Roots).To(BeEmpty())
			Expect(view.Visible).To(BeEmpty())
		})

		It("reuses the forest when nothing changed", func() {
			Expect(svc.Load(ctx)).To(Succeed())
			first := svc.Snapshot().Roots

			Expect(svc.Load(ctx)).To(Succeed())
			second := svc.Snapshot().Roots

			Expect(second[0]).To(BeIdenticalTo(first[0]))
			Expect(publisher.subjects()).To(HaveLen(1))
		})

		It("drops expansion entries for organizations that disappeared", func() {
			Expect(svc.Load(ctx)).To(Succeed())
			Expect(svc.Expand("D")).To(Succeed())

			source.orgs = source.orgs[:3]
			Expect(svc.Load(ctx)).To(Succeed())

			Expect(svc.Expansion().IsExpanded("D")).To(BeFalse())
		})
	})

	Describe("expansion", func() {
		BeforeEach(func() {
			Expect(svc.Load(ctx)).To(Succeed())
		})

		It("reveals children of expanded nodes without rebuilding", func() {
			before := svc.Snapshot()
			Expect(before.Visible).To(HaveLen(2))

			Expect(svc.Expand("A")).To(Succeed())
			after := svc.Snapshot()

			ids := []string{}
			for _, row := range after.Visible {
				ids = append(ids, row.ID)
			}
			Expect(ids).To(Equal([]string{"A", "B", "D"}))
			Expect(after.Visible[0].Expanded).To(BeTrue())
			Expect(after.Visible[0].HasChildren).To(BeTrue())
			Expect(after.Visible[1].Level).To(Equal(1))
			Expect(after.Roots[0]).To(BeIdenticalTo(before.Roots[0]))
		})

		It("toggles and collapses", func() {
			expanded, err := svc.Toggle("A")
			Expect(err).NotTo(HaveOccurred())
			Expect(expanded).To(BeTrue())

			Expect(svc.Collapse("A")).To(Succeed())
			Expect(svc.Snapshot().Expanded).To(BeEmpty())
		})

		It("rejects unknown ids", func() {
			Expect(svc.Expand("ghost")).To(MatchError(services.ErrOrganizationNotFound))
			_, err := svc.Toggle("ghost")
			Expect(err).To(MatchError(services.ErrOrganizationNotFound))
		})
	})

	Describe("Reparent", func() {
		BeforeEach(func() {
			Expect(svc.Load(ctx)).To(Succeed())
			publisher.published = nil
		})

		It("rejects a move under a descendant without any I/O", func() {
			_, err := svc.Reparent(ctx, "A", "C")

			Expect(err).To(MatchError(services.ErrWouldCreateCycle))
			var herr *services.HierarchyError
			Expect(errors.As(err, &herr)).To(BeTrue())
			Expect(herr.Code).To(Equal(services.CodeReparentCycle))
			Expect(source.updateCalls).To(BeZero())
			Expect(source.listCalls).To(Equal(1))
			Expect(publisher.published).To(BeEmpty())
		})

		It("rejects a move onto itself", func() {
			_, err := svc.Reparent(ctx, "B", "B")
			Expect(err).To(MatchError(services.ErrWouldCreateCycle))
			Expect(source.updateCalls).To(BeZero())
		})

		It("issues exactly one update changing only the parent, then reloads", func() {
			saved, err := svc.Reparent(ctx, "C", "A")
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.ParentKey()).To(Equal("A"))

			Expect(source.updateCalls).To(Equal(1))
			sent := source.updated[0]
			Expect(sent.ID).To(Equal("C"))
			Expect(sent.ParentKey()).To(Equal("A"))
			Expect(sent.Name).To(Equal("Charlie"))
			Expect(sent.Type).To(Equal(ontology.OrgTypeArchitect))
			Expect(source.listCalls).To(Equal(2))

			index := hierarchy.Index(svc.Snapshot().Roots)
			Expect(index["C"].Level).To(Equal(1))
			Expect(svc.Expansion().IsExpanded("A")).To(BeTrue())
		})

		It("moves an organization to the root level", func() {
			_, err := svc.Reparent(ctx, "B", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(source.updated[0].ParentID).To(BeNil())

			roots := svc.Snapshot().Roots
			Expect(roots).To(HaveLen(3))
		})

		It("publishes a reparent event", func() {
			_, err := svc.Reparent(ctx, "D", "A")
			Expect(err).NotTo(HaveOccurred())

			Expect(publisher.subjects()).To(ContainElement(shared.OrganizationReparentedSubject("D")))
			var event shared.Event
			Expect(json.Unmarshal(publisher.published[0].data, &event)).To(Succeed())
			Expect(event.Type).To(Equal(shared.EventTypeReparented))
			Expect(event.Data).To(HaveKeyWithValue("to_parent_id", "A"))
			Expect(publisher.published[0].msgID).To(Equal(event.ID))
		})

		It("leaves the view untouched when the update fails", func() {
			before := svc.Snapshot()
			source.updateFn = func(context.Context, ontology.Organization) (*ontology.Organization, error) {
				return nil, errors.New("disk full")
			}

			_, err := svc.Reparent(ctx, "C", "A")
			Expect(err).To(MatchError(services.ErrUpdateFailed))
			var herr *services.HierarchyError
			Expect(errors.As(err, &herr)).To(BeTrue())
			Expect(herr.Code).To(Equal(services.CodeUpdateFailed))

			Expect(source.listCalls).To(Equal(1))
			Expect(svc.Snapshot().Fingerprint).To(Equal(before.Fingerprint))
			Expect(publisher.published).To(BeEmpty())
		})

		It("reports missing organizations and parents", func() {
			_, err := svc.Reparent(ctx, "ghost", "A")
			Expect(err).To(MatchError(services.ErrOrganizationNotFound))

			_, err = svc.Reparent(ctx, "C", "ghost")
			Expect(err).To(MatchError(services.ErrParentNotFound))
			Expect(source.updateCalls).To(BeZero())
		})

		It("rejects a second gesture while the first is in flight", func() {
			entered := make(chan struct{})
			release := make(chan struct{})
			source.updateFn = func(_ context.Context, o ontology.Organization) (*ontology.Organization, error) {
				close(entered)
				<-release
				return &o, nil
			}

			done := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				_, err := svc.Reparent(ctx, "C", "A")
				done <- err
			}()
			Eventually(entered).Should(BeClosed())

			_, err := svc.Reparent(ctx, "D", "A")
			Expect(err).To(MatchError(services.ErrReparentInProgress))

			close(release)
			Eventually(done).Should(Receive(BeNil()))
			Expect(source.updateCalls).To(Equal(1))
		})
	})

	Describe("concurrent reloads", func() {
		It("never lets an older list replace a newer one", func() {
			source.orgs = []ontology.Organization{org("A", "", "Alpha"), org("B", "", "Bravo")}
			Expect(svc.Load(ctx)).To(Succeed())

			entered := make(chan struct{})
			release := make(chan struct{})
			first := true
			source.listFn = func(context.Context) ([]ontology.Organization, error) {
				source.mu.Lock()
				listed := make([]ontology.Organization, len(source.orgs))
				for i, o := range source.orgs {
					listed[i] = o.Clone()
				}
				block := first
				first = false
				source.mu.Unlock()

				if block {
					close(entered)
					<-release
				}
				return listed, nil
			}

			slowLoad := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				slowLoad <- svc.Load(ctx)
			}()
			Eventually(entered).Should(BeClosed())

			moved := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				_, err := svc.Reparent(ctx, "B", "A")
				moved <- err
			}()
			Consistently(moved, 200*time.Millisecond).ShouldNot(Receive())

			close(release)
			Eventually(slowLoad).Should(Receive(BeNil()))
			Eventually(moved).Should(Receive(BeNil()))

			index := hierarchy.Index(svc.Snapshot().Roots)
			Expect(index["B"].Level).To(Equal(1))

			_, err := svc.Reparent(ctx, "A", "B")
			Expect(err).To(MatchError(services.ErrWouldCreateCycle))

			source.mu.Lock()
			stored := append([]ontology.Organization(nil), source.orgs...)
			source.mu.Unlock()
			Expect(hierarchy.DetectCycles(stored)).To(BeEmpty())
		})
	})

	Describe("CheckReparent", func() {
		BeforeEach(func() {
			Expect(svc.Load(ctx)).To(Succeed())
		})

		It("previews moves without mutating", func() {
			check, err := svc.CheckReparent("A", "C")
			Expect(err).NotTo(HaveOccurred())
			Expect(check.Allowed).To(BeFalse())
			Expect(check.Reason).NotTo(BeEmpty())

			check, err = svc.CheckReparent("C", "A")
			Expect(err).NotTo(HaveOccurred())
			Expect(check.Allowed).To(BeTrue())

			Expect(source.updateCalls).To(BeZero())
		})

		It("reports unknown organizations", func() {
			_, err := svc.CheckReparent("C", "ghost")
			Expect(err).To(MatchError(services.ErrParentNotFound))
		})
	})
})
