package services_test

import (
	"context"
	"database/sql"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"orghierarchy/api/services"
	"orghierarchy/pkg/shared"
)

var _ = Describe("AuditService", func() {
	var (
		ctx context.Context
		db  *sql.DB
		svc *services.AuditService
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = newTestDB()
		svc = services.NewAuditService(db)
	})

	It("records a reparent once per event id", func() {
		evt := shared.ReparentEvent{
			OrganizationID: "org-1",
			Name:           "Harbor Mechanical",
			FromParentID:   "old",
			ToParentID:     "new",
			OccurredAt:     time.Now().UTC(),
		}
		Expect(svc.RecordReparent(ctx, "evt-1", evt)).To(Succeed())
		Expect(svc.RecordReparent(ctx, "evt-1", evt)).To(Succeed())

		entries, err := svc.ListAudit(ctx, "org-1", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].EventID).To(Equal("evt-1"))
		Expect(entries[0].Action).To(Equal(shared.EventTypeReparented))
		Expect(entries[0].FromParentID).To(Equal("old"))
		Expect(entries[0].ToParentID).To(Equal("new"))
	})

	It("lists newest first and filters by organization", func() {
		base := time.Now().UTC()
		Expect(svc.RecordReparent(ctx, "e1", shared.ReparentEvent{OrganizationID: "a", OccurredAt: base})).To(Succeed())
		Expect(svc.RecordReparent(ctx, "e2", shared.ReparentEvent{OrganizationID: "a", ToParentID: "p", OccurredAt: base.Add(time.Second)})).To(Succeed())
		Expect(svc.RecordReparent(ctx, "e3", shared.ReparentEvent{OrganizationID: "b", OccurredAt: base.Add(2 * time.Second)})).To(Succeed())

		all, err := svc.ListAudit(ctx, "", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(3))
		Expect(all[0].EventID).To(Equal("e3"))

		forA, err := svc.ListAudit(ctx, "a", 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(forA).To(HaveLen(1))
		Expect(forA[0].EventID).To(Equal("e2"))
		Expect(forA[0].FromParentID).To(BeEmpty())
	})

	It("fails loudly on a corrupt timestamp", func() {
		_, err := db.Exec(`INSERT INTO audit_log (audit_id, event_id, org_id, action, created_at)
			VALUES ('a1', 'e1', 'org-1', 'reparented', 'not-a-time')`)
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.ListAudit(ctx, "org-1", 0)
		Expect(err).To(MatchError(ContainSubstring("failed to parse created_at")))
	})
})
