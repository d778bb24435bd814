package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"orghierarchy/pkg/shared"
)

type seedOrg struct {
	key     string
	parent  string
	name    string
	orgType string
}

// demoOrganizations is a small, valid forest: one tree per region plus a
// standalone owner, covering every organization type.
var demoOrganizations = []seedOrg{
	{key: "northwind", name: "Northwind Engineering", orgType: "engineering_firm"},
	{key: "northwind-mep", parent: "northwind", name: "Northwind MEP Group", orgType: "engineering_firm"},
	{key: "northwind-arch", parent: "northwind", name: "Northwind Architects", orgType: "architect"},
	{key: "northwind-mech", parent: "northwind-mep", name: "Harbor Mechanical", orgType: "mechanical_contractor"},
	{key: "northwind-fm", parent: "northwind-mech", name: "Harbor Facilities", orgType: "facilities_manager"},
	{key: "coastal", name: "Coastal Rep Agency", orgType: "manufacturer_rep"},
	{key: "coastal-south", parent: "coastal", name: "Coastal Rep South", orgType: "manufacturer_rep"},
	{key: "summit", name: "Summit Properties", orgType: "building_owner"},
}

// SeedDemoData inserts the demo forest when the organizations table is empty.
// It returns the number of inserted rows.
func (s *Service) SeedDemoData() (int, error) {
	count, err := s.CountOrganizations()
	if err != nil {
		return 0, err
	}
	if count > 0 {
		logrus.WithField("organizations", count).Debug("Skipping demo seed, table not empty")
		return 0, nil
	}

	ids := make(map[string]string, len(demoOrganizations))
	for _, o := range demoOrganizations {
		ids[o.key] = uuid.New().String()
	}

	now := time.Now().UTC()
	err = s.Transaction(func(tx *sql.Tx) error {
		for i, o := range demoOrganizations {
			var parentID interface{}
			if o.parent != "" {
				parentID = ids[o.parent]
			}
			// stagger timestamps so list order matches seed order
			ts := now.Add(time.Duration(i) * time.Millisecond).Format(shared.TimestampLayout)
			if _, err := tx.Exec(
				`INSERT INTO organizations (org_id, parent_id, name, org_type, is_active, created_at, updated_at)
				 VALUES (?, ?, ?, ?, 1, ?, ?)`,
				ids[o.key], parentID, o.name, o.orgType, ts, ts,
			); err != nil {
				return fmt.Errorf("failed to seed organization %s: %w", o.name, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	logrus.WithField("organizations", len(demoOrganizations)).Info("Seeded demo organizations")
	return len(demoOrganizations), nil
}
