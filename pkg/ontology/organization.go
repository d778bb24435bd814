package ontology

import (
	"fmt"
	"time"
)

type OrganizationType string

const (
	OrgTypeEngineeringFirm      OrganizationType = "engineering_firm"
	OrgTypeManufacturerRep      OrganizationType = "manufacturer_rep"
	OrgTypeBuildingOwner        OrganizationType = "building_owner"
	OrgTypeArchitect            OrganizationType = "architect"
	OrgTypeMechanicalContractor OrganizationType = "mechanical_contractor"
	OrgTypeFacilitiesManager    OrganizationType = "facilities_manager"
)

// AllOrganizationTypes returns every supported organization type in display order.
func AllOrganizationTypes() []OrganizationType {
	return []OrganizationType{
		OrgTypeEngineeringFirm,
		OrgTypeManufacturerRep,
		OrgTypeBuildingOwner,
		OrgTypeArchitect,
		OrgTypeMechanicalContractor,
		OrgTypeFacilitiesManager,
	}
}

// ParseOrganizationType validates a raw type string.
func ParseOrganizationType(s string) (OrganizationType, error) {
	for _, t := range AllOrganizationTypes() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown organization type %q", s)
}

type Organization struct {
	ID        string           `json:"id" db:"org_id"`
	ParentID  *string          `json:"parent_id" db:"parent_id"`
	Name      string           `json:"name" db:"name"`
	Type      OrganizationType `json:"type" db:"org_type"`
	IsActive  bool             `json:"is_active" db:"is_active"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt time.Time        `json:"updated_at" db:"updated_at"`
}

// HasParent reports whether the record points at a parent. An empty string
// is treated the same as a missing parent.
func (o Organization) HasParent() bool {
	return o.ParentID != nil && *o.ParentID != ""
}

// ParentKey returns the parent id or "" for roots.
func (o Organization) ParentKey() string {
	if !o.HasParent() {
		return ""
	}
	return *o.ParentID
}

// Clone returns a copy that does not share the ParentID pointer.
func (o Organization) Clone() Organization {
	c := o
	if o.ParentID != nil {
		p := *o.ParentID
		c.ParentID = &p
	}
	return c
}

type CreateOrganizationRequest struct {
	Name     string  `json:"name" validate:"required,min=1,max=255"`
	Type     string  `json:"type" validate:"required,oneof=engineering_firm manufacturer_rep building_owner architect mechanical_contractor facilities_manager"`
	ParentID *string `json:"parent_id,omitempty" validate:"omitempty,min=1"`
	IsActive *bool   `json:"is_active,omitempty"`
}

type ReparentRequest struct {
	OrganizationID string `json:"organization_id" validate:"required"`
	// ParentID empty moves the organization to the root level.
	ParentID string `json:"parent_id"`
}

type ExpansionRequest struct {
	OrganizationID string `json:"organization_id" validate:"required"`
}
