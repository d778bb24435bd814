package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"orghierarchy/pkg/ontology"
	"orghierarchy/pkg/shared"
)

var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrInvalidRequest       = errors.New("invalid request")
)

const organizationColumns = `org_id, parent_id, name, org_type, is_active, created_at, updated_at`

// OrganizationService is the sqlite-backed record source for organizations.
type OrganizationService struct {
	db       *sql.DB
	validate *validator.Validate
	now      func() time.Time
}

func (s *OrganizationService) DB() *sql.DB {
	return s.db
}

func NewOrganizationService(db *sql.DB) *OrganizationService {
	return &OrganizationService{
		db:       db,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *OrganizationService) CreateOrganization(ctx context.Context, req *ontology.CreateOrganizationRequest) (*ontology.Organization, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	orgType, err := ontology.ParseOrganizationType(req.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	org := ontology.Organization{
		ID:       uuid.New().String(),
		Name:     strings.TrimSpace(req.Name),
		Type:     orgType,
		IsActive: true,
	}
	if req.ParentID != nil && *req.ParentID != "" {
		parent := *req.ParentID
		org.ParentID = &parent
	}
	if req.IsActive != nil {
		org.IsActive = *req.IsActive
	}
	org.CreatedAt = s.now()
	org.UpdatedAt = org.CreatedAt

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO organizations (`+organizationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		org.ID, nullableString(org.ParentID), org.Name, string(org.Type), boolToInt(org.IsActive),
		formatTime(org.CreatedAt), formatTime(org.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	return &org, nil
}

// ListOrganizations returns every organization in creation order.
func (s *OrganizationService) ListOrganizations(ctx context.Context) ([]ontology.Organization, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations ORDER BY created_at, rowid`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query organizations: %w", err)
	}
	defer rows.Close()

	orgs := []ontology.Organization{}
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, *org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate organizations: %w", err)
	}

	return orgs, nil
}

func (s *OrganizationService) GetOrganization(ctx context.Context, orgID string) (*ontology.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE org_id = ?`,
		orgID,
	)

	org, err := scanOrganization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, err
	}
	return org, nil
}

// UpdateOrganization persists the mutable fields of org (parent, name, type,
// active flag) and returns the stored record.
func (s *OrganizationService) UpdateOrganization(ctx context.Context, org ontology.Organization) (*ontology.Organization, error) {
	if org.ID == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrInvalidRequest)
	}
	if _, err := ontology.ParseOrganizationType(string(org.Type)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	org.UpdatedAt = s.now()
	result, err := s.db.ExecContext(ctx,
		`UPDATE organizations
		 SET parent_id = ?, name = ?, org_type = ?, is_active = ?, updated_at = ?
		 WHERE org_id = ?`,
		nullableString(org.ParentID), org.Name, string(org.Type), boolToInt(org.IsActive),
		formatTime(org.UpdatedAt), org.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update organization: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return nil, ErrOrganizationNotFound
	}

	return s.GetOrganization(ctx, org.ID)
}

func (s *OrganizationService) DeleteOrganization(ctx context.Context, orgID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM organizations WHERE org_id = ?", orgID)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrOrganizationNotFound
	}

	return nil
}

func scanOrganization(scanner interface{ Scan(...interface{}) error }) (*ontology.Organization, error) {
	var org ontology.Organization
	var parentID sql.NullString
	var orgType, createdAt, updatedAt string
	var isActive int

	err := scanner.Scan(&org.ID, &parentID, &org.Name, &orgType, &isActive, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan organization: %w", err)
	}

	if parentID.Valid && parentID.String != "" {
		p := parentID.String
		org.ParentID = &p
	}
	org.Type = ontology.OrganizationType(orgType)
	org.IsActive = isActive == 1
	if org.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at of organization %s: %w", org.ID, err)
	}
	if org.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at of organization %s: %w", org.ID, err)
	}

	return &org, nil
}

func nullableString(s *string) interface{} {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(shared.TimestampLayout)
}

// parseTime accepts any RFC 3339 timestamp, with or without fractional seconds.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
