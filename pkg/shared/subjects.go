package shared

import "fmt"

// NATS Subject patterns
const (
	SubjectPrefix = "hierarchy"

	// Organization change subjects
	SubjectOrganizationsAll       = "hierarchy.organizations.>"
	SubjectOrganizationReparented = "hierarchy.organizations.%s.reparented" // org_id

	// Validation subjects
	SubjectValidationAll       = "hierarchy.validation.>"
	SubjectValidationCompleted = "hierarchy.validation.completed"
)

// Stream names
const (
	StreamChanges    = "HIERARCHY_CHANGES"
	StreamValidation = "HIERARCHY_VALIDATION"
)

// Consumer names
const (
	ConsumerAuditProcessor     = "audit-processor"
	ConsumerViolationProcessor = "violation-processor"
)

func OrganizationReparentedSubject(orgID string) string {
	return fmt.Sprintf(SubjectOrganizationReparented, orgID)
}
