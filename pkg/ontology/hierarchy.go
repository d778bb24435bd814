package ontology

// OrganizationNode is an Organization placed in the derived forest. It is
// rebuilt from the flat list on every load and never persisted.
type OrganizationNode struct {
	Organization
	Children []*OrganizationNode `json:"children"`
	Level    int                 `json:"level"`
}

type ValidationErrorType string

const (
	ValidationCircularReference ValidationErrorType = "circular_reference"
	ValidationInvalidParent     ValidationErrorType = "invalid_parent"
	ValidationMaxDepthExceeded  ValidationErrorType = "max_depth_exceeded"
)

type ValidationError struct {
	Type           ValidationErrorType `json:"type"`
	Message        string              `json:"message"`
	OrganizationID string              `json:"organization_id"`
}

func (e ValidationError) Error() string {
	return string(e.Type) + ": " + e.Message
}
