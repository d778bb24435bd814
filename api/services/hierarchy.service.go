package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"orghierarchy/pkg/hierarchy"
	"orghierarchy/pkg/ontology"
	"orghierarchy/pkg/shared"
)

// RecordSource supplies the flat organization list and persists single
// record updates.
type RecordSource interface {
	ListOrganizations(ctx context.Context) ([]ontology.Organization, error)
	UpdateOrganization(ctx context.Context, org ontology.Organization) (*ontology.Organization, error)
}

// EventPublisher is the slice of the NATS client the service needs.
type EventPublisher interface {
	PublishWithDedup(subject string, data []byte, msgID string) error
}

const (
	CodeReparentCycle      = "REPARENT_CYCLE"
	CodeReparentInProgress = "REPARENT_IN_PROGRESS"
	CodeNotFound           = "NOT_FOUND"
	CodeParentNotFound     = "PARENT_NOT_FOUND"
	CodeUpdateFailed       = "UPDATE_FAILED"
	CodeLoadFailed         = "LOAD_FAILED"
)

var (
	ErrWouldCreateCycle   = errors.New("move would create a circular reference")
	ErrReparentInProgress = errors.New("another reparent is in progress")
	ErrParentNotFound     = errors.New("parent organization not found")
	ErrUpdateFailed       = errors.New("failed to save organization")
	ErrLoadFailed         = errors.New("failed to load organizations")
)

// HierarchyError carries a stable code for the UI next to the message.
type HierarchyError struct {
	Code    string
	Message string
	Cause   error
}

func (e *HierarchyError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *HierarchyError) Unwrap() error { return e.Cause }

func newHierarchyError(code, message string, cause error) *HierarchyError {
	return &HierarchyError{Code: code, Message: message, Cause: cause}
}

// View is what the tree screen renders.
type View struct {
	Roots       []*ontology.OrganizationNode `json:"roots"`
	Visible     []VisibleRow                 `json:"visible"`
	Violations  []ontology.ValidationError   `json:"violations"`
	Expanded    []string                     `json:"expanded"`
	Total       int                          `json:"total"`
	Fingerprint string                       `json:"fingerprint,omitempty"`
	LoadedAt    time.Time                    `json:"loaded_at"`
	Error       string                       `json:"error,omitempty"`
}

// VisibleRow is one rendered line of the tree.
type VisibleRow struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Level       int    `json:"level"`
	HasChildren bool   `json:"has_children"`
	Expanded    bool   `json:"expanded"`
}

// ReparentCheck is the answer to a drag-hover preview.
type ReparentCheck struct {
	OrganizationID string `json:"organization_id"`
	ParentID       string `json:"parent_id"`
	Allowed        bool   `json:"allowed"`
	Reason         string `json:"reason,omitempty"`
}

type snapshot struct {
	orgs        []ontology.Organization
	roots       []*ontology.OrganizationNode
	index       map[string]*ontology.OrganizationNode
	violations  []ontology.ValidationError
	fingerprint string
	loadedAt    time.Time
	err         string
}

// HierarchyService owns the last successfully loaded organization list and
// everything derived from it. The list is only ever replaced wholesale.
type HierarchyService struct {
	source    RecordSource
	publisher EventPublisher
	expansion *hierarchy.ExpansionState
	logger    *logrus.Entry

	mu      sync.RWMutex
	current snapshot

	// loadMu spans list, build and store so an older list never replaces a newer one.
	loadMu sync.Mutex

	// gesture serializes reparent operations; a second one is rejected.
	gesture sync.Mutex
}

func NewHierarchyService(source RecordSource, publisher EventPublisher, expansion *hierarchy.ExpansionState) *HierarchyService {
	if expansion == nil {
		expansion = hierarchy.NewExpansionState()
	}
	return &HierarchyService{
		source:    source,
		publisher: publisher,
		expansion: expansion,
		logger:    logrus.WithField("component", "hierarchy"),
		current: snapshot{
			roots:      []*ontology.OrganizationNode{},
			index:      map[string]*ontology.OrganizationNode{},
			violations: []ontology.ValidationError{},
		},
	}
}

func (s *HierarchyService) Expansion() *hierarchy.ExpansionState {
	return s.expansion
}

// Load lists every organization, rebuilds the forest and revalidates it.
// The forest is reused when the list is structurally unchanged. On failure
// the view switches to an empty error state and the error is returned.
func (s *HierarchyService) Load(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	orgs, err := s.source.ListOrganizations(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load organizations")
		s.mu.Lock()
		s.current = snapshot{
			roots:      []*ontology.OrganizationNode{},
			index:      map[string]*ontology.OrganizationNode{},
			violations: []ontology.ValidationError{},
			loadedAt:   time.Now().UTC(),
			err:        "Unable to load organizations. Please try again.",
		}
		s.mu.Unlock()
		return newHierarchyError(CodeLoadFailed, ErrLoadFailed.Error(), errors.Join(ErrLoadFailed, err))
	}

	fingerprint := hierarchy.Fingerprint(orgs)

	s.mu.RLock()
	prev := s.current
	s.mu.RUnlock()

	next := snapshot{
		orgs:        orgs,
		fingerprint: fingerprint,
		loadedAt:    time.Now().UTC(),
	}
	if prev.err == "" && prev.fingerprint == fingerprint && prev.orgs != nil {
		next.roots = prev.roots
		next.index = prev.index
		next.violations = prev.violations
	} else {
		next.roots = hierarchy.BuildTree(orgs)
		next.index = hierarchy.Index(next.roots)
		next.violations = hierarchy.Validate(orgs)
		s.publishValidation(orgs, next)
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()

	if dropped := s.expansion.Prune(func(id string) bool { _, ok := next.index[id]; return ok }); dropped > 0 {
		s.logger.WithField("dropped", dropped).Debug("Pruned expansion state for removed organizations")
	}

	entry := s.logger.WithFields(logrus.Fields{
		"organizations": len(orgs),
		"violations":    len(next.violations),
	})
	if len(next.violations) > 0 {
		entry.Warn("Hierarchy loaded with violations")
	} else {
		entry.Debug("Hierarchy loaded")
	}
	return nil
}

// Snapshot returns the current view, with visible rows derived from the
// expansion state at call time.
func (s *HierarchyService) Snapshot() View {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()

	rows := []VisibleRow{}
	for _, n := range hierarchy.Flatten(cur.roots, s.expansion.IsExpanded) {
		rows = append(rows, VisibleRow{
			ID:          n.ID,
			Name:        n.Name,
			Level:       n.Level,
			HasChildren: len(n.Children) > 0,
			Expanded:    s.expansion.IsExpanded(n.ID),
		})
	}

	return View{
		Roots:       cur.roots,
		Visible:     rows,
		Violations:  cur.violations,
		Expanded:    s.expansion.Expanded(),
		Total:       len(cur.orgs),
		Fingerprint: cur.fingerprint,
		LoadedAt:    cur.loadedAt,
		Error:       cur.err,
	}
}

// Organizations returns a copy of the last loaded flat list.
func (s *HierarchyService) Organizations() []ontology.Organization {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ontology.Organization, len(s.current.orgs))
	for i, o := range s.current.orgs {
		out[i] = o.Clone()
	}
	return out
}

// CheckReparent answers whether a move is allowed without performing it.
func (s *HierarchyService) CheckReparent(movingID, candidateParentID string) (ReparentCheck, error) {
	s.mu.RLock()
	orgs := s.current.orgs
	s.mu.RUnlock()

	check := ReparentCheck{OrganizationID: movingID, ParentID: candidateParentID}
	if _, err := s.lookup(orgs, movingID, candidateParentID); err != nil {
		return check, err
	}
	if hierarchy.WouldCreateCycle(movingID, candidateParentID, orgs) {
		check.Reason = ErrWouldCreateCycle.Error()
		return check, nil
	}
	check.Allowed = true
	return check, nil
}

// Reparent moves movingID under candidateParentID ("" for the root level).
// The guard runs against the last loaded list before any I/O. A permitted
// move issues exactly one update and then reloads the whole hierarchy. A
// failed update leaves the current view untouched.
func (s *HierarchyService) Reparent(ctx context.Context, movingID, candidateParentID string) (*ontology.Organization, error) {
	if !s.gesture.TryLock() {
		return nil, newHierarchyError(CodeReparentInProgress, ErrReparentInProgress.Error(), ErrReparentInProgress)
	}
	defer s.gesture.Unlock()

	s.mu.RLock()
	orgs := s.current.orgs
	s.mu.RUnlock()

	logger := s.logger.WithFields(logrus.Fields{
		"organization_id": movingID,
		"parent_id":       candidateParentID,
	})

	moving, err := s.lookup(orgs, movingID, candidateParentID)
	if err != nil {
		return nil, err
	}

	if hierarchy.WouldCreateCycle(movingID, candidateParentID, orgs) {
		logger.Info("Rejected reparent that would create a cycle")
		return nil, newHierarchyError(CodeReparentCycle,
			fmt.Sprintf("Cannot move %q under one of its own descendants", moving.Name), ErrWouldCreateCycle)
	}

	updated := moving.Clone()
	fromParent := moving.ParentKey()
	if candidateParentID == "" {
		updated.ParentID = nil
	} else {
		parent := candidateParentID
		updated.ParentID = &parent
	}
	updated.UpdatedAt = time.Now().UTC()

	saved, err := s.source.UpdateOrganization(ctx, updated)
	if err != nil {
		logger.WithError(err).Error("Failed to persist reparent")
		return nil, newHierarchyError(CodeUpdateFailed,
			"Failed to move organization. Please try again.", errors.Join(ErrUpdateFailed, err))
	}

	logger.WithField("from_parent_id", fromParent).Info("Organization reparented")
	s.publishReparent(shared.ReparentEvent{
		OrganizationID: movingID,
		Name:           moving.Name,
		FromParentID:   fromParent,
		ToParentID:     candidateParentID,
		OccurredAt:     updated.UpdatedAt,
	})

	if err := s.Load(ctx); err != nil {
		return saved, err
	}
	if candidateParentID != "" {
		s.expansion.Expand(candidateParentID)
	}
	return saved, nil
}

func (s *HierarchyService) Expand(id string) error {
	if err := s.requireKnown(id); err != nil {
		return err
	}
	s.expansion.Expand(id)
	return nil
}

func (s *HierarchyService) Collapse(id string) error {
	if err := s.requireKnown(id); err != nil {
		return err
	}
	s.expansion.Collapse(id)
	return nil
}

func (s *HierarchyService) Toggle(id string) (bool, error) {
	if err := s.requireKnown(id); err != nil {
		return false, err
	}
	return s.expansion.Toggle(id), nil
}

func (s *HierarchyService) requireKnown(id string) error {
	s.mu.RLock()
	_, ok := s.current.index[id]
	s.mu.RUnlock()
	if !ok {
		return newHierarchyError(CodeNotFound, ErrOrganizationNotFound.Error(), ErrOrganizationNotFound)
	}
	return nil
}

func (s *HierarchyService) lookup(orgs []ontology.Organization, movingID, candidateParentID string) (ontology.Organization, error) {
	var moving *ontology.Organization
	parentFound := candidateParentID == ""
	for i := range orgs {
		if orgs[i].ID == movingID && moving == nil {
			moving = &orgs[i]
		}
		if orgs[i].ID == candidateParentID {
			parentFound = true
		}
	}
	if moving == nil {
		return ontology.Organization{}, newHierarchyError(CodeNotFound, ErrOrganizationNotFound.Error(), ErrOrganizationNotFound)
	}
	if !parentFound {
		return ontology.Organization{}, newHierarchyError(CodeParentNotFound, ErrParentNotFound.Error(), ErrParentNotFound)
	}
	return *moving, nil
}

func (s *HierarchyService) publishReparent(evt shared.ReparentEvent) {
	s.publish(shared.EventTypeReparented, shared.OrganizationReparentedSubject(evt.OrganizationID), evt)
}

func (s *HierarchyService) publishValidation(orgs []ontology.Organization, snap snapshot) {
	summary := shared.ValidationSummary{
		Fingerprint:       snap.fingerprint,
		OrganizationCount: len(orgs),
		ViolationCount:    len(snap.violations),
		ByType:            make(map[string]int),
		ValidatedAt:       snap.loadedAt,
	}
	for _, v := range snap.violations {
		summary.ByType[string(v.Type)]++
	}
	s.publish(shared.EventTypeValidated, shared.SubjectValidationCompleted, summary)
}

func (s *HierarchyService) publish(eventType, subject string, payload interface{}) {
	if s.publisher == nil {
		return
	}

	event, err := shared.NewEvent(eventType, subject, shared.SourceHierarchyService, payload)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to build hierarchy event")
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to marshal hierarchy event")
		return
	}
	if err := s.publisher.PublishWithDedup(subject, data, event.ID); err != nil {
		s.logger.WithError(err).WithField("subject", subject).Warn("Failed to publish hierarchy event")
		return
	}
	s.logger.WithField("subject", subject).Debug("Published hierarchy event")
}
