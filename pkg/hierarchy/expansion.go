package hierarchy

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// ExpansionStateVersion is the schema version written by Snapshot.
const ExpansionStateVersion = 1

// ExpansionState is the set of organization ids whose children are shown.
// It is presentation state only and carries no hierarchy invariant.
type ExpansionState struct {
	mu       sync.RWMutex
	expanded map[string]struct{}
}

func NewExpansionState() *ExpansionState {
	return &ExpansionState{expanded: make(map[string]struct{})}
}

func (s *ExpansionState) Expand(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expanded[id] = struct{}{}
}

func (s *ExpansionState) Collapse(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.expanded, id)
}

// Toggle flips id and returns the new state.
func (s *ExpansionState) Toggle(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.expanded[id]; ok {
		delete(s.expanded, id)
		return false
	}
	s.expanded[id] = struct{}{}
	return true
}

func (s *ExpansionState) IsExpanded(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.expanded[id]
	return ok
}

func (s *ExpansionState) ExpandAll(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.expanded[id] = struct{}{}
	}
}

func (s *ExpansionState) CollapseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expanded = make(map[string]struct{})
}

// Expanded returns the expanded ids in sorted order.
func (s *ExpansionState) Expanded() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.expanded))
	for id := range s.expanded {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Prune forgets ids that keep reports false for, and returns how many were dropped.
func (s *ExpansionState) Prune(keep func(id string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for id := range s.expanded {
		if !keep(id) {
			delete(s.expanded, id)
			dropped++
		}
	}
	return dropped
}

type expansionDocument struct {
	Version  int      `json:"version"`
	Expanded []string `json:"expanded"`
}

// Snapshot encodes the expanded set as a versioned JSON document.
func (s *ExpansionState) Snapshot() ([]byte, error) {
	return json.MarshalIndent(expansionDocument{
		Version:  ExpansionStateVersion,
		Expanded: s.Expanded(),
	}, "", "  ")
}

// Restore replaces the expanded set with the contents of a Snapshot document.
func (s *ExpansionState) Restore(data []byte) error {
	var doc expansionDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode expansion state: %w", err)
	}
	if doc.Version != ExpansionStateVersion {
		return fmt.Errorf("unsupported expansion state version %d", doc.Version)
	}

	expanded := make(map[string]struct{}, len(doc.Expanded))
	for _, id := range doc.Expanded {
		expanded[id] = struct{}{}
	}

	s.mu.Lock()
	s.expanded = expanded
	s.mu.Unlock()
	return nil
}
