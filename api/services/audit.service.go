package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"orghierarchy/pkg/shared"
)

const defaultAuditLimit = 50

type AuditEntry struct {
	AuditID      string    `json:"audit_id"`
	EventID      string    `json:"event_id"`
	OrgID        string    `json:"org_id"`
	Action       string    `json:"action"`
	FromParentID string    `json:"from_parent_id,omitempty"`
	ToParentID   string    `json:"to_parent_id,omitempty"`
	Details      string    `json:"details,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuditService stores the reparent trail delivered by the audit worker.
type AuditService struct {
	db *sql.DB
}

func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// RecordReparent inserts one audit row per event id. Redelivered events are
// ignored, so the worker may ack after a duplicate without losing anything.
func (s *AuditService) RecordReparent(ctx context.Context, eventID string, evt shared.ReparentEvent) error {
	details, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	occurred := evt.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (audit_id, event_id, org_id, action, from_parent_id, to_parent_id, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), eventID, evt.OrganizationID, shared.EventTypeReparented,
		nullIfEmpty(evt.FromParentID), nullIfEmpty(evt.ToParentID), string(details),
		occurred.UTC().Format(shared.TimestampLayout),
	)
	if isUniqueViolation(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the newest entries first. An empty orgID lists all.
func (s *AuditService) ListAudit(ctx context.Context, orgID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}

	query := `SELECT audit_id, event_id, org_id, action, from_parent_id, to_parent_id, details, created_at FROM audit_log`
	args := []interface{}{}
	if orgID != "" {
		query += ` WHERE org_id = ?`
		args = append(args, orgID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var from, to sql.NullString
		var createdAt string
		if err := rows.Scan(&e.AuditID, &e.EventID, &e.OrgID, &e.Action, &from, &to, &e.Details, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.FromParentID = from.String
		e.ToParentID = to.String
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at of audit entry %s: %w", e.AuditID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit log: %w", err)
	}
	return entries, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
