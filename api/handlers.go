package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"orghierarchy/api/middleware"
	"orghierarchy/api/services"
	"orghierarchy/pkg/ontology"
	"orghierarchy/pkg/shared"
)

// HealthChecker is satisfied by the embedded NATS server.
type HealthChecker interface {
	HealthCheck() error
}

type Handlers struct {
	orgService       *services.OrganizationService
	hierarchyService *services.HierarchyService
	auditService     *services.AuditService
	nats             HealthChecker
	validate         *validator.Validate
	startedAt        time.Time
}

// NewHandlers wires the HTTP layer. nats may be nil when messaging is disabled.
func NewHandlers(orgs *services.OrganizationService, hierarchy *services.HierarchyService, audit *services.AuditService, nats HealthChecker) *Handlers {
	return &Handlers{
		orgService:       orgs,
		hierarchyService: hierarchy,
		auditService:     audit,
		nats:             nats,
		validate:         validator.New(),
		startedAt:        time.Now(),
	}
}

// Organization handlers
func (h *Handlers) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req ontology.CreateOrganizationRequest
	if !h.decode(w, r, &req) {
		return
	}

	org, err := h.orgService.CreateOrganization(r.Context(), &req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRequest) {
			sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		} else {
			sendError(w, http.StatusInternalServerError, "CREATE_FAILED", err.Error())
		}
		return
	}

	if err := h.hierarchyService.Load(r.Context()); err != nil {
		logrus.WithError(err).Warn("Hierarchy reload after create failed")
	}

	sendSuccess(w, http.StatusCreated, org)
}

func (h *Handlers) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.orgService.ListOrganizations(r.Context())
	if err != nil {
		sendError(w, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}

	sendSuccess(w, http.StatusOK, orgs)
}

func (h *Handlers) GetOrganization(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_ORG_ID", "org_id is required")
		return
	}

	org, err := h.orgService.GetOrganization(r.Context(), orgID)
	if err != nil {
		if errors.Is(err, services.ErrOrganizationNotFound) {
			sendError(w, http.StatusNotFound, services.CodeNotFound, err.Error())
		} else {
			sendError(w, http.StatusInternalServerError, "GET_FAILED", err.Error())
		}
		return
	}

	sendSuccess(w, http.StatusOK, org)
}

// Hierarchy handlers
func (h *Handlers) GetHierarchy(w http.ResponseWriter, r *http.Request) {
	view := h.hierarchyService.Snapshot()
	if view.Error != "" {
		sendError(w, http.StatusServiceUnavailable, services.CodeLoadFailed, view.Error)
		return
	}
	sendSuccess(w, http.StatusOK, view)
}

func (h *Handlers) ReloadHierarchy(w http.ResponseWriter, r *http.Request) {
	if err := h.hierarchyService.Load(r.Context()); err != nil {
		sendHierarchyError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, h.hierarchyService.Snapshot())
}

type reparentResponse struct {
	Organization *ontology.Organization `json:"organization"`
	View         services.View          `json:"view"`
}

func (h *Handlers) Reparent(w http.ResponseWriter, r *http.Request) {
	var req ontology.ReparentRequest
	if !h.decode(w, r, &req) {
		return
	}

	saved, err := h.hierarchyService.Reparent(r.Context(), req.OrganizationID, req.ParentID)
	if err != nil && saved == nil {
		sendHierarchyError(w, err)
		return
	}
	if err != nil {
		// persisted, but the follow-up reload failed; the view carries the error
		logrus.WithError(err).WithField("organization_id", req.OrganizationID).Warn("Reload after reparent failed")
	}

	sendSuccess(w, http.StatusOK, reparentResponse{Organization: saved, View: h.hierarchyService.Snapshot()})
}

func (h *Handlers) CheckReparent(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organization_id")
	if orgID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_ORG_ID", "organization_id is required")
		return
	}

	check, err := h.hierarchyService.CheckReparent(orgID, r.URL.Query().Get("parent_id"))
	if err != nil {
		sendHierarchyError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, check)
}

func (h *Handlers) Expand(w http.ResponseWriter, r *http.Request) {
	h.expansion(w, r, func(id string) error { return h.hierarchyService.Expand(id) })
}

func (h *Handlers) Collapse(w http.ResponseWriter, r *http.Request) {
	h.expansion(w, r, func(id string) error { return h.hierarchyService.Collapse(id) })
}

func (h *Handlers) Toggle(w http.ResponseWriter, r *http.Request) {
	h.expansion(w, r, func(id string) error {
		_, err := h.hierarchyService.Toggle(id)
		return err
	})
}

func (h *Handlers) expansion(w http.ResponseWriter, r *http.Request, apply func(id string) error) {
	var req ontology.ExpansionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := apply(req.OrganizationID); err != nil {
		sendHierarchyError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, h.hierarchyService.Snapshot())
}

// Audit handlers
func (h *Handlers) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			sendError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := h.auditService.ListAudit(r.Context(), r.URL.Query().Get("org_id"), limit)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}
	sendSuccess(w, http.StatusOK, entries)
}

// Health check
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := shared.HealthStatus{
		Status:    "healthy",
		Service:   shared.ServiceName,
		Uptime:    time.Since(h.startedAt),
		Timestamp: time.Now(),
		Details:   make(map[string]string),
	}

	// Check database
	if err := h.orgService.DB().PingContext(r.Context()); err != nil {
		health.Status = "unhealthy"
		health.Details["database"] = "unhealthy: " + err.Error()
	} else {
		health.Details["database"] = "healthy"
	}

	// Check NATS
	if h.nats == nil {
		health.Details["nats"] = "disabled"
	} else if err := h.nats.HealthCheck(); err != nil {
		health.Status = "unhealthy"
		health.Details["nats"] = "unhealthy: " + err.Error()
	} else {
		health.Details["nats"] = "healthy"
	}

	if view := h.hierarchyService.Snapshot(); view.Error != "" {
		health.Details["hierarchy"] = view.Error
	} else {
		health.Details["hierarchy"] = strconv.Itoa(len(view.Violations)) + " violations"
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	sendSuccess(w, statusCode, health)
}

// Helper functions
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return false
	}
	return true
}

// hierarchyStatus maps HierarchyError codes onto HTTP statuses.
var hierarchyStatus = map[string]int{
	services.CodeReparentCycle:      http.StatusUnprocessableEntity,
	services.CodeReparentInProgress: http.StatusConflict,
	services.CodeNotFound:           http.StatusNotFound,
	services.CodeParentNotFound:     http.StatusUnprocessableEntity,
	services.CodeUpdateFailed:       http.StatusBadGateway,
	services.CodeLoadFailed:         http.StatusServiceUnavailable,
}

func sendHierarchyError(w http.ResponseWriter, err error) {
	var herr *services.HierarchyError
	if !errors.As(err, &herr) {
		sendError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	status, ok := hierarchyStatus[herr.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	sendError(w, status, herr.Code, herr.Message)
}

func sendSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := shared.Response{
		Success: true,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logrus.WithError(err).Debug("Failed to write response")
	}
}

func sendError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := shared.Response{
		Success: false,
		Error: &shared.Error{
			Code:    code,
			Message: message,
		},
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logrus.WithError(err).Debug("Failed to write response")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
}

// only restricts a handler to a single method.
func only(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			methodNotAllowed(w)
			return
		}
		next(w, r)
	}
}

// RegisterRoutes sets up all API routes
func (h *Handlers) RegisterRoutes(mux *http.ServeMux, token string) {
	auth := middleware.BearerAuth(token)

	// Health check (no auth required)
	mux.HandleFunc("/health", h.HealthCheck)

	// Organization endpoints
	mux.HandleFunc("/api/v1/organizations", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			auth(h.CreateOrganization)(w, r)
		case http.MethodGet:
			if r.URL.Query().Get("org_id") != "" {
				auth(h.GetOrganization)(w, r)
			} else {
				auth(h.ListOrganizations)(w, r)
			}
		default:
			methodNotAllowed(w)
		}
	})

	// Hierarchy endpoints
	mux.HandleFunc("/api/v1/hierarchy", auth(only(http.MethodGet, h.GetHierarchy)))
	mux.HandleFunc("/api/v1/hierarchy/reload", auth(only(http.MethodPost, h.ReloadHierarchy)))
	mux.HandleFunc("/api/v1/hierarchy/reparent", auth(only(http.MethodPost, h.Reparent)))
	mux.HandleFunc("/api/v1/hierarchy/check", auth(only(http.MethodGet, h.CheckReparent)))
	mux.HandleFunc("/api/v1/hierarchy/expand", auth(only(http.MethodPost, h.Expand)))
	mux.HandleFunc("/api/v1/hierarchy/collapse", auth(only(http.MethodPost, h.Collapse)))
	mux.HandleFunc("/api/v1/hierarchy/toggle", auth(only(http.MethodPost, h.Toggle)))

	// Audit trail
	mux.HandleFunc("/api/v1/audit", auth(only(http.MethodGet, h.ListAudit)))
}
