package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/printshop-workflow/internal/application/estimation"
	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/application/service"
	"github.com/garyjia/printshop-workflow/internal/application/workflow"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
)

// Actor identity headers, set by the authenticating proxy
const (
	HeaderActorRole = "X-Actor-Role"
	HeaderActorID   = "X-Actor-ID"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handlers contains all HTTP request handlers
type Handlers struct {
	dossiers  service.DossierService
	policy    *domainwf.Policy
	estimator estimation.Estimator
	exporter  ViewExporter
	health    HealthFunc
	logger    Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	dossiers service.DossierService,
	policy *domainwf.Policy,
	estimator estimation.Estimator,
	exporter ViewExporter,
	logger Logger,
) *Handlers {
	return &Handlers{
		dossiers:  dossiers,
		policy:    policy,
		estimator: estimator,
		exporter:  exporter,
		logger:    logger,
	}
}

// Response represents a standard JSON response. Reason carries the refusal
// code of a workflow decision.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp string      `json:"timestamp"`
	Details   interface{} `json:"details,omitempty"`
}

// StatusInfo describes one canonical status
type StatusInfo struct {
	Status   domainwf.Status `json:"status"`
	Label    string          `json:"label"`
	Rank     int             `json:"rank"`
	Terminal bool            `json:"terminal"`
}

// NormalizeResponse is the result of GET /api/statuses/normalize
type NormalizeResponse struct {
	Raw        string                    `json:"raw"`
	Context    domainwf.NormalizeContext `json:"context"`
	Status     domainwf.Status           `json:"status"`
	Label      string                    `json:"label"`
	Recognized bool                      `json:"recognized"`
}

// PolicyResponse is the declarative policy of one role
type PolicyResponse struct {
	Role domainwf.Role `json:"role"`
	domainwf.RoleSpec
}

// CreateDossierBody is the body of POST /api/dossiers
type CreateDossierBody struct {
	Reference string `json:"reference" binding:"required"`
	Status    string `json:"status"`
	Type      string `json:"type"`
}

// TransitionBody is the body of POST /api/dossiers/:id/transitions
type TransitionBody struct {
	ToStatus        string            `json:"to_status" binding:"required"`
	FromStatus      string            `json:"from_status"`
	Comment         string            `json:"comment"`
	Metadata        map[string]string `json:"metadata"`
	ExpectedVersion *int64            `json:"expected_version"`
}

// EstimateBody is the body of POST /api/estimates
type EstimateBody struct {
	MachineType domainwf.MachineType    `json:"machine_type" binding:"required"`
	Snapshot    estimation.FormSnapshot `json:"snapshot"`
}

// ListDossiersQuery represents query parameters for listing dossiers
type ListDossiersQuery struct {
	Role    string `form:"role"`
	Type    string `form:"type"`
	Status  string `form:"status"`
	Default bool   `form:"default"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if h.health != nil {
		healthy, detail := h.health()
		resp.Details = detail
		if !healthy {
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, Response{Success: code == http.StatusOK, Data: resp})
}

// ListStatuses handles GET /api/statuses
func (h *Handlers) ListStatuses(c *gin.Context) {
	order := domainwf.DisplayOrder()
	out := make([]StatusInfo, 0, len(order))
	for _, s := range order {
		out = append(out, StatusInfo{Status: s, Label: s.Label(), Rank: s.Rank(), Terminal: s.IsTerminal()})
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: out})
}

// NormalizeStatus handles GET /api/statuses/normalize?raw=&context=
func (h *Handlers) NormalizeStatus(c *gin.Context) {
	raw := c.Query("raw")
	ctx := domainwf.ParseNormalizeContext(c.Query("context"))
	status, recognized := domainwf.Resolve(raw, ctx)

	c.JSON(http.StatusOK, Response{Success: true, Data: NormalizeResponse{
		Raw:        raw,
		Context:    ctx,
		Status:     status,
		Label:      status.Label(),
		Recognized: recognized,
	}})
}

// GetPolicy handles GET /api/policy/:role
func (h *Handlers) GetPolicy(c *gin.Context) {
	role, err := domainwf.ParseRole(c.Param("role"))
	if err != nil {
		h.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: PolicyResponse{Role: role, RoleSpec: h.policy.Spec(role)}})
}

// ListDossiers handles GET /api/dossiers
func (h *Handlers) ListDossiers(c *gin.Context) {
	req, ok := h.viewRequest(c, c.Query("role"))
	if !ok {
		return
	}

	view, err := h.dossiers.View(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Failed to build view", "role", req.Role, "error", err)
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: view})
}

// CreateDossier handles POST /api/dossiers
func (h *Handlers) CreateDossier(c *gin.Context) {
	role, actorID, ok := h.actor(c)
	if !ok {
		return
	}

	var body CreateDossierBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	machine, err := domainwf.ParseMachineType(body.Type)
	if err != nil {
		h.fail(c, http.StatusBadRequest, err.Error())
		return
	}

	dossier, err := h.dossiers.Create(c.Request.Context(), service.CreateDossierRequest{
		Reference: body.Reference,
		Status:    body.Status,
		Type:      machine,
		ActorRole: role,
		ActorID:   actorID,
	})
	if err != nil {
		h.logger.Error("Failed to create dossier", "reference", body.Reference, "error", err)
		h.failErr(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: dossier})
}

// GetDossier handles GET /api/dossiers/:id
func (h *Handlers) GetDossier(c *gin.Context) {
	id, ok := h.dossierID(c)
	if !ok {
		return
	}

	dossier, err := h.dossiers.Get(c.Request.Context(), id)
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: dossier})
}

// DeleteDossier handles DELETE /api/dossiers/:id
func (h *Handlers) DeleteDossier(c *gin.Context) {
	id, ok := h.dossierID(c)
	if !ok {
		return
	}
	role, actorID, ok := h.actor(c)
	if !ok {
		return
	}

	outcome, err := h.dossiers.Delete(c.Request.Context(), entity.DeleteRequest{
		DossierID: id,
		ActorRole: role,
		ActorID:   actorID,
	})
	if err != nil {
		h.logger.Error("Failed to delete dossier", "dossier_id", id, "error", err)
		h.failErr(c, err)
		return
	}
	if !outcome.OK {
		c.JSON(reasonStatus(outcome.Reason), Response{
			Success: false,
			Data:    outcome,
			Error:   outcome.Message,
			Reason:  outcome.Reason.String(),
		})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: outcome})
}

// TransitionDossier handles POST /api/dossiers/:id/transitions
func (h *Handlers) TransitionDossier(c *gin.Context) {
	id, ok := h.dossierID(c)
	if !ok {
		return
	}
	role, actorID, ok := h.actor(c)
	if !ok {
		return
	}

	var body TransitionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	outcome, err := h.dossiers.Transition(c.Request.Context(), entity.TransitionRequest{
		DossierID:       id,
		ActorRole:       role,
		ActorID:         actorID,
		FromStatus:      body.FromStatus,
		ToStatus:        body.ToStatus,
		Comment:         body.Comment,
		Metadata:        body.Metadata,
		ExpectedVersion: body.ExpectedVersion,
	})
	if err != nil {
		h.logger.Error("Failed to apply transition", "dossier_id", id, "error", err)
		h.failErr(c, err)
		return
	}
	if !outcome.OK {
		c.JSON(reasonStatus(outcome.Reason), Response{
			Success: false,
			Data:    outcome,
			Error:   outcome.Message,
			Reason:  outcome.Reason.String(),
		})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: outcome})
}

// AvailableTransitions handles GET /api/dossiers/:id/transitions?role=
func (h *Handlers) AvailableTransitions(c *gin.Context) {
	id, ok := h.dossierID(c)
	if !ok {
		return
	}
	role, ok := h.role(c, c.Query("role"))
	if !ok {
		return
	}

	targets, err := h.dossiers.AvailableTransitions(c.Request.Context(), role, id)
	if err != nil {
		h.failErr(c, err)
		return
	}
	if targets == nil {
		targets = []domainwf.Status{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: targets})
}

// DossierHistory handles GET /api/dossiers/:id/history
func (h *Handlers) DossierHistory(c *gin.Context) {
	id, ok := h.dossierID(c)
	if !ok {
		return
	}

	if _, err := h.dossiers.Get(c.Request.Context(), id); err != nil {
		h.failErr(c, err)
		return
	}
	records, err := h.dossiers.History(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load history", "dossier_id", id, "error", err)
		h.failErr(c, err)
		return
	}
	if records == nil {
		records = []*entity.TransitionHistory{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}

// ExportView handles GET /api/views/:role/export
func (h *Handlers) ExportView(c *gin.Context) {
	req, ok := h.viewRequest(c, c.Param("role"))
	if !ok {
		return
	}

	view, err := h.dossiers.View(c.Request.Context(), req)
	if err != nil {
		h.failErr(c, err)
		return
	}

	var buf bytes.Buffer
	if err := h.exporter.Export(&buf, view); err != nil {
		h.logger.Error("Failed to export view", "role", req.Role, "error", err)
		h.fail(c, http.StatusInternalServerError, "failed to export view")
		return
	}

	filename := fmt.Sprintf("dossiers-%s-%s.xlsx", req.Role, time.Now().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// Estimate handles POST /api/estimates
func (h *Handlers) Estimate(c *gin.Context) {
	var body EstimateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.estimator.Estimate(c.Request.Context(), estimation.EstimationRequest{
		Snapshot: body.Snapshot,
		Machine:  body.MachineType,
	})
	if err != nil {
		switch {
		case errors.Is(err, estimation.ErrUnknownMachine), errors.Is(err, estimation.ErrInvalidInput):
			h.fail(c, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.Error("Estimation failed", "machine_type", body.MachineType, "error", err)
			h.fail(c, http.StatusInternalServerError, "estimation failed")
		}
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

func (h *Handlers) viewRequest(c *gin.Context, rawRole string) (service.ViewRequest, bool) {
	var q ListDossiersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.fail(c, http.StatusBadRequest, "invalid query parameters")
		return service.ViewRequest{}, false
	}

	role, ok := h.role(c, rawRole)
	if !ok {
		return service.ViewRequest{}, false
	}

	req := service.ViewRequest{Role: role, UseDefault: q.Default}
	if q.Status != "" {
		status, err := domainwf.ParseStatus(q.Status)
		if err != nil {
			h.fail(c, http.StatusUnprocessableEntity, err.Error())
			return service.ViewRequest{}, false
		}
		req.Filter.Status = &status
	}
	machine, err := domainwf.ParseMachineType(q.Type)
	if err != nil {
		h.fail(c, http.StatusBadRequest, err.Error())
		return service.ViewRequest{}, false
	}
	req.Filter.Type = machine

	return req, true
}

// role parses raw, falling back to the actor header when raw is empty
func (h *Handlers) role(c *gin.Context, raw string) (domainwf.Role, bool) {
	if raw == "" {
		raw = c.GetHeader(HeaderActorRole)
	}
	if raw == "" {
		h.fail(c, http.StatusBadRequest, "role is required")
		return "", false
	}
	role, err := domainwf.ParseRole(raw)
	if err != nil {
		h.fail(c, http.StatusBadRequest, err.Error())
		return "", false
	}
	return role, true
}

func (h *Handlers) actor(c *gin.Context) (domainwf.Role, string, bool) {
	raw := c.GetHeader(HeaderActorRole)
	if raw == "" {
		h.fail(c, http.StatusUnauthorized, "missing "+HeaderActorRole+" header")
		return "", "", false
	}
	role, err := domainwf.ParseRole(raw)
	if err != nil {
		h.fail(c, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	return role, c.GetHeader(HeaderActorID), true
}

func (h *Handlers) dossierID(c *gin.Context) (int64, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.fail(c, http.StatusBadRequest, "invalid dossier ID")
		return 0, false
	}
	return id, true
}

func (h *Handlers) fail(c *gin.Context, code int, msg string) {
	c.JSON(code, Response{Success: false, Error: msg})
}

func (h *Handlers) failErr(c *gin.Context, err error) {
	code := errorStatus(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	h.fail(c, code, msg)
}

// reasonStatus maps a workflow refusal to an HTTP status
func reasonStatus(r workflow.Reason) int {
	switch r {
	case workflow.ReasonIllegalTransition, workflow.ReasonNotOwner, workflow.ReasonWrongMachine:
		return http.StatusForbidden
	case workflow.ReasonUnknownStatus:
		return http.StatusUnprocessableEntity
	case workflow.ReasonConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, port.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, port.ErrDuplicate), errors.Is(err, port.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
