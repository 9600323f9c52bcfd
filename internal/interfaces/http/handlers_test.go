package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/printshop-workflow/internal/application/estimation"
	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/application/service"
	"github.com/garyjia/printshop-workflow/internal/application/workflow"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
)

type mockLogger struct{}

func (mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (mockLogger) Error(msg string, keysAndValues ...interface{}) {}

// mockDossierService delegates workflow decisions to a real engine over an
// in-memory map
type mockDossierService struct {
	engine      workflow.Engine
	dossiers    map[int64]*entity.Dossier
	history     map[int64][]*entity.TransitionHistory
	lastView    service.ViewRequest
	lastCreate  service.CreateDossierRequest
	transitions []entity.TransitionRequest
	failWith    error
}

func newMockService() *mockDossierService {
	return &mockDossierService{
		engine:   workflow.NewEngine(domainwf.DefaultPolicy()),
		dossiers: map[int64]*entity.Dossier{},
		history:  map[int64][]*entity.TransitionHistory{},
	}
}

func (m *mockDossierService) Create(ctx context.Context, req service.CreateDossierRequest) (*entity.Dossier, error) {
	m.lastCreate = req
	if m.failWith != nil {
		return nil, m.failWith
	}
	d := &entity.Dossier{ID: int64(len(m.dossiers) + 1), Reference: req.Reference, Status: domainwf.StatusNouveau, Type: req.Type, Version: 1}
	m.dossiers[d.ID] = d
	return d, nil
}

func (m *mockDossierService) Get(ctx context.Context, id int64) (*entity.Dossier, error) {
	d, ok := m.dossiers[id]
	if !ok {
		return nil, fmt.Errorf("get dossier %d: %w", id, port.ErrNotFound)
	}
	return d, nil
}

func (m *mockDossierService) Transition(ctx context.Context, req entity.TransitionRequest) (workflow.TransitionOutcome, error) {
	m.transitions = append(m.transitions, req)
	d, err := m.Get(ctx, req.DossierID)
	if err != nil {
		return workflow.TransitionOutcome{}, err
	}
	outcome := m.engine.ApplyTransition(d, req)
	if outcome.OK {
		m.dossiers[d.ID] = outcome.Dossier
	}
	return outcome, nil
}

func (m *mockDossierService) Delete(ctx context.Context, req entity.DeleteRequest) (workflow.DeleteOutcome, error) {
	d, err := m.Get(ctx, req.DossierID)
	if err != nil {
		return workflow.DeleteOutcome{}, err
	}
	outcome := m.engine.AuthorizeDelete(d, req)
	if outcome.OK {
		delete(m.dossiers, d.ID)
	}
	return outcome, nil
}

func (m *mockDossierService) View(ctx context.Context, req service.ViewRequest) (workflow.View, error) {
	m.lastView = req
	var all []*entity.Dossier
	for _, d := range m.dossiers {
		all = append(all, d)
	}
	return m.engine.ViewFor(req.Role, all, req.Filter), nil
}

func (m *mockDossierService) History(ctx context.Context, dossierID int64) ([]*entity.TransitionHistory, error) {
	return m.history[dossierID], nil
}

func (m *mockDossierService) AvailableTransitions(ctx context.Context, role domainwf.Role, dossierID int64) ([]domainwf.Status, error) {
	d, err := m.Get(ctx, dossierID)
	if err != nil {
		return nil, err
	}
	return m.engine.AvailableTransitions(role, d), nil
}

type stubExporter struct{ roles []domainwf.Role }

func (s *stubExporter) Export(w io.Writer, view workflow.View) error {
	s.roles = append(s.roles, view.Role)
	_, err := w.Write([]byte("PK-xlsx"))
	return err
}

type fixture struct {
	svc      *mockDossierService
	exporter *stubExporter
	server   *Server
}

func newFixture(opts ...ServerOption) *fixture {
	svc := newMockService()
	exporter := &stubExporter{}
	estimator := estimation.EstimatorFunc(func(ctx context.Context, req estimation.EstimationRequest) (estimation.EstimationResult, error) {
		if req.Machine != domainwf.MachineXerox {
			return estimation.EstimationResult{}, estimation.ErrUnknownMachine
		}
		return estimation.EstimationResult{Value: 42.5, Warnings: []string{}}, nil
	})
	server := NewServer(DefaultServerConfig(), svc, domainwf.DefaultPolicy(), estimator, exporter, mockLogger{}, opts...)
	return &fixture{svc: svc, exporter: exporter, server: server}
}

func (f *fixture) seed(id int64, status domainwf.Status, machine *domainwf.MachineType) {
	f.svc.dossiers[id] = &entity.Dossier{ID: id, Reference: fmt.Sprintf("CMD-%03d", id), Status: status, Type: machine, CreatedBy: "user-1", Version: 1}
}

func (f *fixture) do(t *testing.T, method, path, role, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set(HeaderActorRole, role)
		req.Header.Set(HeaderActorID, "user-1")
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)

	var resp Response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func machine(m domainwf.MachineType) *domainwf.MachineType { return &m }

func dataMap(t *testing.T, resp Response) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

func TestHealthCheck(t *testing.T) {
	f := newFixture()
	rec, resp := f.do(t, "GET", "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	f = newFixture(WithHealth(func() (bool, interface{}) { return false, map[string]string{"database": "down"} }))
	rec, resp = f.do(t, "GET", "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "unhealthy", dataMap(t, resp)["status"])
}

func TestMetricsMount(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("printflow_up 1\n"))
	})
	f := newFixture(WithMetrics(metrics))

	rec, _ := f.do(t, "GET", "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "printflow_up 1\n", rec.Body.String())

	rec, _ = newFixture().do(t, "GET", "/metrics", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListStatuses(t *testing.T) {
	rec, resp := newFixture().do(t, "GET", "/api/statuses", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	items := resp.Data.([]interface{})
	require.Len(t, items, len(domainwf.DisplayOrder()))
	first := items[0].(map[string]interface{})
	assert.Equal(t, "nouveau", first["status"])
	assert.Equal(t, "Nouveau", first["label"])
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		status     string
		recognized bool
	}{
		{"label with accents", "raw=Pr%C3%AAt%20impression", "pret_impression", true},
		{"unknown falls back", "raw=zzz", "nouveau", false},
		{"production fallback", "raw=zzz&context=production", "en_cours", false},
		{"empty", "", "nouveau", false},
	}

	f := newFixture()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := f.do(t, "GET", "/api/statuses/normalize?"+tt.query, "", "")
			require.Equal(t, http.StatusOK, rec.Code)
			data := dataMap(t, resp)
			assert.Equal(t, tt.status, data["status"])
			assert.Equal(t, tt.recognized, data["recognized"])
		})
	}
}

func TestGetPolicy(t *testing.T) {
	f := newFixture()

	rec, resp := f.do(t, "GET", "/api/policy/livreur", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := dataMap(t, resp)
	assert.Equal(t, "livreur", data["role"])
	assert.Contains(t, data["visible"], "en_livraison")

	rec, resp = f.do(t, "GET", "/api/policy/stagiaire", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)
}

func TestListDossiers(t *testing.T) {
	f := newFixture()
	f.seed(1, domainwf.StatusPretImpression, machine(domainwf.MachineRoland))
	f.seed(2, domainwf.StatusPretImpression, machine(domainwf.MachineXerox))

	rec, resp := f.do(t, "GET", "/api/dossiers?role=imprimeur_roland&default=1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.svc.lastView.UseDefault)
	assert.Equal(t, domainwf.RoleImprimeurRoland, f.svc.lastView.Role)
	assert.Equal(t, "imprimeur_roland", dataMap(t, resp)["role"])

	// the header names the role when the query does not
	rec, _ = f.do(t, "GET", "/api/dossiers?status=pret_impression&type=xerox", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.svc.lastView.Filter.Status)
	assert.Equal(t, domainwf.StatusPretImpression, *f.svc.lastView.Filter.Status)
	assert.Equal(t, domainwf.MachineXerox, *f.svc.lastView.Filter.Type)
	assert.False(t, f.svc.lastView.UseDefault)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"no role", "/api/dossiers", http.StatusBadRequest},
		{"unknown role", "/api/dossiers?role=boss", http.StatusBadRequest},
		{"unknown status", "/api/dossiers?role=admin&status=perdu", http.StatusUnprocessableEntity},
		{"unknown machine", "/api/dossiers?role=admin&type=hp", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := f.do(t, "GET", tt.path, "", "")
			assert.Equal(t, tt.code, rec.Code)
			assert.False(t, resp.Success)
		})
	}
}

func TestCreateDossier(t *testing.T) {
	tests := []struct {
		name     string
		role     string
		body     string
		failWith error
		code     int
	}{
		{"created", "preparateur", `{"reference":"CMD-100","type":"roland"}`, nil, http.StatusCreated},
		{"missing actor", "", `{"reference":"CMD-100"}`, nil, http.StatusUnauthorized},
		{"missing reference", "admin", `{}`, nil, http.StatusBadRequest},
		{"bad machine", "admin", `{"reference":"CMD-100","type":"hp"}`, nil, http.StatusBadRequest},
		{"forbidden", "livreur", `{"reference":"CMD-100"}`, service.ErrForbidden, http.StatusForbidden},
		{"duplicate", "admin", `{"reference":"CMD-100"}`, fmt.Errorf("create dossier: %w", port.ErrDuplicate), http.StatusConflict},
		{"internal", "admin", `{"reference":"CMD-100"}`, errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.svc.failWith = tt.failWith

			rec, resp := f.do(t, "POST", "/api/dossiers", tt.role, tt.body)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.code == http.StatusCreated, resp.Success)
			if tt.code == http.StatusInternalServerError {
				assert.Equal(t, "internal error", resp.Error)
			}
		})
	}

	f := newFixture()
	_, _ = f.do(t, "POST", "/api/dossiers", "preparateur", `{"reference":"CMD-7","status":"En cours","type":"xerox"}`)
	assert.Equal(t, "CMD-7", f.svc.lastCreate.Reference)
	assert.Equal(t, "En cours", f.svc.lastCreate.Status)
	assert.Equal(t, domainwf.MachineXerox, *f.svc.lastCreate.Type)
	assert.Equal(t, "user-1", f.svc.lastCreate.ActorID)
}

func TestGetDossier(t *testing.T) {
	f := newFixture()
	f.seed(3, domainwf.StatusEnCours, nil)

	rec, resp := f.do(t, "GET", "/api/dossiers/3", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CMD-003", dataMap(t, resp)["reference"])

	rec, _ = f.do(t, "GET", "/api/dossiers/99", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, "GET", "/api/dossiers/abc", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransitionDossier(t *testing.T) {
	tests := []struct {
		name    string
		status  domainwf.Status
		machine *domainwf.MachineType
		role    string
		body    string
		code    int
		reason  string
	}{
		{"allowed", domainwf.StatusPretImpression, machine(domainwf.MachineRoland), "imprimeur_roland", `{"to_status":"en_impression"}`, http.StatusOK, ""},
		{"raw label", domainwf.StatusPretImpression, machine(domainwf.MachineRoland), "imprimeur_roland", `{"to_status":"En impression"}`, http.StatusOK, ""},
		{"wrong machine", domainwf.StatusPretImpression, machine(domainwf.MachineXerox), "imprimeur_roland", `{"to_status":"en_impression"}`, http.StatusForbidden, "WRONG_MACHINE"},
		{"illegal", domainwf.StatusNouveau, nil, "livreur", `{"to_status":"livre"}`, http.StatusForbidden, "ILLEGAL_TRANSITION"},
		{"unknown target", domainwf.StatusEnCours, nil, "admin", `{"to_status":"zzz"}`, http.StatusUnprocessableEntity, "UNKNOWN_STATUS"},
		{"stale version", domainwf.StatusEnCours, nil, "admin", `{"to_status":"a_revoir","expected_version":7}`, http.StatusConflict, "CONFLICT"},
		{"missing body field", domainwf.StatusEnCours, nil, "admin", `{}`, http.StatusBadRequest, ""},
		{"missing actor", domainwf.StatusEnCours, nil, "", `{"to_status":"a_revoir"}`, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.seed(5, tt.status, tt.machine)

			rec, resp := f.do(t, "POST", "/api/dossiers/5/transitions", tt.role, tt.body)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.reason, resp.Reason)
			if tt.code == http.StatusOK {
				assert.True(t, resp.Success)
				assert.Equal(t, "en_impression", dataMap(t, resp)["to"])
			}
			if tt.reason != "" {
				assert.NotEmpty(t, resp.Error)
			}
		})
	}

	f := newFixture()
	rec, _ := f.do(t, "POST", "/api/dossiers/404/transitions", "admin", `{"to_status":"en_cours"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransitionDossier_PassesActorAndComment(t *testing.T) {
	f := newFixture()
	f.seed(5, domainwf.StatusEnCours, nil)

	_, _ = f.do(t, "POST", "/api/dossiers/5/transitions", "preparateur",
		`{"to_status":"a_revoir","from_status":"En cours","comment":"BAT refusé","metadata":{"source":"ui"}}`)

	require.Len(t, f.svc.transitions, 1)
	req := f.svc.transitions[0]
	assert.Equal(t, int64(5), req.DossierID)
	assert.Equal(t, domainwf.RolePreparateur, req.ActorRole)
	assert.Equal(t, "user-1", req.ActorID)
	assert.Equal(t, "En cours", req.FromStatus)
	assert.Equal(t, "BAT refusé", req.Comment)
	assert.Equal(t, "ui", req.Metadata["source"])
}

func TestDeleteDossier(t *testing.T) {
	f := newFixture()
	f.seed(1, domainwf.StatusNouveau, nil)
	f.seed(2, domainwf.StatusEnImpression, machine(domainwf.MachineRoland))

	rec, resp := f.do(t, "DELETE", "/api/dossiers/2", "preparateur", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotEmpty(t, resp.Reason)

	rec, resp = f.do(t, "DELETE", "/api/dossiers/1", "preparateur", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.NotContains(t, f.svc.dossiers, int64(1))

	rec, _ = f.do(t, "DELETE", "/api/dossiers/1", "preparateur", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAvailableTransitions(t *testing.T) {
	f := newFixture()
	f.seed(4, domainwf.StatusPretImpression, machine(domainwf.MachineXerox))

	rec, resp := f.do(t, "GET", "/api/dossiers/4/transitions?role=imprimeur_xerox", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, resp.Data, "en_impression")

	rec, resp = f.do(t, "GET", "/api/dossiers/4/transitions?role=imprimeur_roland", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{}, resp.Data)
}

func TestDossierHistory(t *testing.T) {
	f := newFixture()
	f.seed(6, domainwf.StatusEnCours, nil)
	f.svc.history[6] = []*entity.TransitionHistory{
		{ID: 1, DossierID: 6, ActorRole: domainwf.RolePreparateur, PreviousStatus: domainwf.StatusNouveau, NewStatus: domainwf.StatusEnCours},
	}

	rec, resp := f.do(t, "GET", "/api/dossiers/6/history", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, resp.Data, 1)

	rec, _ = f.do(t, "GET", "/api/dossiers/7/history", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportView(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(t, "GET", "/api/views/livreur/export?default=1", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "dossiers-livreur-")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
	assert.Equal(t, []domainwf.Role{domainwf.RoleLivreur}, f.exporter.roles)
	assert.True(t, f.svc.lastView.UseDefault)

	rec, _ = f.do(t, "GET", "/api/views/nobody/export", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEstimate(t *testing.T) {
	f := newFixture()

	rec, resp := f.do(t, "POST", "/api/estimates", "", `{"machine_type":"xerox","snapshot":{"quantite":"10"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 42.5, dataMap(t, resp)["value"])

	rec, resp = f.do(t, "POST", "/api/estimates", "", `{"machine_type":"offset","snapshot":{}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.False(t, resp.Success)

	rec, _ = f.do(t, "POST", "/api/estimates", "", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReasonStatus(t *testing.T) {
	tests := []struct {
		reason workflow.Reason
		code   int
	}{
		{workflow.ReasonIllegalTransition, http.StatusForbidden},
		{workflow.ReasonNotOwner, http.StatusForbidden},
		{workflow.ReasonWrongMachine, http.StatusForbidden},
		{workflow.ReasonUnknownStatus, http.StatusUnprocessableEntity},
		{workflow.ReasonConflict, http.StatusConflict},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, reasonStatus(tt.reason), tt.reason)
	}
}
