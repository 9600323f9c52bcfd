package container

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/service"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
	"github.com/garyjia/printshop-workflow/pkg/database"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Database.Path = database.MemoryPath
	cfg.Relay.PollInterval = 20 * time.Millisecond
	return cfg
}

func startContainer(t *testing.T, cfg *Config) *Container {
	t.Helper()
	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() {
		if !c.closed.Load() {
			_ = c.Close()
		}
	})
	return c
}

func TestNewContainer_Validation(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewContainer(DefaultConfig(), nil)
	assert.Error(t, err)

	bad := DefaultConfig()
	bad.Database.Path = ""
	bad.Server.Port = 0
	_, err = NewContainer(bad, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
	assert.Contains(t, err.Error(), "server.port")
}

func TestContainer_StartWiresEverything(t *testing.T) {
	c := startContainer(t, testConfig())

	assert.True(t, c.Ready())
	assert.NotNil(t, c.Service())
	assert.NotNil(t, c.Engine())
	assert.NotNil(t, c.Estimator())
	assert.NotNil(t, c.Dispatcher())
	assert.NotNil(t, c.Repositories())
	assert.NotNil(t, c.Server())
	assert.NotNil(t, c.Metrics())
	assert.Equal(t, 1, c.Workers().GetWorkerCount())

	health := c.Health()
	assert.True(t, health.Overall)
	assert.True(t, health.Components["database"].Healthy)
	assert.True(t, health.Components["workers"].Healthy)

	assert.Error(t, c.Start(context.Background()), "second start")
}

func TestContainer_TransitionRelaysNotifications(t *testing.T) {
	c := startContainer(t, testConfig())
	ctx := context.Background()

	d, err := c.Service().Create(ctx, service.CreateDossierRequest{
		Reference: "CMD-001",
		ActorRole: domainwf.RolePreparateur,
		ActorID:   "prep-1",
	})
	require.NoError(t, err)

	outcome, err := c.Service().Transition(ctx, entity.TransitionRequest{
		DossierID: d.ID,
		ActorRole: domainwf.RolePreparateur,
		ActorID:   "prep-1",
		ToStatus:  domainwf.StatusEnCours.String(),
	})
	require.NoError(t, err)
	require.True(t, outcome.OK, outcome.Message)

	assert.Eventually(t, func() bool {
		rows, err := c.Repositories().Notification.GetByDossierID(ctx, d.ID)
		if err != nil || len(rows) == 0 {
			return false
		}
		for _, r := range rows {
			if r.Status != entity.NotificationStatusSent {
				return false
			}
		}
		return true
	}, 2*time.Second, 20*time.Millisecond)

	history, err := c.Service().History(ctx, d.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, history)
}

func TestContainer_HTTPRoutes(t *testing.T) {
	c := startContainer(t, testConfig())
	router := c.Server().Router()

	for _, path := range []string{"/health", "/metrics", "/api/statuses"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestContainer_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	c := startContainer(t, cfg)

	assert.Nil(t, c.Metrics())

	w := httptest.NewRecorder()
	c.Server().Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestContainer_StartFailureReleases(t *testing.T) {
	cfg := testConfig()
	cfg.Workflow.PolicyFile = "does-not-exist.yaml"

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)

	err = c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow")
	assert.False(t, c.Ready())
	assert.Nil(t, c.conn)
}

func TestContainer_Close(t *testing.T) {
	c, err := NewContainer(testConfig(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close(), "double close")
	assert.Error(t, c.Start(context.Background()), "start after close")
	assert.False(t, c.Health().Overall)
}
