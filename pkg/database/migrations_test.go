package database

import (
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "test.db"), MaxOpenConns: 2, MaxIdleConns: 2}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrator_EmbeddedSchema(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db, zap.NewNop())

	applied, err := m.RunMigrations()
	require.NoError(t, err)
	assert.Equal(t, 3, applied)

	for _, table := range []string{"dossiers", "dossier_history", "notifications"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		assert.NoError(t, err, table)
	}

	// idempotent
	applied, err = m.RunMigrations()
	require.NoError(t, err)
	assert.Zero(t, applied)

	status, err := m.Status()
	require.NoError(t, err)
	require.Len(t, status, 3)
	assert.Equal(t, "create_dossiers", status[0].Name)
	for _, s := range status {
		assert.True(t, s.Applied)
	}
}

func TestMigrator_OrderAndErrors(t *testing.T) {
	tests := []struct {
		name    string
		files   fstest.MapFS
		wantErr bool
		applied int
	}{
		{
			name: "sorted by version not by name",
			files: fstest.MapFS{
				"10_second.sql": {Data: []byte("ALTER TABLE t ADD COLUMN b TEXT;")},
				"2_first.sql":   {Data: []byte("CREATE TABLE t (a TEXT);")},
				"README.md":     {Data: []byte("ignored")},
			},
			applied: 2,
		},
		{
			name:    "bad filename",
			files:   fstest.MapFS{"init.sql": {Data: []byte("SELECT 1;")}},
			wantErr: true,
		},
		{
			name: "duplicate version",
			files: fstest.MapFS{
				"1_a.sql":  {Data: []byte("SELECT 1;")},
				"01_b.sql": {Data: []byte("SELECT 1;")},
			},
			wantErr: true,
		},
		{
			name:    "broken sql",
			files:   fstest.MapFS{"1_broken.sql": {Data: []byte("CREATE TABLE (;")}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMigratorFS(openTestDB(t), tt.files, zap.NewNop())
			applied, err := m.RunMigrations()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.applied, applied)
		})
	}
}

func TestNew_InMemory(t *testing.T) {
	db, err := New(Config{Path: MemoryPath}, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	_, err = NewMigrator(db, zap.NewNop()).RunMigrations()
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM dossiers").Scan(&n))
	assert.Zero(t, n)
}
