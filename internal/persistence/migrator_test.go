package persistence

import (
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqlFile(body string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(body)}
}

func TestMigrator_PlanPairsAndOrders(t *testing.T) {
	fsys := fstest.MapFS{
		"000002_projections.up.sql":   sqlFile("CREATE SCHEMA projections;"),
		"000002_projections.down.sql": sqlFile("DROP SCHEMA projections;"),
		"000001_event_log.down.sql":   sqlFile("DROP TABLE event_log;"),
		"000001_event_log.up.sql":     sqlFile("CREATE TABLE event_log ();"),
		"README.md":                   sqlFile("not a migration"),
	}

	plan, err := NewMigratorFS(nil, fsys, zerolog.Nop()).Plan()
	require.NoError(t, err)
	require.Len(t, plan, 2)

	assert.Equal(t, Migration{
		Version:  "000001",
		Name:     "event_log",
		UpFile:   "000001_event_log.up.sql",
		DownFile: "000001_event_log.down.sql",
	}, plan[0])
	assert.Equal(t, "000002", plan[1].Version)
	assert.Equal(t, "projections", plan[1].Name)
}

func TestMigrator_PlanRejectsBadSources(t *testing.T) {
	tests := []struct {
		name string
		fsys fstest.MapFS
	}{
		{"missing down", fstest.MapFS{
			"000001_event_log.up.sql": sqlFile(""),
		}},
		{"missing up", fstest.MapFS{
			"000001_event_log.down.sql": sqlFile(""),
		}},
		{"no version separator", fstest.MapFS{
			"eventlog.up.sql":   sqlFile(""),
			"eventlog.down.sql": sqlFile(""),
		}},
		{"version reused", fstest.MapFS{
			"000001_event_log.up.sql":   sqlFile(""),
			"000001_event_log.down.sql": sqlFile(""),
			"000001_hats.up.sql":        sqlFile(""),
			"000001_hats.down.sql":      sqlFile(""),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMigratorFS(nil, tt.fsys, zerolog.Nop()).Plan()
			assert.Error(t, err)
		})
	}
}

func TestMigrator_ShippedMigrationsPlan(t *testing.T) {
	plan, err := NewMigrator(nil, "../../migrations", zerolog.Nop()).Plan()
	require.NoError(t, err)
	require.NotEmpty(t, plan)
	assert.Equal(t, "000001", plan[0].Version)
}

func TestCheckKnown(t *testing.T) {
	plan := []Migration{{Version: "000001"}, {Version: "000002"}}

	assert.NoError(t, checkKnown(plan, map[string]bool{"000001": true}))
	assert.NoError(t, checkKnown(plan, map[string]bool{}))

	err := checkKnown(plan, map[string]bool{"000001": true, "000003": true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "000003")
}
