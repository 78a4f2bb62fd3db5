package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soundmint.org/internal/migrate"
)

func TestRenderStatusTable(t *testing.T) {
	applied := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	out := renderTable(statusRows([]migrate.Record{
		{Name: "0001_ledger.up.sql", AppliedAt: applied},
		{Name: "0002_engine_snapshots.up.sql", AppliedAt: applied.Add(time.Hour)},
	}))

	lines := strings.Split(out, "\n")
	require.GreaterOrEqual(t, len(lines), 5)
	assert.Contains(t, out, "MIGRATION")
	assert.Contains(t, out, "0001_ledger.up.sql")
	assert.Contains(t, out, "2025-03-01T13:00:00Z")
}

func TestPruneRequiresPositiveKeep(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"prune-snapshots", "--keep", "0"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--keep")
}
