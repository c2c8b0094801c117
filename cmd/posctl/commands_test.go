package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dukapos/internal/config"
)

func memoryConfig() (config.Config, error) {
	return config.Config{
		DatabaseDriver: config.DriverMemory,
		CurrencyLabel:  "Ksh",
		LogLevel:       "error",
		LogFormat:      "console",
	}, nil
}

func execute(t *testing.T, load configLoader, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(load)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateMemory(t *testing.T) {
	out, err := execute(t, memoryConfig, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "no schema")
}

func TestMigrateSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "duka.db")
	load := func() (config.Config, error) {
		cfg, _ := memoryConfig()
		cfg.DatabaseDriver = config.DriverSQLite
		cfg.SQLitePath = path
		return cfg, nil
	}
	out, err := execute(t, load, "migrate")
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	assert.Contains(t, out, "schema ready (sqlite)")
}

func TestSeedImportsCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
products:
  - name: Maziwa Lala
    cost_price: 45
    selling_price: 60
    stock: 24
`), 0o600))

	out, err := execute(t, memoryConfig, "seed", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "created 1 products")
}

func TestSeedMissingFile(t *testing.T) {
	_, err := execute(t, memoryConfig, "seed", "--file", filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestRolesBootstrap(t *testing.T) {
	out, err := execute(t, memoryConfig, "roles", "bootstrap")
	require.NoError(t, err)
	assert.Contains(t, out, "SuperAdmin")
	assert.Contains(t, out, "SalesPerson")
}

func TestReportExportCSV(t *testing.T) {
	target := filepath.Join(t.TempDir(), "pl.csv")
	out, err := execute(t, memoryConfig, "report", "export", "--from", "2026-01-01", "--to", "2026-01-31", "--out", target)
	require.NoError(t, err)
	assert.Contains(t, out, "text/csv")

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "Date,Product,Qty"))
}

func TestReportExportPDF(t *testing.T) {
	target := filepath.Join(t.TempDir(), "pl.pdf")
	out, err := execute(t, memoryConfig, "report", "export", "--format", "pdf", "--out", target)
	require.NoError(t, err)
	assert.Contains(t, out, "application/pdf")

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF-"))
}

func TestReportExportRejectsBadFlags(t *testing.T) {
	_, err := execute(t, memoryConfig, "report", "export", "--from", "01/02/2026")
	assert.Error(t, err)

	_, err = execute(t, memoryConfig, "report", "export", "--format", "xlsx", "--out", filepath.Join(t.TempDir(), "x"))
	assert.Error(t, err)

	_, err = execute(t, memoryConfig, "report", "export", "--from", "2026-02-01", "--to", "2026-01-01", "--out", filepath.Join(t.TempDir(), "x"))
	assert.Error(t, err)
}
