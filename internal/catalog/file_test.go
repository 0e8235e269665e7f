package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metricgate/internal/domain"
)

func writeCatalogFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeCatalogFile(t, `
metrics:
  - name: complaints
  - name: resolution_rate
    metric_type: ratio
    numerator: resolved_count
    denominator: complaints
dimensions:
  - name: ward
    known_values: [A, B, C]
  - name: created_date
    semantic_type: time
`)

	cat, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cat.Size())

	rate, ok := cat.Metric("resolution_rate")
	require.True(t, ok)
	assert.Equal(t, domain.MetricRatio, rate.MetricType)
	assert.Equal(t, "resolved_count", rate.Numerator)
	assert.Equal(t, "complaints", rate.Denominator)

	ward, ok := cat.Dimension("ward")
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B", "C"}, ward.KnownValues)

	created, ok := cat.Dimension("created_date")
	require.True(t, ok)
	assert.Equal(t, domain.TypeTime, created.SemanticType)
}

func TestLoadFile_KindForcedBySection(t *testing.T) {
	// A stray kind in the file cannot move an entry across sections.
	path := writeCatalogFile(t, `
metrics:
  - name: complaints
    kind: dimension
dimensions:
  - name: ward
`)
	cat, err := LoadFile(path)
	require.NoError(t, err)

	_, ok := cat.Metric("complaints")
	assert.True(t, ok)
	_, ok = cat.Dimension("complaints")
	assert.False(t, ok)
}

func TestLoadFile_Errors(t *testing.T) {
	t.Run("missing_file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid_yaml", func(t *testing.T) {
		_, err := LoadFile(writeCatalogFile(t, "metrics: [unclosed"))
		assert.Error(t, err)
	})

	t.Run("empty_catalog", func(t *testing.T) {
		_, err := LoadFile(writeCatalogFile(t, "metrics: []\ndimensions: []\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "defines no metrics")
	})
}
