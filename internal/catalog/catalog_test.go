package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metricgate/internal/domain"
)

func TestNew(t *testing.T) {
	cat, err := New([]domain.CatalogEntry{
		{Name: "complaints", Kind: domain.KindMetric},
		{Name: "ward", Kind: domain.KindDimension},
		{Name: "created_date", Kind: domain.KindDimension, SemanticType: domain.TypeTime},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, cat.Size())

	m, ok := cat.Metric("complaints")
	require.True(t, ok)
	assert.Equal(t, domain.MetricSimple, m.MetricType, "metric type defaults to simple")

	d, ok := cat.Dimension("ward")
	require.True(t, ok)
	assert.Equal(t, domain.TypeCategorical, d.SemanticType, "semantic type defaults to categorical")

	_, ok = cat.Metric("ward")
	assert.False(t, ok, "kinds are separate namespaces")
}

func TestNew_Rejections(t *testing.T) {
	_, err := New([]domain.CatalogEntry{{Name: "", Kind: domain.KindMetric}})
	assert.Error(t, err)

	_, err = New([]domain.CatalogEntry{{Name: "x", Kind: "table"}})
	assert.Error(t, err)
}

func TestNew_DuplicateKeepsFirst(t *testing.T) {
	cat, err := New([]domain.CatalogEntry{
		{Name: "ward", Kind: domain.KindDimension, Description: "first"},
		{Name: "ward", Kind: domain.KindDimension, Description: "second"},
	})
	require.NoError(t, err)

	d, _ := cat.Dimension("ward")
	assert.Equal(t, "first", d.Description)
	assert.Equal(t, 1, cat.Size())
}

func TestNamesSorted(t *testing.T) {
	cat, err := New([]domain.CatalogEntry{
		{Name: "b_metric", Kind: domain.KindMetric},
		{Name: "a_metric", Kind: domain.KindMetric},
		{Name: "z_dim", Kind: domain.KindDimension},
		{Name: "a_dim", Kind: domain.KindDimension},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a_metric", "b_metric"}, cat.MetricNames())
	assert.Equal(t, []string{"a_dim", "z_dim"}, cat.DimensionNames())

	entries := cat.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, "a_metric", entries[0].Name, "metrics first")
	assert.Equal(t, "a_dim", entries[2].Name)
}
