package guardrails

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metricgate/internal/domain"
)

func TestCompileFilters(t *testing.T) {
	cat := testCatalog(t)

	tests := []struct {
		name    string
		filters []domain.FilterClause
		want    string
		wantErr string
	}{
		{
			name: "equality",
			filters: []domain.FilterClause{
				{Dimension: "status", Operator: "=", Value: scalar("OPEN")},
			},
			want: "status = 'OPEN'",
		},
		{
			name: "conjunction",
			filters: []domain.FilterClause{
				{Dimension: "status", Operator: "!=", Value: scalar("CLOSED")},
				{Dimension: "ward", Operator: "=", Value: scalar("B")},
			},
			want: "status != 'CLOSED' AND ward = 'B'",
		},
		{
			name: "in_list",
			filters: []domain.FilterClause{
				{Dimension: "ward", Operator: "IN", Value: list("A", "B")},
			},
			want: "ward IN ('A', 'B')",
		},
		{
			name: "embedded_quote_doubled",
			filters: []domain.FilterClause{
				{Dimension: "ward", Operator: "=", Value: scalar("O'Brien")},
			},
			want: "ward = 'O''Brien'",
		},
		{
			name: "time_iso_date",
			filters: []domain.FilterClause{
				{Dimension: "created_date", Operator: ">=", Value: scalar("2024-06-01")},
			},
			want: "created_date >= '2024-06-01'",
		},
		{
			name: "numeric_rerendered",
			filters: []domain.FilterClause{
				{Dimension: "score", Operator: ">", Value: scalar(" 5.50 ")},
			},
			want: "score > 5.5",
		},
		{
			name: "semicolon_rejected",
			filters: []domain.FilterClause{
				{Dimension: "ward", Operator: "=", Value: scalar("A'; DROP TABLE x; --")},
			},
			wantErr: "unsafe filter value",
		},
		{
			name: "newline_rejected",
			filters: []domain.FilterClause{
				{Dimension: "ward", Operator: "=", Value: scalar("A\nB")},
			},
			wantErr: "unsafe filter value",
		},
		{
			name: "bad_time_rejected",
			filters: []domain.FilterClause{
				{Dimension: "created_date", Operator: ">", Value: scalar("yesterday")},
			},
			wantErr: "not an ISO date",
		},
		{
			name: "bad_numeric_rejected",
			filters: []domain.FilterClause{
				{Dimension: "score", Operator: "=", Value: scalar("high")},
			},
			wantErr: "is not a number",
		},
		{
			name: "empty_in_list_rejected",
			filters: []domain.FilterClause{
				{Dimension: "ward", Operator: "IN", Value: domain.FilterValue{IsList: true}},
			},
			wantErr: "IN requires a non-empty list",
		},
		{
			name: "unknown_dimension_rejected",
			filters: []domain.FilterClause{
				{Dimension: "secret_col", Operator: "=", Value: scalar("x")},
			},
			wantErr: "dimension not allowed: secret_col",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := CompileFilters(tt.filters, cat)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
		})
	}
}

func TestCompileFilters_Empty(t *testing.T) {
	cat := testCatalog(t)
	p, err := CompileFilters(nil, cat)
	require.NoError(t, err)
	assert.True(t, p.Empty())
	assert.Equal(t, "", p.String())
}

func TestQuoteString_RoundTrip(t *testing.T) {
	values := []string{
		"OPEN",
		"O'Brien",
		"''",
		"it's a 'test'",
		"",
		"with spaces and 100% signs",
	}
	for _, v := range values {
		q, err := QuoteString(v)
		require.NoError(t, err, v)
		back, err := UnquoteString(q)
		require.NoError(t, err, q)
		assert.Equal(t, v, back)
	}
}

func TestUnquoteString_Malformed(t *testing.T) {
	for _, q := range []string{"", "'", "abc", "'a'b'", "'lone ' quote'"} {
		_, err := UnquoteString(q)
		assert.Error(t, err, q)
	}
}
