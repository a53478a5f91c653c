package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierr "github.com/victorgomez09/suivi/internal/auth"
)

func testBuilder() *Builder {
	return NewBuilder(map[string]Column{
		"status":      {Name: "r.status"},
		"author_id":   {Name: "r.author_id", Int: true},
		"report_date": {Name: "r.report_date"},
		"summary":     {Name: "r.summary"},
	}, "-report_date")
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("report_date:gte:2024-01-01T08:00")
	require.NoError(t, err)
	assert.Equal(t, Filter{Field: "report_date", Operator: OpGte, Value: "2024-01-01T08:00"}, f)

	_, err = ParseFilter("status")
	assert.True(t, errors.Is(err, apierr.ErrValidation))
}

func TestBuildBindsValues(t *testing.T) {
	c, err := testBuilder().Build(Search{
		Filters: []Filter{
			{Field: "status", Operator: OpEq, Value: "submitted' OR 1=1 --"},
			{Field: "author_id", Operator: OpNe, Value: "7"},
			{Field: "summary", Operator: OpLike, Value: "50%_done"},
		},
		Limit: 10,
	}, Condition{SQL: "r.deleted = ?", Args: []any{0}})
	require.NoError(t, err)

	sql, args := c.SQL()
	assert.Equal(t,
		` WHERE r.deleted = ? AND r.status = ? AND r.author_id <> ? AND r.summary LIKE ? ESCAPE '\' ORDER BY r.report_date DESC LIMIT ? OFFSET ?`,
		sql)
	assert.Equal(t, []any{0, "submitted' OR 1=1 --", int64(7), `%50\%\_done%`, 10, 0}, args)
}

func TestBuildRejectsUnknownInput(t *testing.T) {
	b := testBuilder()

	cases := []Search{
		{Filters: []Filter{{Field: "password_hash", Operator: OpEq, Value: "x"}}},
		{Filters: []Filter{{Field: "status", Operator: "; DROP", Value: "x"}}},
		{Filters: []Filter{{Field: "author_id", Operator: OpEq, Value: "abc"}}},
		{Filters: []Filter{{Field: "author_id", Operator: OpLike, Value: "1"}}},
		{Sort: "id; DROP TABLE identities"},
	}
	for _, s := range cases {
		_, err := b.Build(s)
		assert.True(t, errors.Is(err, apierr.ErrValidation), "%+v", s)
	}
}

func TestBuildClampsPaging(t *testing.T) {
	c, err := testBuilder().Build(Search{Limit: 10_000, Offset: -5, Sort: "status"})
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, c.Limit)
	assert.Equal(t, 0, c.Off)
	assert.Equal(t, "r.status ASC", c.Order)

	c, err = testBuilder().Build(Search{})
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, c.Limit)
	assert.Empty(t, c.Where)
}
