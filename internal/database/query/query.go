// Package query builds parameterized WHERE/ORDER BY/LIMIT clauses for search endpoints.
//
// Column names only ever come from a per-entity allow list; user input is bound as arguments.
package query

import (
	"fmt"
	"strconv"
	"strings"

	apierr "github.com/victorgomez09/suivi/internal/auth"
)

type Operator string

const (
	OpEq   Operator = "eq"
	OpNe   Operator = "ne"
	OpLt   Operator = "lt"
	OpLte  Operator = "lte"
	OpGt   Operator = "gt"
	OpGte  Operator = "gte"
	OpLike Operator = "like"
)

var sqlOperators = map[Operator]string{
	OpEq:   "=",
	OpNe:   "<>",
	OpLt:   "<",
	OpLte:  "<=",
	OpGt:   ">",
	OpGte:  ">=",
	OpLike: "LIKE",
}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Filter is one {field, operator, value} condition of a search request.
type Filter struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
}

// ParseFilter reads the "field:op:value" form used in query strings. The value may contain ':'.
func ParseFilter(s string) (Filter, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" {
		return Filter{}, apierr.Validation("filter %q must be field:operator:value", s)
	}
	return Filter{Field: parts[0], Operator: Operator(parts[1]), Value: parts[2]}, nil
}

// Search is a parsed search request.
type Search struct {
	Filters []Filter
	Sort    string // field name, '-' prefix for descending
	Limit   int
	Offset  int
}

// Column describes one searchable field.
type Column struct {
	Name string
	// Int binds the value as an integer, rejecting non-numeric input.
	Int bool
}

// Builder holds the allow list for one entity.
type Builder struct {
	columns     map[string]Column
	defaultSort string
}

func NewBuilder(columns map[string]Column, defaultSort string) *Builder {
	return &Builder{columns: columns, defaultSort: defaultSort}
}

// Clause is the rendered SQL fragment with its bound arguments.
type Clause struct {
	Where string
	Args  []any
	Order string
	Limit int
	Off   int
}

// SQL renders "WHERE ... ORDER BY ... LIMIT ? OFFSET ?" and appends paging arguments.
func (c Clause) SQL() (string, []any) {
	var b strings.Builder
	if c.Where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(c.Where)
	}
	if c.Order != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(c.Order)
	}
	b.WriteString(" LIMIT ? OFFSET ?")

	args := make([]any, 0, len(c.Args)+2)
	args = append(args, c.Args...)
	args = append(args, c.Limit, c.Off)
	return b.String(), args
}

// Build validates the search against the allow list. scope conditions (already parameterized,
// e.g. visibility rules) are ANDed in front of the user filters.
func (b *Builder) Build(s Search, scope ...Condition) (Clause, error) {
	var (
		conds []string
		args  []any
	)

	for _, c := range scope {
		conds = append(conds, c.SQL)
		args = append(args, c.Args...)
	}

	for _, f := range s.Filters {
		col, ok := b.columns[f.Field]
		if !ok {
			return Clause{}, apierr.Validation("unknown filter field %q", f.Field)
		}
		op, ok := sqlOperators[f.Operator]
		if !ok {
			return Clause{}, apierr.Validation("unknown filter operator %q", f.Operator)
		}

		var value any = f.Value
		if col.Int {
			if f.Operator == OpLike {
				return Clause{}, apierr.Validation("operator like is not allowed on %q", f.Field)
			}
			n, err := strconv.ParseInt(f.Value, 10, 64)
			if err != nil {
				return Clause{}, apierr.Validation("filter %q expects a number", f.Field)
			}
			value = n
		} else if f.Operator == OpLike {
			value = "%" + escapeLike(f.Value) + "%"
			conds = append(conds, fmt.Sprintf("%s LIKE ? ESCAPE '\\'", col.Name))
			args = append(args, value)
			continue
		}

		conds = append(conds, fmt.Sprintf("%s %s ?", col.Name, op))
		args = append(args, value)
	}

	order, err := b.order(s.Sort)
	if err != nil {
		return Clause{}, err
	}

	limit := s.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset := s.Offset
	if offset < 0 {
		offset = 0
	}

	return Clause{
		Where: strings.Join(conds, " AND "),
		Args:  args,
		Order: order,
		Limit: limit,
		Off:   offset,
	}, nil
}

func (b *Builder) order(sort string) (string, error) {
	if sort == "" {
		sort = b.defaultSort
	}
	if sort == "" {
		return "", nil
	}

	dir := "ASC"
	field := sort
	if strings.HasPrefix(sort, "-") {
		dir = "DESC"
		field = sort[1:]
	}
	col, ok := b.columns[field]
	if !ok {
		return "", apierr.Validation("unknown sort field %q", field)
	}
	return col.Name + " " + dir, nil
}

// Condition is a pre-built, parameterized condition used for scoping.
type Condition struct {
	SQL  string
	Args []any
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
