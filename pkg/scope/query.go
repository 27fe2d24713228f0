package scope

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/errs"
)

// Op is a comparison operator
type Op string

const (
	OpEq    Op = "="
	OpNotEq Op = "<>"
	OpLt    Op = "<"
	OpLte   Op = "<="
	OpGt    Op = ">"
	OpGte   Op = ">="
	OpLike  Op = "LIKE"
	OpIn    Op = "IN"
)

func (o Op) valid() bool {
	switch o {
	case OpEq, OpNotEq, OpLt, OpLte, OpGt, OpGte, OpLike, OpIn:
		return true
	}
	return false
}

// Predicate is one AND-combined condition of a query
type Predicate struct {
	Column string
	Op     Op
	Values []interface{}
}

// Eq returns column = value
func Eq(column string, value interface{}) Predicate {
	return Predicate{Column: column, Op: OpEq, Values: []interface{}{value}}
}

// In returns column IN (values...)
func In(column string, values ...interface{}) Predicate {
	return Predicate{Column: column, Op: OpIn, Values: values}
}

// Equal reports whether p and o restrict the same column the same way
func (p Predicate) Equal(o Predicate) bool {
	if p.Column != o.Column || p.Op != o.Op || len(p.Values) != len(o.Values) {
		return false
	}
	for i := range p.Values {
		if fmt.Sprint(p.Values[i]) != fmt.Sprint(o.Values[i]) {
			return false
		}
	}
	return true
}

// Query is a structured single-table read
type Query struct {
	Table   string
	Columns []string
	Where   []Predicate
	OrderBy []string
	Limit   int
	Offset  int
}

// Clone returns a deep copy of q
func (q *Query) Clone() *Query {
	c := *q
	c.Columns = append([]string(nil), q.Columns...)
	c.OrderBy = append([]string(nil), q.OrderBy...)
	c.Where = make([]Predicate, len(q.Where))
	for i, p := range q.Where {
		p.Values = append([]interface{}(nil), p.Values...)
		c.Where[i] = p
	}
	return &c
}

// Has reports whether q already carries p
func (q *Query) Has(p Predicate) bool {
	for _, w := range q.Where {
		if w.Equal(p) {
			return true
		}
	}
	return false
}

// And appends p unless an identical predicate is present
func (q *Query) And(p Predicate) *Query {
	if !q.Has(p) {
		q.Where = append(q.Where, p)
	}
	return q
}

var (
	identRe   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
	orderByRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?( (?i:ASC|DESC))?$`)
)

// Validate checks identifiers and operators. Values are always bound as
// parameters, identifiers never are.
func (q *Query) Validate() error {
	const op = "scope.Validate"
	if !identRe.MatchString(q.Table) {
		return errs.Validation(op, "invalid table %q", q.Table)
	}
	for _, c := range q.Columns {
		if c != "*" && !identRe.MatchString(c) {
			return errs.Validation(op, "invalid column %q", c)
		}
	}
	for _, p := range q.Where {
		if !identRe.MatchString(p.Column) {
			return errs.Validation(op, "invalid predicate column %q", p.Column)
		}
		if !p.Op.valid() {
			return errs.Validation(op, "invalid operator %q", p.Op)
		}
		if len(p.Values) == 0 || (p.Op != OpIn && len(p.Values) != 1) {
			return errs.Validation(op, "predicate on %s has %d values", p.Column, len(p.Values))
		}
	}
	for _, o := range q.OrderBy {
		if !orderByRe.MatchString(o) {
			return errs.Validation(op, "invalid order by %q", o)
		}
	}
	if q.Limit < 0 || q.Offset < 0 {
		return errs.Validation(op, "limit and offset must not be negative")
	}
	return nil
}

// ToSQL renders q with ? placeholders. storage.DB rebinds them for postgres.
func (q *Query) ToSQL() (string, []interface{}) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(q.selectList())
	b.WriteString(" FROM ")
	b.WriteString(q.Table)
	args := q.writeWhere(&b, true)
	q.writeTail(&b)
	return b.String(), args
}

// CountSQL renders the COUNT(*) of q under the same predicates
func (q *Query) CountSQL() (string, []interface{}) {
	var b strings.Builder
	b.WriteString("SELECT COUNT(*) FROM ")
	b.WriteString(q.Table)
	args := q.writeWhere(&b, true)
	return b.String(), args
}

// String renders q with literal values, for logs and debugging only
func (q *Query) String() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(q.selectList())
	b.WriteString(" FROM ")
	b.WriteString(q.Table)
	q.writeWhere(&b, false)
	q.writeTail(&b)
	return b.String()
}

func (q *Query) selectList() string {
	if len(q.Columns) == 0 {
		return "*"
	}
	return strings.Join(q.Columns, ", ")
}

func (q *Query) writeWhere(b *strings.Builder, bind bool) []interface{} {
	var args []interface{}
	for i, p := range q.Where {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(p.Column)
		b.WriteByte(' ')
		b.WriteString(string(p.Op))
		b.WriteByte(' ')

		if p.Op == OpIn {
			b.WriteByte('(')
		}
		for j, v := range p.Values {
			if j > 0 {
				b.WriteString(", ")
			}
			if bind {
				b.WriteByte('?')
				args = append(args, v)
			} else {
				b.WriteString(literal(v))
			}
		}
		if p.Op == OpIn {
			b.WriteByte(')')
		}
	}
	return args
}

func (q *Query) writeTail(b *strings.Builder) {
	if len(q.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(q.OrderBy, ", "))
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.Itoa(q.Offset))
	}
}

func literal(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(x)
	case time.Time:
		return "'" + x.UTC().Format(time.RFC3339Nano) + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprint(x), "'", "''") + "'"
	}
}
