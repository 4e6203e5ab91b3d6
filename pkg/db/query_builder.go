package db

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Statement builder used by the adapters.
//
// SECURITY WARNING:
// This builder does NOT escape or validate table names or column names.
// Identifiers come from entity maps, which validate them at build time.
// User input must ONLY be passed as values through Condition.Value or the
// values maps of inserts and updates, which are always parameterized.

// Operator represents SQL comparison operators
type Operator string

const (
	Equal              Operator = "="
	NotEqual           Operator = "!="
	GreaterThan        Operator = ">"
	GreaterThanOrEqual Operator = ">="
	LessThan           Operator = "<"
	LessThanOrEqual    Operator = "<="
	Like               Operator = "LIKE"
	NotLike            Operator = "NOT LIKE"
	In                 Operator = "IN"
	NotIn              Operator = "NOT IN"
	IsNull             Operator = "IS NULL"
	IsNotNull          Operator = "IS NOT NULL"
	Between            Operator = "BETWEEN"
	NotBetween         Operator = "NOT BETWEEN"
)

// LogicalOperator for combining conditions
type LogicalOperator string

const (
	And LogicalOperator = "AND"
	Or  LogicalOperator = "OR"
)

// Placeholder is the bind variable style of a dialect
type Placeholder int

const (
	Question Placeholder = iota // ? (mysql, sqlite)
	Dollar                      // $1, $2 (postgres)
)

// Condition represents a WHERE clause condition
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ConditionGroup represents grouped conditions with logical operators
type ConditionGroup struct {
	Conditions []any // Condition or nested *ConditionGroup
	Operator   LogicalOperator
}

// Where starts an AND group with one condition
func Where(field string, operator Operator, value any) *ConditionGroup {
	return (&ConditionGroup{Operator: And}).Where(field, operator, value)
}

// Eq matches rows whose field equals value; a nil value matches NULL
func Eq(field string, value any) *ConditionGroup {
	if value == nil {
		return IsNullGroup(field)
	}
	return Where(field, Equal, value)
}

// AnyOf matches rows whose field is one of values
func AnyOf[T any](field string, values []T) *ConditionGroup {
	return Where(field, In, values)
}

// IsNullGroup matches rows whose field is NULL
func IsNullGroup(field string) *ConditionGroup {
	return Where(field, IsNull, nil)
}

// AllOf combines groups with AND, skipping nil ones
func AllOf(groups ...*ConditionGroup) *ConditionGroup {
	out := &ConditionGroup{Operator: And}
	for _, g := range groups {
		switch {
		case g.IsEmpty():
		case g.Operator == And || g.Operator == "" || len(g.Conditions) == 1:
			out.Conditions = append(out.Conditions, g.Conditions...)
		default:
			out.Conditions = append(out.Conditions, g)
		}
	}
	return out
}

// Where adds a condition to the group
func (g *ConditionGroup) Where(field string, operator Operator, value any) *ConditionGroup {
	g.Conditions = append(g.Conditions, Condition{
		Field:    field,
		Operator: operator,
		Value:    value,
	})
	return g
}

// Group adds a nested condition group
func (g *ConditionGroup) Group(operator LogicalOperator, fn func(*ConditionGroup)) *ConditionGroup {
	group := &ConditionGroup{Operator: operator}
	fn(group)
	g.Conditions = append(g.Conditions, group)
	return g
}

// IsEmpty reports whether the group matches every row
func (g *ConditionGroup) IsEmpty() bool {
	return g == nil || len(g.Conditions) == 0
}

// Builder renders single-table statements
type Builder struct {
	table       string
	where       *ConditionGroup
	placeholder Placeholder
}

// NewBuilder creates a new statement builder.
// SECURITY: The table parameter must be a validated, trusted identifier.
func NewBuilder(table string) *Builder {
	return &Builder{
		table: table,
		where: &ConditionGroup{Operator: And},
	}
}

// Placeholder sets the bind variable style
func (b *Builder) Placeholder(p Placeholder) *Builder {
	b.placeholder = p
	return b
}

// WhereGroup appends a condition tree; nil or empty groups are ignored
func (b *Builder) WhereGroup(group *ConditionGroup) *Builder {
	switch {
	case group.IsEmpty():
	case b.where.Operator == And && (group.Operator == And || group.Operator == "" || len(group.Conditions) == 1):
		b.where.Conditions = append(b.where.Conditions, group.Conditions...)
	default:
		b.where.Conditions = append(b.where.Conditions, group)
	}
	return b
}

// BuildSelect builds a SELECT query
func (b *Builder) BuildSelect() (string, []any) {
	var query strings.Builder
	var args []any

	query.WriteString("SELECT * FROM ")
	query.WriteString(b.table)
	args = b.writeWhere(&query, args)
	return b.rebind(query.String()), args
}

func (b *Builder) writeWhere(query *strings.Builder, args []any) []any {
	whereSQL, whereArgs := buildConditionGroup(b.where)
	if whereSQL == "" {
		return args
	}
	query.WriteString(" WHERE ")
	query.WriteString(whereSQL)
	return append(args, whereArgs...)
}

// BuildInsert builds an INSERT statement. Columns are written in sorted order.
func (b *Builder) BuildInsert(values map[string]any) (string, []any) {
	columns := sortedColumns(values)
	args := make([]any, len(columns))
	placeholders := make([]string, len(columns))
	for i, col := range columns {
		placeholders[i] = "?"
		args[i] = values[col]
	}

	var query strings.Builder
	query.WriteString("INSERT INTO ")
	query.WriteString(b.table)
	query.WriteString(" (")
	query.WriteString(strings.Join(columns, ", "))
	query.WriteString(") VALUES (")
	query.WriteString(strings.Join(placeholders, ", "))
	query.WriteString(")")

	return b.rebind(query.String()), args
}

// BuildUpdate builds an UPDATE statement for the builder's conditions
func (b *Builder) BuildUpdate(values map[string]any) (string, []any) {
	columns := sortedColumns(values)
	args := make([]any, 0, len(columns))
	setClauses := make([]string, len(columns))
	for i, col := range columns {
		setClauses[i] = col + " = ?"
		args = append(args, values[col])
	}

	var query strings.Builder
	query.WriteString("UPDATE ")
	query.WriteString(b.table)
	query.WriteString(" SET ")
	query.WriteString(strings.Join(setClauses, ", "))
	args = b.writeWhere(&query, args)

	return b.rebind(query.String()), args
}

// BuildDelete builds a DELETE statement for the builder's conditions
func (b *Builder) BuildDelete() (string, []any) {
	var query strings.Builder
	query.WriteString("DELETE FROM ")
	query.WriteString(b.table)
	args := b.writeWhere(&query, nil)
	return b.rebind(query.String()), args
}

func sortedColumns(values map[string]any) []string {
	columns := make([]string, 0, len(values))
	for col := range values {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns
}

// rebind rewrites ? placeholders into the builder's style
func (b *Builder) rebind(query string) string {
	if b.placeholder != Dollar {
		return query
	}
	var out strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(n))
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}

// buildConditionGroup builds SQL for a condition group with proper logical operators
func buildConditionGroup(group *ConditionGroup) (string, []any) {
	if group.IsEmpty() {
		return "", nil
	}

	var conditions []string
	var args []any

	for _, item := range group.Conditions {
		switch cond := item.(type) {
		case Condition:
			condSQL, condArgs := buildCondition(cond)
			conditions = append(conditions, condSQL)
			args = append(args, condArgs...)
		case *ConditionGroup:
			if groupSQL, groupArgs := buildConditionGroup(cond); groupSQL != "" {
				conditions = append(conditions, "("+groupSQL+")")
				args = append(args, groupArgs...)
			}
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}

	operator := group.Operator
	if operator == "" {
		operator = And
	}
	return strings.Join(conditions, " "+string(operator)+" "), args
}

// buildCondition builds SQL for a single condition
func buildCondition(cond Condition) (string, []any) {
	switch cond.Operator {
	case IsNull, IsNotNull:
		return fmt.Sprintf("%s %s", cond.Field, cond.Operator), nil
	case In, NotIn:
		return buildInCondition(cond)
	case Between, NotBetween:
		return buildBetweenCondition(cond)
	default:
		return fmt.Sprintf("%s %s ?", cond.Field, cond.Operator), []any{cond.Value}
	}
}

// buildInCondition builds IN/NOT IN conditions with proper placeholder expansion
func buildInCondition(cond Condition) (string, []any) {
	if cond.Value == nil {
		if cond.Operator == In {
			return "1 = 0", nil
		}
		return "1 = 1", nil
	}

	v := reflect.ValueOf(cond.Value)
	if (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) || v.Type().Elem().Kind() == reflect.Uint8 {
		// Single value, treat as regular condition
		return fmt.Sprintf("%s %s (?)", cond.Field, cond.Operator), []any{cond.Value}
	}

	length := v.Len()
	if length == 0 {
		// Empty slice - return condition that never matches
		if cond.Operator == In {
			return "1 = 0", nil
		}
		return "1 = 1", nil
	}

	placeholders := make([]string, length)
	args := make([]any, length)
	for i := 0; i < length; i++ {
		placeholders[i] = "?"
		args[i] = v.Index(i).Interface()
	}

	sql := fmt.Sprintf("%s %s (%s)", cond.Field, cond.Operator, strings.Join(placeholders, ", "))
	return sql, args
}

// buildBetweenCondition builds BETWEEN/NOT BETWEEN conditions
func buildBetweenCondition(cond Condition) (string, []any) {
	if cond.Value == nil {
		return "1 = 0", nil
	}

	v := reflect.ValueOf(cond.Value)
	if (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) || v.Len() != 2 {
		// BETWEEN requires exactly 2 values
		return "1 = 0", nil
	}

	sql := fmt.Sprintf("%s %s ? AND ?", cond.Field, cond.Operator)
	return sql, []any{v.Index(0).Interface(), v.Index(1).Interface()}
}
