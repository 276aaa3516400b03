package query

import (
	"strconv"
	"strings"
)

const indentUnit = "    "

// Item is one entry of a select list.
type Item struct {
	Expr string
	As   string
}

func (i Item) String() string {
	if i.As == "" {
		return i.Expr
	}
	return i.Expr + " AS " + i.As
}

// Join is one JOIN clause. Kind is "JOIN" or "LEFT JOIN".
type Join struct {
	Kind  string
	Table string
	Alias string
	On    []string
	Any   bool // OR the On terms instead of AND-ing them
}

// Select is a single SELECT statement. Where terms are AND-ed.
type Select struct {
	DistinctOn []string
	Items      []Item
	From       string
	Joins      []Join
	Where      []string
	OrderBy    []string
	Limit      int
}

// Columns returns the output names of the select list, skipping star items.
func (s *Select) Columns() []string {
	cols := make([]string, 0, len(s.Items))
	for _, it := range s.Items {
		switch {
		case it.As != "":
			cols = append(cols, it.As)
		case !strings.HasSuffix(it.Expr, "*"):
			cols = append(cols, it.Expr)
		}
	}
	return cols
}

// Item returns the select item named as.
func (s *Select) Item(as string) (Item, bool) {
	for _, it := range s.Items {
		if it.As == as || (it.As == "" && it.Expr == as) {
			return it, true
		}
	}
	return Item{}, false
}

func (s *Select) render(b *strings.Builder, indent string) {
	b.WriteString(indent)
	b.WriteString("SELECT")
	if len(s.DistinctOn) > 0 {
		b.WriteString(" DISTINCT ON (")
		b.WriteString(strings.Join(s.DistinctOn, ", "))
		b.WriteString(")")
	}
	b.WriteString("\n")
	for i, it := range s.Items {
		b.WriteString(indent + indentUnit)
		b.WriteString(it.String())
		if i < len(s.Items)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}

	b.WriteString(indent + "FROM " + s.From + "\n")
	for _, j := range s.Joins {
		b.WriteString(indent + j.Kind + " " + j.Table)
		if j.Alias != "" {
			b.WriteString(" " + j.Alias)
		}
		b.WriteString(" ON ")
		if !j.Any {
			b.WriteString(strings.Join(j.On, " AND "))
		} else {
			b.WriteString("(\n")
			for i, cond := range j.On {
				b.WriteString(indent + indentUnit)
				if i > 0 {
					b.WriteString("OR ")
				}
				b.WriteString("(" + cond + ")\n")
			}
			b.WriteString(indent + ")")
		}
		b.WriteString("\n")
	}

	for i, w := range s.Where {
		if i == 0 {
			b.WriteString(indent + "WHERE " + w + "\n")
		} else {
			b.WriteString(indent + "  AND " + w + "\n")
		}
	}
	if len(s.OrderBy) > 0 {
		b.WriteString(indent + "ORDER BY " + strings.Join(s.OrderBy, ", ") + "\n")
	}
	if s.Limit > 0 {
		b.WriteString(indent + "LIMIT " + strconv.Itoa(s.Limit) + "\n")
	}
}

// String renders s without a trailing newline or semicolon.
func (s *Select) String() string {
	var b strings.Builder
	s.render(&b, "")
	return strings.TrimRight(b.String(), "\n")
}

// CTE is a named common table expression. Multiple branches are combined
// with UNION ALL.
type CTE struct {
	Name     string
	Branches []*Select
}

// Query is a WITH chain followed by a main select.
type Query struct {
	CTEs []CTE
	Main *Select
}

// CTE returns the expression called name.
func (q *Query) CTE(name string) (CTE, bool) {
	for _, c := range q.CTEs {
		if c.Name == name {
			return c, true
		}
	}
	return CTE{}, false
}

// Names lists the CTE names in order.
func (q *Query) Names() []string {
	names := make([]string, len(q.CTEs))
	for i, c := range q.CTEs {
		names[i] = c.Name
	}
	return names
}

func (q *Query) String() string {
	var b strings.Builder
	if len(q.CTEs) > 0 {
		b.WriteString("WITH\n")
		for i, c := range q.CTEs {
			b.WriteString(c.Name + " AS (\n")
			for j, br := range c.Branches {
				if j > 0 {
					b.WriteString(indentUnit + "UNION ALL\n")
				}
				br.render(&b, indentUnit)
			}
			b.WriteString(")")
			if i < len(q.CTEs)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
	}
	q.Main.render(&b, "")
	return strings.TrimRight(b.String(), "\n")
}
