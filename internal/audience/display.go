package audience

import (
	"time"

	"github.com/sumanism/ECA2/internal/segment"
	"github.com/sumanism/ECA2/internal/store"
)

// Columns always shown for a segment member.
const (
	ColumnName  = "name"
	ColumnEmail = "email"
)

const missingValue = "-"

var identityFields = map[string]struct{}{
	"first_name": {},
	"last_name":  {},
	"email":      {},
}

// displayColumn picks the first criteria field worth showing next to name
// and email.
func displayColumn(rs segment.RuleSet) string {
	for _, c := range rs.Criteria {
		if _, identity := identityFields[c.Field]; identity {
			continue
		}
		if segment.KnownField(c.Field) {
			return c.Field
		}
	}
	return ""
}

// Columns lists the displayed column names, at most three.
func (p Page) Columns() []string {
	cols := []string{ColumnName, ColumnEmail}
	if p.Column != "" {
		cols = append(cols, p.Column)
	}
	return cols
}

// Rows renders the page members with id, name, email and the display column.
func (p Page) Rows() []map[string]any {
	now := p.now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	rows := make([]map[string]any, 0, len(p.Users))
	for i := range p.Users {
		u := &p.Users[i]
		row := map[string]any{
			"id":        u.ID,
			ColumnName:  u.FullName(),
			ColumnEmail: u.Email,
		}
		if p.Column != "" {
			row[p.Column] = displayValue(u, p.Column, now)
		}
		rows = append(rows, row)
	}
	return rows
}

func displayValue(u *store.User, field string, now time.Time) any {
	if field == segment.FieldLastOrderDate && u.LastOrderDate == nil {
		return missingValue
	}
	v, ok := segment.Lookup(u, field, now)
	if !ok {
		return missingValue
	}
	if out := v.Interface(); out != nil {
		return out
	}
	return missingValue
}
