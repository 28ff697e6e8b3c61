package scope

import (
	"fmt"

	"gorm.io/gorm"
)

// Filter is the query restriction derived from a Scope.
//
// Deny means no row is visible. A nil ProvinceIDs with Deny false means rows
// are not restricted by province. A nil Columns means every column.
type Filter struct {
	Deny        bool
	ProvinceIDs []int
	Columns     []string
}

// Filter builds the query restriction for s. Restrictive scopes that cannot be
// resolved to at least one province deny everything.
func (t *Table) Filter(s Scope) Filter {
	switch v := s.(type) {
	case Central:
		return Filter{}
	case Province:
		return Filter{ProvinceIDs: []int{v.ProvinceID}}
	case Zone:
		ids := t.ProvincesOf(v.ZoneID)
		if len(ids) == 0 {
			return Filter{Deny: true}
		}
		return Filter{ProvinceIDs: ids}
	case External:
		cols := make([]string, len(t.ExternalColumns))
		copy(cols, t.ExternalColumns)
		return Filter{Columns: cols}
	case Unknown:
		return Filter{Deny: true}
	case nil:
		return Filter{Deny: true}
	default:
		panic(fmt.Sprintf("scope: unhandled scope %T", s))
	}
}

// Apply adds the row restriction to db. provinceColumn names the province id
// column of the queried table. Column restriction is left to the caller so
// that count queries can share the same scoped statement.
func (f Filter) Apply(db *gorm.DB, provinceColumn string) *gorm.DB {
	if f.Deny {
		return db.Where("1 = 0")
	}
	if f.ProvinceIDs != nil {
		return db.Where(provinceColumn+" IN ?", f.ProvinceIDs)
	}
	return db
}

// Restricted reports whether the filter narrows rows or columns.
func (f Filter) Restricted() bool {
	return f.Deny || f.ProvinceIDs != nil || f.Columns != nil
}
