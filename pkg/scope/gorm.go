package scope

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/platinummonkey/warden/pkg/rbac"
)

// Gorm returns a gorm scope applying acl with the default columns
//
//	db.Scopes(scope.Gorm(acl)).Find(&orders)
func Gorm(acl *rbac.ACL) func(*gorm.DB) *gorm.DB {
	return defaultFilter.Gorm(acl)
}

// Gorm returns a gorm scope applying acl. A denied ACL is added to the
// statement's errors so the query never runs.
func (f *Filter) Gorm(acl *rbac.ACL) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		p, restricted, err := f.Predicate(acl)
		if err != nil {
			_ = db.AddError(err)
			return db
		}
		if !restricted {
			return db
		}

		col := clause.Column{Name: p.Column}
		if p.Op == OpIn {
			return db.Where(clause.IN{Column: col, Values: p.Values})
		}
		return db.Where(clause.Eq{Column: col, Value: p.Values[0]})
	}
}
