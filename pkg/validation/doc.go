// Package validation checks request structs against their validate tags and
// converts failures into validation errors.
//
// Every package validates input the same way:
//
//	if err := validation.Struct("orgs.Create", req); err != nil {
//		return nil, err
//	}
//
// Besides the built-in validator tags, the "code" tag accepts identifiers made
// of letters, digits, '-', '_' and '.'. Organization codes use it because they
// are joined with '/' to build materialized paths.
package validation
