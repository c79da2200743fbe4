// Package sqlxrepos implements the domain repositories on top of PostgreSQL
// via sqlx.
package sqlxrepos

import (
	"strings"

	"github.com/iteamsociety/iteam/core"
)

// orderClause renders an ORDER BY clause from the requested ordering,
// falling back to def when none is given.
func orderClause(ordering []core.DBOrdering, def string) string {
	if len(ordering) == 0 {
		if def == "" {
			return ""
		}
		return " ORDER BY " + def
	}
	orderList := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		orderList = append(orderList, ord.String())
	}
	return " ORDER BY " + strings.Join(orderList, ", ")
}
