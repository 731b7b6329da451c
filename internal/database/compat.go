package database

import (
	"fmt"
	"strings"
)

// ConvertPlaceholders rewrites ? placeholders for the given driver.
// Queries are written with ? throughout; postgres gets $1, $2, ...,
// sqlite and mysql take ? as-is.
func ConvertPlaceholders(query, driver string) string {
	if driver != "postgres" || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	n := 1
	for _, c := range query {
		if c == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
