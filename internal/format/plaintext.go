// Package format renders ticket metadata into the two textual attachment
// formats sent with notifications: a human-readable metadata dump and the
// RIS citation format. Both renderers are pure functions of the metadata.
package format

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.Und)

// Plaintext renders a nested mapping/list/string structure into an
// indented block. Indentation deepens with nesting; empty strings, lists
// and mappings produce no output at all.
func Plaintext(metadata map[string]any) string {
	var b strings.Builder
	writeValue(&b, metadata, 0)
	return b.String()
}

func writeValue(b *strings.Builder, value any, level int) {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			var child strings.Builder
			writeValue(&child, v[k], level+1)
			if child.Len() == 0 {
				continue
			}
			b.WriteString(strings.Repeat("-", level))
			b.WriteString(titleCaser.String(k))
			b.WriteString(":\n")
			b.WriteString(child.String())
		}
	case []any:
		for _, item := range v {
			writeValue(b, item, level+1)
		}
	case string:
		if v != "" {
			b.WriteString(strings.Repeat("-", level))
			b.WriteString(v)
			b.WriteString("\n")
		}
	}
}
