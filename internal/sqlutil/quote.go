// Package sqlutil provides identifier quoting for generated MySQL/TiDB SQL.
package sqlutil

import "strings"

// QuoteIdentifier quotes a table, column or role name with backticks,
// doubling any backtick inside the name.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QuoteIdentifiers quotes each name.
func QuoteIdentifiers(names ...string) []string {
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = QuoteIdentifier(name)
	}
	return out
}

// QualifiedName quotes the non-empty parts and joins them with dots, so
// QualifiedName("", "cars") is `cars` and QualifiedName("shop", "cars") is
// `shop`.`cars`.
func QualifiedName(parts ...string) string {
	quoted := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			quoted = append(quoted, QuoteIdentifier(part))
		}
	}
	return strings.Join(quoted, ".")
}
