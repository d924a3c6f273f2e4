package dbinsert

import (
	"fmt"
	"strings"

	"infologger/pkg/record"
)

// CreateTableSQL returns the DDL for the default-protocol messages table.
// Called once at startup against each worker's DSN before Start.
func CreateTableSQL(table string) string {
	cols := make([]string, len(record.DefaultFields))
	for i, f := range record.DefaultFields {
		cols[i] = fmt.Sprintf("%s %s", f.Name, sqlType(f.Type))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(cols, ", "))
}

func sqlType(t record.FieldType) string {
	switch t {
	case record.TypeInt:
		return "INTEGER"
	case record.TypeDouble:
		return "REAL"
	default:
		return "TEXT"
	}
}
