package kafka

import (
	"encoding/json"

	"infologger/pkg/record"
)

// recordToJSON marshals one default-protocol record into a flat
// field-name -> value JSON object, skipping fields left undefined.
func recordToJSON(r *record.Record) ([]byte, error) {
	m := make(map[string]any, len(record.DefaultFields))
	for i, f := range record.DefaultFields {
		v := r.Values[i]
		if v.Undefined {
			continue
		}
		switch f.Type {
		case record.TypeString:
			m[f.Name] = v.Str
		case record.TypeInt:
			m[f.Name] = v.Int
		case record.TypeDouble:
			m[f.Name] = v.Dbl
		}
	}
	return json.Marshal(m)
}
