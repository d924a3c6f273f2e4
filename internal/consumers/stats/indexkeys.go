package stats

import "infologger/pkg/record"

// indexKey is one combination of default-protocol fields tracked per
// window, resolved once at startup (InfoLoggerDispatchStats's
// ilgFieldsToIndex, built in its constructor via addCombination calls).
type indexKey struct {
	name    string // joined with "-", e.g. "run-hostname-severity-level"
	fields  []int  // indices into record.DefaultFields
}

// builtinIndexKeys is the fixed set of field combinations the aggregator
// tracks, in the exact order the upstream dispatcher registers them.
func builtinIndexKeys() []indexKey {
	combos := [][]string{
		{"severity"},
		{"level"},
		{"hostname"},
		{"rolename"},
		{"hostname", "pid"},
		{"system"},
		{"facility"},
		{"detector"},
		{"partition"},
		{"run"},
		{"run", "detector", "severity", "level"},
		{"run", "hostname", "severity", "level"},
		{"run", "hostname", "facility"},
		{"errcode"},
		{"errsource", "errline"},
		{"hostname", "pid", "errsource", "errline"},
	}

	keys := make([]indexKey, 0, len(combos))
	for _, names := range combos {
		fields := make([]int, 0, len(names))
		for _, n := range names {
			i, ok := record.FindField(n)
			if !ok {
				// An invalid index name is silently skipped, same as
				// addCombination returning early on infoLog_msg_findField < 0.
				fields = nil
				break
			}
			fields = append(fields, i)
		}
		if fields == nil {
			continue
		}
		name := names[0]
		for _, n := range names[1:] {
			name += "-" + n
		}
		keys = append(keys, indexKey{name: name, fields: fields})
	}
	return keys
}
