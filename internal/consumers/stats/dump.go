package stats

import (
	"strconv"
	"strings"
)

// dumpTCL renders one window in the TCL-list-style publish format
// ("{timeBegin <t> timeEnd <t> totalMessages <n> fieldCounts {<key>
// {<value> <count> ...} ...}}"), carried over unchanged from the
// upstream dispatcher's wire format so existing subscribers keep working.
func (w *window) dumpTCL(keys []indexKey) string {
	var sb strings.Builder
	sb.WriteString("{timeBegin ")
	sb.WriteString(strconv.FormatInt(w.timeBegin, 10))
	sb.WriteString(" timeEnd ")
	sb.WriteString(strconv.FormatInt(w.timeEnd, 10))
	sb.WriteString(" totalMessages ")
	sb.WriteString(strconv.FormatInt(w.totalMessages, 10))
	sb.WriteString(" fieldCounts {")

	for i, k := range keys {
		counts := w.fieldCounts[i]
		if len(counts) == 0 {
			continue
		}
		sb.WriteString(k.name)
		sb.WriteString(" {")
		first := true
		for v, c := range counts {
			if !first {
				sb.WriteString(" ")
			}
			first = false
			sb.WriteString(v)
			sb.WriteString(" ")
			sb.WriteString(strconv.FormatInt(c, 10))
		}
		sb.WriteString("} ")
	}
	sb.WriteString("}}")
	return sb.String()
}
