package stats

// window is one FieldStats time bucket: a running total and a per
// index-key set of joined-value->count maps (InfoLoggerDispatchStats.cxx
// Window/FieldStats).
type window struct {
	timeBegin int64 // inclusive, unix seconds
	timeEnd   int64 // exclusive, unix seconds

	totalMessages int64
	fieldCounts   []map[string]int64 // one entry per indexKeys entry
}

func newWindow(begin, end int64, numKeys int) *window {
	w := &window{
		timeBegin:   begin,
		timeEnd:     end,
		fieldCounts: make([]map[string]int64, numKeys),
	}
	for i := range w.fieldCounts {
		w.fieldCounts[i] = make(map[string]int64)
	}
	return w
}
