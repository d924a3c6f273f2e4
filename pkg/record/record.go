package record

// Value holds one field's content. Undefined is distinct from an empty
// string or a zero number: the field simply was not set (§3).
type Value struct {
	Undefined bool
	Str       string
	Int       int64
	Dbl       float64
}

// Record is a protocol reference plus one Value per field of that
// protocol. A record's Values always has len(Values) == len(Protocol.Fields).
type Record struct {
	Protocol *Protocol
	Values   []Value
}

// NewRecord allocates a record against the default protocol with every
// field undefined.
func NewRecord() *Record {
	return NewRecordForProtocol(Default)
}

// NewRecordForProtocol allocates a record against an explicit protocol,
// with every field starting Undefined (§3) until a Set* call or decode
// assigns it.
func NewRecordForProtocol(p *Protocol) *Record {
	values := make([]Value, len(p.Fields))
	for i := range values {
		values[i].Undefined = true
	}
	return &Record{
		Protocol: p,
		Values:   values,
	}
}

// Convert remaps a record encoded against a non-default protocol into the
// default protocol's field layout (§4.1: "every non-default-protocol
// record is re-mapped through its conversion table"). A record already on
// the default protocol is returned unchanged.
func (r *Record) Convert() *Record {
	if r.Protocol == Default {
		return r
	}
	out := NewRecord()
	for i, ci := range r.Protocol.ConvertIndex {
		if ci < 0 {
			continue
		}
		out.Values[ci] = r.Values[i]
	}
	return out
}

// Get returns the value at a default-protocol field index. The record
// must already be on the default protocol (call Convert first otherwise).
func (r *Record) Get(fieldIndex int) (Value, bool) {
	if fieldIndex < 0 || fieldIndex >= len(r.Values) {
		return Value{}, false
	}
	v := r.Values[fieldIndex]
	return v, !v.Undefined
}

// SetString assigns a field's string value and clears Undefined.
func (r *Record) SetString(fieldIndex int, s string) {
	r.Values[fieldIndex] = Value{Str: s}
}

// SetInt assigns a field's integer value and clears Undefined.
func (r *Record) SetInt(fieldIndex int, n int64) {
	r.Values[fieldIndex] = Value{Int: n}
}

// SetDouble assigns a field's double value and clears Undefined.
func (r *Record) SetDouble(fieldIndex int, f float64) {
	r.Values[fieldIndex] = Value{Dbl: f}
}

// BatchID identifies a transport-level batch by (source, major, minor);
// (major, minor) is a lexicographically increasing sequence per source
// connection (§3).
type BatchID struct {
	Source string
	Major  uint64
	Minor  uint64
}

// Less reports whether id sorts strictly before other within the same
// source (the ordering is undefined across different sources).
func (id BatchID) Less(other BatchID) bool {
	if id.Major != other.Major {
		return id.Major < other.Major
	}
	return id.Minor < other.Minor
}

// Batch is a transport unit: a sequence of records sharing one BatchID. It
// is created by the server-side decoder when framing completes and is
// shared by reference among dispatch consumers (§3) — no consumer may
// mutate a batch's Records after receiving it; the hub itself never does.
type Batch struct {
	ID      BatchID
	Records []*Record
}
