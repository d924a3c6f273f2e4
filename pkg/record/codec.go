package record

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeStatus reports how Encode disposed of a record.
type EncodeStatus int

const (
	// EncodeOK means the full record (all split lines, if any) fit.
	EncodeOK EncodeStatus = iota
	// EncodeTruncated means the buffer ran out mid-record; the output
	// ends with the " [...]\n" marker at the last complete line
	// boundary (§4.1, mirrors the original client's encoder).
	EncodeTruncated
	// EncodeFatal means the buffer cannot hold even the truncate marker;
	// nothing is written.
	EncodeFatal
)

const truncateMarker = " [...]\n"

// Encode writes r as one or more "*<version>#f0#f1#...#fN\n" lines into
// buf, splitting the record once per line found in the field named by
// splitField ("" disables splitting — the whole record becomes one line).
// It returns the number of bytes written and how the write went.
//
// This mirrors infoLog_msg_encode: '*', '#' and '\n' inside string field
// values are replaced with '?' so they never corrupt framing, and when a
// line-split field's value contains embedded newlines, the record is
// repeated once per line with every other field's value unchanged.
func Encode(r *Record, buf []byte, splitField string) (int, EncodeStatus) {
	splitIdx := -1
	if splitField != "" {
		idx, ok := findFieldIn(r.Protocol, splitField)
		if !ok || r.Protocol.Fields[idx].Type != TypeString {
			return 0, EncodeFatal
		}
		splitIdx = idx
	}

	var remaining string
	hasRemaining := false
	if splitIdx >= 0 && !r.Values[splitIdx].Undefined {
		remaining = r.Values[splitIdx].Str
		hasRemaining = true
	}

	n := 0
	lastGoodEnd := -1
	for {
		var line string
		more := false
		if hasRemaining {
			if nl := strings.IndexByte(remaining, '\n'); nl >= 0 {
				line = remaining[:nl]
				remaining = remaining[nl+1:]
				more = true
			} else {
				line = remaining
			}
		}

		recStart := n
		ok, lineN := encodeOneLine(r, buf[n:], splitIdx, line)
		if !ok {
			// Not enough room for this record at all.
			if lastGoodEnd >= 0 {
				return truncateAt(buf, lastGoodEnd), EncodeTruncated
			}
			// Try to fit just the truncate marker after whatever
			// partial bytes encodeOneLine may have left behind.
			if recStart+len(truncateMarker) <= len(buf) {
				return truncateAt(buf, recStart), EncodeTruncated
			}
			return 0, EncodeFatal
		}
		n += lineN

		if !more {
			return n, EncodeOK
		}
		lastGoodEnd = n
		// Leave room to either complete the next line or at least
		// append the truncate marker; otherwise stop here.
		if n+len(truncateMarker) > len(buf) {
			return truncateAt(buf, lastGoodEnd), EncodeTruncated
		}
	}
}

func truncateAt(buf []byte, at int) int {
	copy(buf[at:at+len(truncateMarker)], truncateMarker)
	return at + len(truncateMarker)
}

// encodeOneLine writes a single "*version#...#...\n" line. splitIdx, when
// >= 0, has its value replaced by line rather than the record's stored
// value (the per-line split in progress).
func encodeOneLine(r *Record, buf []byte, splitIdx int, line string) (bool, int) {
	var b strings.Builder
	b.Grow(64)
	b.WriteByte('*')
	b.WriteString(r.Protocol.Version)
	for i, f := range r.Protocol.Fields {
		b.WriteByte('#')
		v := r.Values[i]
		if i == splitIdx {
			v = Value{Str: line}
		}
		if v.Undefined {
			continue
		}
		switch f.Type {
		case TypeString:
			start := b.Len()
			b.WriteString(v.Str)
			escapeInPlace(&b, start)
		case TypeInt:
			fmt.Fprintf(&b, "%d", v.Int)
		case TypeDouble:
			fmt.Fprintf(&b, "%f", v.Dbl)
		}
	}
	b.WriteByte('\n')
	s := b.String()
	if len(s) > len(buf) {
		return false, 0
	}
	copy(buf, s)
	return true, len(s)
}

// escapeInPlace rewrites '*', '#' and '\n' to '?' within the portion of
// b's buffer written since start. strings.Builder exposes no in-place
// mutation, so this rebuilds the tail; fields are short, the cost is
// negligible compared to a syscall-backed write.
func escapeInPlace(b *strings.Builder, start int) {
	s := b.String()
	tail := s[start:]
	if !strings.ContainsAny(tail, "*#\n") {
		return
	}
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '*', '#', '\n':
			return '?'
		}
		return r
	}, tail)
	*b = strings.Builder{}
	b.Grow(len(s))
	b.WriteString(s[:start])
	b.WriteString(clean)
}

func findFieldIn(p *Protocol, name string) (int, bool) {
	for i, f := range p.Fields {
		if f.Name == name {
			return i, true
		}
	}
	return -1, false
}

// DecodeOne parses a single "*version#f0#...#fN\n" line (the trailing
// newline is optional) into a Record on its native protocol. Unlike the
// original C decoder this does not mutate the input; data is copied out
// field by field.
//
// Numeric fields (INT and DOUBLE alike) follow the legacy decode policy:
// a value parsed as <= 0 is treated as undefined, matching a quirk of the
// original encoder/decoder pair that client software has depended on for
// years. An empty string field is likewise left undefined rather than
// set to "".
func DecodeOne(line string) (*Record, error) {
	line = strings.TrimSuffix(line, "\n")
	if len(line) == 0 || line[0] != '*' {
		return nil, fmt.Errorf("record: missing '*' marker")
	}
	rest := line[1:]
	hashIdx := strings.IndexByte(rest, '#')
	if hashIdx < 0 {
		return nil, fmt.Errorf("record: missing protocol version terminator")
	}
	version := rest[:hashIdx]
	rest = rest[hashIdx+1:]

	proto := LookupProtocol(version)
	if proto == nil {
		return nil, fmt.Errorf("record: unknown protocol %q", version)
	}

	r := NewRecordForProtocol(proto)
	for i, f := range proto.Fields {
		last := i == len(proto.Fields)-1
		var field string
		if last {
			field = rest
		} else {
			idx := strings.IndexByte(rest, '#')
			if idx < 0 {
				return nil, fmt.Errorf("record: truncated at field %q", f.Name)
			}
			field = rest[:idx]
			rest = rest[idx+1:]
		}

		if field == "" {
			continue // stays undefined
		}
		switch f.Type {
		case TypeString:
			r.Values[i] = Value{Str: field}
		case TypeInt:
			n, err := strconv.ParseInt(field, 10, 64)
			if err != nil {
				continue // matches original: unparsable numeric -> undefined, not fatal
			}
			if n > 0 {
				r.Values[i] = Value{Int: n}
			}
		case TypeDouble:
			f64, err := strconv.ParseFloat(field, 64)
			if err != nil {
				continue
			}
			if f64 > 0 {
				r.Values[i] = Value{Dbl: f64}
			}
		}
	}

	return r.Convert(), nil
}

// DecodeBatch splits a framed blob (one or more newline-terminated
// records concatenated together, as delivered inside a single transport
// File block) into records, converting each to the default protocol. A
// record that fails to decode is skipped rather than aborting the whole
// batch, so one corrupt line never drops its neighbors.
func DecodeBatch(blob string) ([]*Record, []error) {
	var records []*Record
	var errs []error
	for _, line := range strings.Split(blob, "\n") {
		if line == "" {
			continue
		}
		r, err := DecodeOne(line)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, r)
	}
	return records, errs
}
