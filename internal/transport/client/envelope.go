package client

import (
	"encoding/binary"
	"fmt"
)

// envelope is what actually lives inside the client's persistent FIFO: a
// batch's framing identity plus its already-encoded payload. Keeping this
// local to the client package (rather than reusing record.Batch) means the
// FIFO never has to know how to serialize a *record.Record slice — it only
// ever stores/retrieves opaque bytes (pkg/fifo, §4.2).
type envelope struct {
	Source  string
	MinID   uint64
	MajID   uint64
	Payload []byte
}

func encodeEnvelope(e envelope) []byte {
	buf := make([]byte, 2+len(e.Source)+8+8+len(e.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(e.Source)))
	off := 2
	off += copy(buf[off:], e.Source)
	binary.LittleEndian.PutUint64(buf[off:off+8], e.MinID)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], e.MajID)
	off += 8
	copy(buf[off:], e.Payload)
	return buf
}

func decodeEnvelope(buf []byte) (envelope, error) {
	if len(buf) < 2 {
		return envelope{}, fmt.Errorf("client: envelope too short")
	}
	srcLen := int(binary.LittleEndian.Uint16(buf[0:2]))
	off := 2
	if len(buf) < off+srcLen+16 {
		return envelope{}, fmt.Errorf("client: envelope truncated")
	}
	src := string(buf[off : off+srcLen])
	off += srcLen
	minID := binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	majID := binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	payload := buf[off:]
	return envelope{Source: src, MinID: minID, MajID: majID, Payload: payload}, nil
}
