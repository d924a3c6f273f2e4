package fifo

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// fileTag is the original implementation's FIFO_FILE_TAG: a static magic
// value stamped on the main header and every record sub-header.
const fileTag uint32 = 1234

const mainHeaderSize = 4 + 8 + 8  // Magic, LastAckID, CurrentID
const subHeaderSize = 4 + 8 + 8 + 8 // Magic, Size, ID, Checksum

// mainHeader is the fixed-size record at offset 0 of a .fifo file.
type mainHeader struct {
	Magic     uint32
	LastAckID uint64
	CurrentID uint64
}

func readMainHeader(r io.Reader) (mainHeader, error) {
	var h mainHeader
	buf := make([]byte, mainHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return h, err
	}
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.LastAckID = binary.LittleEndian.Uint64(buf[4:12])
	h.CurrentID = binary.LittleEndian.Uint64(buf[12:20])
	if h.Magic != fileTag {
		return h, fmt.Errorf("fifo: bad main header magic %#x, want %#x", h.Magic, fileTag)
	}
	return h, nil
}

func writeMainHeader(w io.Writer, h mainHeader) error {
	buf := make([]byte, mainHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], fileTag)
	binary.LittleEndian.PutUint64(buf[4:12], h.LastAckID)
	binary.LittleEndian.PutUint64(buf[12:20], h.CurrentID)
	_, err := w.Write(buf)
	return err
}

// subHeader precedes each record's payload on disk.
type subHeader struct {
	Magic    uint32
	Size     uint64
	ID       uint64
	Checksum uint64
}

func readSubHeader(r io.Reader) (subHeader, error) {
	var h subHeader
	buf := make([]byte, subHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return h, err
	}
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Size = binary.LittleEndian.Uint64(buf[4:12])
	h.ID = binary.LittleEndian.Uint64(buf[12:20])
	h.Checksum = binary.LittleEndian.Uint64(buf[20:28])
	if h.Magic != fileTag {
		return h, fmt.Errorf("fifo: bad record sub-header magic %#x, want %#x", h.Magic, fileTag)
	}
	return h, nil
}

func writeRecord(w io.Writer, id uint64, payload []byte) error {
	buf := make([]byte, subHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], fileTag)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(len(payload)))
	binary.LittleEndian.PutUint64(buf[12:20], id)
	binary.LittleEndian.PutUint64(buf[20:28], xxhash.Sum64(payload))
	if _, err := w.Write(buf); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
