package trace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/danmuck/apibus/internal/registry"
	"github.com/danmuck/apibus/internal/wire"
)

// FileHeaderLen is the size of the binary trace file header.
const FileHeaderLen = 12

// maxTableBytes bounds the message table read from a trace file.
const maxTableBytes = 16 * 1024 * 1024

// FileHeader leads every binary trace file:
//
//	[0]    endian of the capturing process
//	[1]    wrapped flag
//	[2:4]  reserved
//	[4:8]  entry count, network order
//	[8:12] message table size, network order
type FileHeader struct {
	Endian    wire.Endian
	Wrapped   bool
	Count     uint32
	TableSize uint32
}

func (h FileHeader) encode() []byte {
	buf := make([]byte, FileHeaderLen)
	buf[0] = byte(h.Endian)
	if h.Wrapped {
		buf[1] = 1
	}
	binary.BigEndian.PutUint32(buf[4:8], h.Count)
	binary.BigEndian.PutUint32(buf[8:12], h.TableSize)
	return buf
}

func decodeFileHeader(b []byte) (FileHeader, error) {
	if len(b) != FileHeaderLen {
		return FileHeader{}, fmt.Errorf("%w: length %d", ErrBadHeader, len(b))
	}
	if b[0] > byte(wire.BigEndian) || b[1] > 1 {
		return FileHeader{}, fmt.Errorf("%w: endian=%d wrapped=%d", ErrBadHeader, b[0], b[1])
	}
	return FileHeader{
		Endian:    wire.Endian(b[0]),
		Wrapped:   b[1] == 1,
		Count:     binary.BigEndian.Uint32(b[4:8]),
		TableSize: binary.BigEndian.Uint32(b[8:12]),
	}, nil
}

// countingWriter tracks bytes written and turns short writes into errors.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) write(what string, b []byte) error {
	n, err := cw.w.Write(b)
	cw.n += int64(n)
	if err != nil {
		return fmt.Errorf("trace: write %s: %w", what, err)
	}
	if n != len(b) {
		return fmt.Errorf("%w: %s %d of %d bytes", ErrShortWrite, what, n, len(b))
	}
	return nil
}

// SaveBinary writes r as a binary trace file and returns the bytes
// written. Partial output is left for the caller to clean up.
func SaveBinary(w io.Writer, r *Ring, table []byte) (int64, error) {
	if r == nil || r.Cap() == 0 || r.Len() == 0 {
		return 0, ErrNoData
	}
	entries := r.Snapshot()
	cw := &countingWriter{w: w}
	h := FileHeader{
		Endian:    r.Endian(),
		Wrapped:   r.Wrapped(),
		Count:     uint32(len(entries)),
		TableSize: uint32(len(table)),
	}
	if err := cw.write("header", h.encode()); err != nil {
		return cw.n, err
	}
	if err := cw.write("message table", table); err != nil {
		return cw.n, err
	}
	for _, msg := range entries {
		var prefix [wire.LengthPrefixLen]byte
		binary.BigEndian.PutUint32(prefix[:], uint32(len(msg)))
		if err := cw.write("entry length", prefix[:]); err != nil {
			return cw.n, err
		}
		if err := cw.write("entry", msg); err != nil {
			return cw.n, err
		}
	}
	return cw.n, nil
}

// Save writes dir as a binary trace file carrying reg's message table.
func (s *Set) Save(dir Direction, w io.Writer, reg *registry.Registry) (int64, error) {
	if _, err := s.slot(dir); err != nil {
		return 0, err
	}
	r := s.Ring(dir)
	if r == nil {
		return 0, ErrNoData
	}
	return SaveBinary(w, r, reg.SerializeTable())
}

// File is a parsed binary trace file.
type File struct {
	Header  FileHeader
	Table   []registry.TableEntry
	Entries [][]byte
}

// Names maps the file's message ids to their name+CRC keys.
func (f *File) Names() map[uint16]string {
	out := make(map[uint16]string, len(f.Table))
	for _, e := range f.Table {
		out[e.ID] = e.Key
	}
	return out
}

// Ring rebuilds a disabled ring holding the file's entries, oldest
// first, so a loaded trace can go through SaveJSON and Traverse. The
// header's wrapped flag carries over.
func (f *File) Ring() *Ring {
	r := NewRing(len(f.Entries))
	r.endian = f.Header.Endian
	for _, msg := range f.Entries {
		_ = r.Append(msg)
	}
	r.wrapped = f.Header.Wrapped
	return r
}

// Load parses a binary trace file.
func Load(r io.Reader, limits wire.Limits) (*File, error) {
	head := make([]byte, FileHeaderLen)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	h, err := decodeFileHeader(head)
	if err != nil {
		return nil, err
	}
	if h.TableSize > maxTableBytes {
		return nil, fmt.Errorf("%w: message table of %d bytes", ErrBadHeader, h.TableSize)
	}
	tableBytes := make([]byte, h.TableSize)
	if _, err := io.ReadFull(r, tableBytes); err != nil {
		return nil, fmt.Errorf("trace: read message table: %w", wire.ErrTruncated)
	}
	table, err := registry.ParseTable(tableBytes)
	if err != nil {
		return nil, err
	}

	f := &File{Header: h, Table: table}
	for i := uint32(0); i < h.Count; i++ {
		msg, err := wire.ReadMsg(r, limits)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = wire.ErrTruncated
			}
			return nil, fmt.Errorf("trace: read entry %d of %d: %w", i, h.Count, err)
		}
		f.Entries = append(f.Entries, msg)
	}
	return f, nil
}

// LoadFile parses the binary trace file at path.
func LoadFile(path string) (*File, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("trace: open %s: %w", path, err)
	}
	defer fp.Close()
	return Load(fp, wire.DefaultLimits())
}
