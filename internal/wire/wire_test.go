package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/apibus/internal/testutil/testlog"
)

func TestNewMessageCarriesNetworkOrderID(t *testing.T) {
	testlog.Start(t)
	b := NewMessage(0x0102, []byte{0xaa})
	if !bytes.Equal(b.Data, []byte{0x01, 0x02, 0xaa}) {
		t.Fatalf("unexpected encoding: %x", b.Data)
	}
	id, err := b.ID()
	if err != nil || id != 0x0102 {
		t.Fatalf("id=%d err=%v", id, err)
	}
	if b.DataLen != 3 || b.MaxLength() != 3 {
		t.Fatalf("unexpected length: %d", b.DataLen)
	}
}

func TestShortMessageHasNoID(t *testing.T) {
	testlog.Start(t)
	if _, err := NewBuffer([]byte{1}).ID(); !errors.Is(err, ErrShortMessage) {
		t.Fatalf("expected ErrShortMessage, got %v", err)
	}
	var nilBuf *Buffer
	if _, err := nilBuf.ID(); !errors.Is(err, ErrShortMessage) {
		t.Fatalf("expected ErrShortMessage for nil buffer, got %v", err)
	}
	if nilBuf.MaxLength() != ^uint32(0) {
		t.Fatalf("nil buffer must report maximum length")
	}
}

func TestBytesClampsDeclaredLength(t *testing.T) {
	testlog.Start(t)
	b := &Buffer{DataLen: 64, Data: []byte{0, 1, 2}}
	if len(b.Bytes()) != 3 {
		t.Fatalf("expected clamp to backing slice, got %d", len(b.Bytes()))
	}
	b.DataLen = 2
	if len(b.Bytes()) != 2 {
		t.Fatalf("expected declared length, got %d", len(b.Bytes()))
	}
	c := b.Clone()
	c[0] = 0xff
	if b.Data[0] == 0xff {
		t.Fatalf("clone aliases buffer")
	}
}

func TestReleaseOnce(t *testing.T) {
	testlog.Start(t)
	b := NewMessage(1, nil)
	HeapAllocator{}.Free(b)
	if !b.Released() {
		t.Fatalf("expected released buffer")
	}
	if b.Release() {
		t.Fatalf("second release must report false")
	}
}

func TestFixNetConvertsToHostOrder(t *testing.T) {
	testlog.Start(t)
	raw := make([]byte, 14)
	binary.BigEndian.PutUint16(raw[0:2], 0x1122)
	binary.BigEndian.PutUint32(raw[2:6], 0x33445566)
	binary.BigEndian.PutUint64(raw[6:14], 0x0102030405060708)

	if !FixNet16(raw[0:2]) || !FixNet32(raw[2:6]) || !FixNet64(raw[6:14]) {
		t.Fatalf("fix reported short slice")
	}
	if binary.NativeEndian.Uint16(raw[0:2]) != 0x1122 {
		t.Fatalf("u16 not in host order")
	}
	if binary.NativeEndian.Uint32(raw[2:6]) != 0x33445566 {
		t.Fatalf("u32 not in host order")
	}
	if binary.NativeEndian.Uint64(raw[6:14]) != 0x0102030405060708 {
		t.Fatalf("u64 not in host order")
	}
	if FixNet32(raw[:3]) {
		t.Fatalf("expected short slice to be refused")
	}
	if NetToHost32(HostToNet32(0xdeadbeef)) != 0xdeadbeef {
		t.Fatalf("byte order round trip failed")
	}
	if (HostEndian() == BigEndian) != HostIsBigEndian() {
		t.Fatalf("endian tag disagrees with host check")
	}
}

func TestStringRoundTrip(t *testing.T) {
	testlog.Start(t)
	body := make([]byte, 2+StringSize("memclnt"))
	n, err := PutString(body[2:], "memclnt")
	if err != nil || n != 11 {
		t.Fatalf("put string n=%d err=%v", n, err)
	}
	b := NewBuffer(body)
	got, err := CString(b, 2)
	if err != nil || got != "memclnt" {
		t.Fatalf("decode=%q err=%v", got, err)
	}
	if _, err := PutString(make([]byte, 3), "x"); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
	if !bytes.Equal(AppendString(nil, "ab"), []byte{0, 0, 0, 2, 'a', 'b'}) {
		t.Fatalf("append string mismatch")
	}
}

func TestStringRejectsOversizedDeclaredLength(t *testing.T) {
	testlog.Start(t)
	data := make([]byte, 16)
	binary.BigEndian.PutUint32(data[2:6], 1000)
	b := NewBuffer(data)

	got, err := String(b, 2)
	if !errors.Is(err, ErrInsaneLength) {
		t.Fatalf("expected ErrInsaneLength, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected nothing copied, got %d bytes", len(got))
	}
	if s := FormatString(b, 2); s != "insane string length 1000" {
		t.Fatalf("unexpected placeholder %q", s)
	}
}

func TestStringRejectsReadPastBuffer(t *testing.T) {
	testlog.Start(t)
	data := make([]byte, 10)
	binary.BigEndian.PutUint32(data[2:6], 8)
	// Declared length is under DataLen but the string would run past the end.
	_, err := String(NewBuffer(data), 2)
	if !errors.Is(err, ErrInsaneLength) {
		t.Fatalf("expected ErrInsaneLength, got %v", err)
	}
	if _, err := String(NewBuffer(data[:4]), 2); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestWriteReadMsgRoundTrip(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	msgs := [][]byte{{0, 1, 2}, {}, {0, 9}}
	for _, m := range msgs {
		if _, err := WriteMsg(&buf, m); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	for i, want := range msgs {
		got, err := ReadMsg(&buf, DefaultLimits())
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("msg %d mismatch: %x != %x", i, got, want)
		}
	}
	if _, err := ReadMsg(&buf, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadMsgMalformedIsDeterministic(t *testing.T) {
	testlog.Start(t)
	if _, err := ReadMsg(bytes.NewReader([]byte{0, 0}), DefaultLimits()); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated on short prefix, got %v", err)
	}
	if _, err := ReadMsg(bytes.NewReader([]byte{0, 0, 0, 5, 1}), DefaultLimits()); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated on short body, got %v", err)
	}
	_, err := ReadMsg(bytes.NewReader([]byte{0, 0, 1, 0}), Limits{MaxMessageBytes: 16})
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return len(p) - 1, nil
}

func TestWriteMsgShortWrite(t *testing.T) {
	testlog.Start(t)
	if _, err := WriteMsg(shortWriter{}, []byte{1, 2}); !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("expected io.ErrShortWrite, got %v", err)
	}
}
