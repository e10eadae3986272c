// Package state implements the append-only, checksummed byte buffer that
// backs serialization of the index packages: a typed write cursor on the
// way out, a typed read cursor on the way back in, and a CRC32 integrity
// seal over the accumulated bytes.
//
// The byte order is fixed at little-endian; no padding is ever inserted
// between fields.
package state

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/therealutkarshpriyadarshi/nnindex/pkg/nnerrors"
)

// Buffer accumulates bytes on write and pops them from the front on read.
// A single Buffer is used for one direction at a time: either build it with
// Write*/Close, or hand it raw bytes via NewReader and drain it with Read*.
type Buffer struct {
	data     []byte
	pos      int
	checksum uint32
}

// NewWriter returns an empty buffer ready for Write* calls.
func NewWriter() *Buffer {
	return &Buffer{}
}

// NewReader wraps pre-existing bytes (the payload half of a Blob, i.e.
// everything except the trailing CRC32 the wire format appends) for
// Read*-style consumption from the front.
func NewReader(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int { return len(b.data) - b.pos }

// IsEmpty reports whether there is nothing left to read.
func (b *Buffer) IsEmpty() bool { return b.Remaining() == 0 }

// Bytes returns the accumulated payload (write mode) or the not-yet-consumed
// remainder (read mode).
func (b *Buffer) Bytes() []byte { return b.data[b.pos:] }

// Close computes a CRC32 (IEEE polynomial) over everything written so far
// and stamps the buffer's checksum. It does not
// mutate the accumulated bytes; callers that need the persisted wire format
// (payload followed by a literal trailing checksum) append it themselves —
// see vptree.Tree.Serialize.
func (b *Buffer) Close() uint32 {
	b.checksum = crc32.ChecksumIEEE(b.data)
	return b.checksum
}

// Checksum returns the value stamped by the last Close call.
func (b *Buffer) Checksum() uint32 { return b.checksum }

// IsValid recomputes the CRC32 over the accumulated bytes and compares it
// against the last-stamped checksum.
func (b *Buffer) IsValid() bool {
	return b.checksum == crc32.ChecksumIEEE(b.data)
}

// Validate checks a payload against an externally supplied checksum (the
// case after deserializing a Blob, where the checksum travels alongside the
// bytes rather than having been stamped locally).
func Validate(payload []byte, checksum uint32) bool {
	return crc32.ChecksumIEEE(payload) == checksum
}

func (b *Buffer) append(v any) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return nnerrors.Wrap(nnerrors.Corrupt, "encode value", err)
	}
	b.data = append(b.data, buf.Bytes()...)
	return nil
}

// WriteValue appends sizeof(T) bytes in little-endian order. T must be a
// fixed-size type (numeric scalar or array/struct of such).
func WriteValue[T any](b *Buffer, v T) error {
	return b.append(v)
}

// WriteBlob appends raw bytes verbatim.
func (b *Buffer) WriteBlob(p []byte) {
	b.data = append(b.data, p...)
}

// ReadValue pops sizeof(T) bytes from the front and decodes them as T.
func ReadValue[T any](b *Buffer) (T, error) {
	var v T
	sz := binary.Size(v)
	if sz <= 0 || b.Remaining() < sz {
		return v, nnerrors.New(nnerrors.Exhausted, "read past end of buffer")
	}
	r := bytes.NewReader(b.data[b.pos : b.pos+sz])
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return v, nnerrors.Wrap(nnerrors.Corrupt, "decode value", err)
	}
	b.pos += sz
	return v, nil
}

// ReadBlob pops n raw bytes from the front.
func (b *Buffer) ReadBlob(n int) ([]byte, error) {
	if b.Remaining() < n {
		return nil, nnerrors.New(nnerrors.Exhausted, "read past end of buffer")
	}
	out := make([]byte, n)
	copy(out, b.data[b.pos:b.pos+n])
	b.pos += n
	return out, nil
}

// WriteFlat appends a flat vector serializer frame:
// [uint64 totalCount][totalCount * T]. Unlike WriteNdarray, the count
// header is always written, even for an empty vector.
func WriteFlat[T any](b *Buffer, vec []T) error {
	if err := WriteValue(b, uint64(len(vec))); err != nil {
		return err
	}
	if len(vec) == 0 {
		return nil
	}
	return b.append(vec)
}

// ReadFlat reads back a frame written by WriteFlat.
func ReadFlat[T any](b *Buffer) ([]T, error) {
	total, err := ReadValue[uint64](b)
	if err != nil {
		return nil, err
	}
	out := make([]T, total)
	if total == 0 {
		return out, nil
	}
	sz := binary.Size(out)
	if sz <= 0 || b.Remaining() < sz {
		return nil, nnerrors.New(nnerrors.Exhausted, "read past end of buffer")
	}
	r := bytes.NewReader(b.data[b.pos : b.pos+sz])
	if err := binary.Read(r, binary.LittleEndian, out); err != nil {
		return nil, nnerrors.Wrap(nnerrors.Corrupt, "decode flat vector", err)
	}
	b.pos += sz
	return out, nil
}

// UserSerializer frames a vector into the buffer however the caller sees
// fit; UserDeserializer reads the same framing back.
type UserSerializer[T any] func(*Buffer, []T) error

// UserDeserializer is the read-side counterpart of UserSerializer.
type UserDeserializer[T any] func(*Buffer) ([]T, error)

// WriteUserVector delegates framing of vec to a caller-supplied serializer.
func WriteUserVector[T any](b *Buffer, vec []T, ser UserSerializer[T]) error {
	return ser(b, vec)
}

// ReadUserVector delegates to a caller-supplied deserializer. A deserializer
// that consumes more than the buffer holds surfaces as Exhausted from the
// underlying Read* calls; one that reports success while claiming bytes the
// buffer never held is reported as Corrupt.
func ReadUserVector[T any](b *Buffer, de UserDeserializer[T]) ([]T, error) {
	before := b.Remaining()
	vec, err := de(b)
	if err != nil {
		return nil, err
	}
	if b.Remaining() > before {
		return nil, nnerrors.New(nnerrors.Corrupt, "user deserializer reported a size inconsistent with the buffer")
	}
	return vec, nil
}

// WriteNdarray appends a fixed-dimension ndarray serializer frame:
// [uint64 totalCount][uint64 dimension][totalCount*dimension*T]. An empty
// input writes nothing at all, no header, no bytes.
func WriteNdarray[T any](b *Buffer, rows [][]T) error {
	if len(rows) == 0 {
		return nil
	}
	dim := len(rows[0])
	if err := WriteValue(b, uint64(len(rows))); err != nil {
		return err
	}
	if err := WriteValue(b, uint64(dim)); err != nil {
		return err
	}
	for _, row := range rows {
		if len(row) != dim {
			return nnerrors.New(nnerrors.Corrupt, "ragged ndarray row")
		}
		if err := b.append(row); err != nil {
			return err
		}
	}
	return nil
}

// ReadNdarray reads back a frame written by WriteNdarray. Since an empty
// ndarray wrote zero bytes, a reader that finds nothing left to consume
// returns a nil slice rather than attempting to read a header that was
// never written.
func ReadNdarray[T any](b *Buffer) ([][]T, error) {
	if b.IsEmpty() {
		return nil, nil
	}
	total, err := ReadValue[uint64](b)
	if err != nil {
		return nil, err
	}
	dim, err := ReadValue[uint64](b)
	if err != nil {
		return nil, err
	}
	rows := make([][]T, total)
	for i := range rows {
		row := make([]T, dim)
		if dim > 0 {
			sz := binary.Size(row)
			if sz <= 0 || b.Remaining() < sz {
				return nil, nnerrors.New(nnerrors.Exhausted, "read past end of buffer")
			}
			r := bytes.NewReader(b.data[b.pos : b.pos+sz])
			if err := binary.Read(r, binary.LittleEndian, row); err != nil {
				return nil, nnerrors.Wrap(nnerrors.Corrupt, "decode ndarray row", err)
			}
			b.pos += sz
		}
		rows[i] = row
	}
	return rows, nil
}
