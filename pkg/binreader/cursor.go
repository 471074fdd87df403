// Package binreader provides a positional little-endian reader used by the
// package and soundbank decoders.
package binreader

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
)

var (
	// ErrOutOfBounds is returned when a read would run past the end of the
	// underlying buffer. It is always fatal for the container being parsed.
	ErrOutOfBounds = errors.New("read out of bounds")
	// ErrInvalidFormat is returned when a required header signature does not match.
	ErrInvalidFormat = errors.New("invalid format")
)

// maxStringLen guards against unterminated strings in corrupt data.
const maxStringLen = 1 << 16

// Cursor is a seekable reader over a fixed-size source. All multi-byte values
// are little-endian. A Cursor is not safe for concurrent use; use Fork to get
// an independent cursor over the same source.
type Cursor struct {
	src  io.ReaderAt
	base int64 // absolute offset of position 0 within src
	size int64
	pos  int64
}

// New returns a cursor over an in-memory buffer.
func New(b []byte) *Cursor {
	return &Cursor{src: bytes.NewReader(b), size: int64(len(b))}
}

// NewReaderAt returns a cursor over size bytes of r, e.g. a memory-mapped file.
func NewReaderAt(r io.ReaderAt, size int64) *Cursor {
	return &Cursor{src: r, size: size}
}

func (c *Cursor) Pos() int64       { return c.pos }
func (c *Cursor) Len() int64       { return c.size }
func (c *Cursor) Remaining() int64 { return c.size - c.pos }

// Fork returns a new cursor over the same source, positioned where c is.
func (c *Cursor) Fork() *Cursor {
	f := *c
	return &f
}

// Slice returns a cursor restricted to n bytes starting at absolute position
// off of c. Reads through the slice cannot see bytes outside that window.
func (c *Cursor) Slice(off, n int64) (*Cursor, error) {
	if off < 0 || n < 0 || off+n > c.size {
		return nil, errors.Wrapf(ErrOutOfBounds, "slice [%d:%d] of %d bytes", off, off+n, c.size)
	}
	return &Cursor{src: c.src, base: c.base + off, size: n}, nil
}

// SeekTo moves to an absolute position. Seeking to Len() is allowed.
func (c *Cursor) SeekTo(pos int64) error {
	if pos < 0 || pos > c.size {
		return errors.Wrapf(ErrOutOfBounds, "seek to %d of %d bytes", pos, c.size)
	}
	c.pos = pos
	return nil
}

// Skip advances the position by n bytes.
func (c *Cursor) Skip(n int64) error {
	return c.SeekTo(c.pos + n)
}

// Align advances to the next multiple of n from the current position.
func (c *Cursor) Align(n int64) error {
	if n <= 1 {
		return nil
	}
	if m := c.pos % n; m != 0 {
		return c.Skip(n - m)
	}
	return nil
}

func (c *Cursor) readAt(p []byte, pos int64) error {
	if pos < 0 || pos+int64(len(p)) > c.size {
		return errors.Wrapf(ErrOutOfBounds, "read %d bytes at %d of %d", len(p), pos, c.size)
	}
	n, err := c.src.ReadAt(p, c.base+pos)
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return errors.Wrapf(ErrOutOfBounds, "read %d bytes at %d: %v", len(p), pos, err)
}

// Bytes reads n bytes and advances. The returned slice is a copy owned by the caller.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, errors.Wrapf(ErrOutOfBounds, "negative read length %d", n)
	}
	buf := make([]byte, n)
	if err := c.readAt(buf, c.pos); err != nil {
		return nil, err
	}
	c.pos += int64(n)
	return buf, nil
}

func (c *Cursor) fixed(n int) ([]byte, error) {
	var b [8]byte
	if err := c.readAt(b[:n], c.pos); err != nil {
		return nil, err
	}
	c.pos += int64(n)
	return b[:n], nil
}

func (c *Cursor) U8() (byte, error) {
	b, err := c.fixed(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *Cursor) Bool() (bool, error) {
	v, err := c.U8()
	return v != 0, err
}

func (c *Cursor) U16() (uint16, error) {
	b, err := c.fixed(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (c *Cursor) U32() (uint32, error) {
	b, err := c.fixed(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *Cursor) I32() (int32, error) {
	v, err := c.U32()
	return int32(v), err
}

func (c *Cursor) U64() (uint64, error) {
	b, err := c.fixed(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *Cursor) F32() (float32, error) {
	v, err := c.U32()
	return math.Float32frombits(v), err
}

// PeekU32 reads a uint32 without advancing.
func (c *Cursor) PeekU32() (uint32, error) {
	var b [4]byte
	if err := c.readAt(b[:], c.pos); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// CString reads a single-byte, null-terminated string. The terminator is consumed.
func (c *Cursor) CString() (string, error) {
	var out []byte
	for {
		b, err := c.U8()
		if err != nil {
			return "", errors.Wrap(err, "unterminated string")
		}
		if b == 0 {
			return string(out), nil
		}
		out = append(out, b)
		if len(out) > maxStringLen {
			return "", errors.Wrapf(ErrOutOfBounds, "string longer than %d bytes", maxStringLen)
		}
	}
}

// WCString reads a UTF-16LE, null-terminated string. The terminator is consumed.
func (c *Cursor) WCString() (string, error) {
	var raw []byte
	for {
		u, err := c.U16()
		if err != nil {
			return "", errors.Wrap(err, "unterminated wide string")
		}
		if u == 0 {
			break
		}
		raw = append(raw, byte(u), byte(u>>8))
		if len(raw) > 2*maxStringLen {
			return "", errors.Wrapf(ErrOutOfBounds, "wide string longer than %d chars", maxStringLen)
		}
	}
	s, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(raw)
	if err != nil {
		return "", errors.Wrap(err, "decode wide string")
	}
	return string(s), nil
}
