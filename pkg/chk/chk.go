// Package chk implements the keyed XOR stream used by obfuscated packages.
//
// Each little-endian 32-bit word is XORed with Key(counter), where counter
// starts at a caller-supplied seed and increments once per word. A trailing
// partial word is XORed with the low bytes of one more key.
package chk

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/user/wwisego/pkg/binreader"
	"github.com/user/wwisego/pkg/signature"
)

// ErrCipherMismatch is returned when a decrypted payload still does not look
// like any known container. The raw bytes are returned alongside it.
var ErrCipherMismatch = errors.New("cipher mismatch")

const (
	keyInit = 0x9C5A0B29
	keyMul  = 81861667

	// Bytes 0..11 (signature, header size, version) are not encrypted.
	headerPlain = 12
)

var akpk = [4]byte{'A', 'K', 'P', 'K'}

// Key derives the XOR key for one word from a 32-bit counter.
func Key(seed uint32) uint32 {
	k := uint32(keyInit)
	for i := 0; i < 4; i++ {
		k = (k ^ (seed >> (8 * i) & 0xFF)) * keyMul
	}
	return k
}

// XOR applies the stream to buf in place. It is its own inverse.
func XOR(buf []byte, seed uint32) {
	counter := seed
	n := len(buf) &^ 3
	for i := 0; i < n; i += 4 {
		w := binary.LittleEndian.Uint32(buf[i:])
		binary.LittleEndian.PutUint32(buf[i:], w^Key(counter))
		counter++
	}
	if n == len(buf) {
		return
	}
	var k [4]byte
	binary.LittleEndian.PutUint32(k[:], Key(counter))
	for i := n; i < len(buf); i++ {
		buf[i] ^= k[i-n]
	}
}

// Encrypt returns an encrypted copy of buf.
func Encrypt(buf []byte, seed uint32) []byte {
	out := append([]byte(nil), buf...)
	XOR(out, seed)
	return out
}

// Decrypt returns a decrypted copy of buf.
func Decrypt(buf []byte, seed uint32) []byte {
	return Encrypt(buf, seed)
}

// HeaderLen returns how many leading bytes of an obfuscated package make up
// its header, given at least its first 8 bytes.
func HeaderLen(b []byte) (int64, error) {
	if len(b) < 8 {
		return 0, errors.Wrap(binreader.ErrOutOfBounds, "obfuscated header shorter than 8 bytes")
	}
	if !signature.Sniff(b).IsObfuscated() {
		return 0, errors.Wrapf(binreader.ErrInvalidFormat, "signature % x is not an obfuscated package", b[:4])
	}
	return int64(binary.LittleEndian.Uint32(b[4:8])) + 8, nil
}

// DecryptHeader returns a copy of b with the package header decrypted and its
// signature and version patched to those of a plain AKPK package. b must hold
// at least the whole header; any bytes after it are copied unchanged.
func DecryptHeader(b []byte) ([]byte, error) {
	n, err := HeaderLen(b)
	if err != nil {
		return nil, err
	}
	if n < headerPlain || n > int64(len(b)) {
		return nil, errors.Wrapf(binreader.ErrOutOfBounds, "header of %d bytes in %d byte buffer", n, len(b))
	}
	seed := binary.LittleEndian.Uint32(b[4:8])
	out := append([]byte(nil), b...)
	XOR(out[headerPlain:n], seed)
	copy(out[0:4], akpk[:])
	binary.LittleEndian.PutUint32(out[8:12], 1)
	return out, nil
}

// DecryptAsset recovers one obfuscated asset keyed by its id. Bytes that
// already sniff as a known container are returned unchanged. If decryption
// does not produce a known container either, the raw bytes are returned with
// ErrCipherMismatch.
func DecryptAsset(b []byte, id uint64) ([]byte, error) {
	if signature.Sniff(b) != signature.Opaque {
		return b, nil
	}
	dec := Decrypt(b, uint32(id))
	if signature.Sniff(dec) != signature.Opaque {
		return dec, nil
	}
	return b, errors.Wrapf(ErrCipherMismatch, "asset %d", id)
}

// headerReader serves a decrypted header in front of the untouched body.
type headerReader struct {
	head []byte
	body io.ReaderAt
}

func (r *headerReader) ReadAt(p []byte, off int64) (int, error) {
	n := 0
	if off < int64(len(r.head)) {
		n = copy(p, r.head[off:])
		if n == len(p) {
			return n, nil
		}
	}
	m, err := r.body.ReadAt(p[n:], off+int64(n))
	return n + m, err
}

// NewReader returns a view of an obfuscated package in which the header is
// decrypted. The body is read from r on demand.
func NewReader(r io.ReaderAt, size int64) (io.ReaderAt, error) {
	var pre [8]byte
	if _, err := r.ReadAt(pre[:], 0); err != nil {
		return nil, errors.Wrap(binreader.ErrOutOfBounds, "obfuscated header shorter than 8 bytes")
	}
	n, err := HeaderLen(pre[:])
	if err != nil {
		return nil, err
	}
	if n < headerPlain || n > size {
		return nil, errors.Wrapf(binreader.ErrOutOfBounds, "header of %d bytes in %d byte file", n, size)
	}
	raw := make([]byte, n)
	if _, err := r.ReadAt(raw, 0); err != nil && !(err == io.EOF && n == size) {
		return nil, errors.Wrap(err, "read obfuscated header")
	}
	head, err := DecryptHeader(raw)
	if err != nil {
		return nil, err
	}
	return &headerReader{head: head, body: r}, nil
}
