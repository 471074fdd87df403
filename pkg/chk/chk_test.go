package chk

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/user/wwisego/pkg/binreader"
	"github.com/user/wwisego/pkg/signature"
)

func TestKey(t *testing.T) {
	tests := []struct {
		seed, want uint32
	}{
		{0, 0x08CF1979},
		{1, 0x85A663A8},
		{0x100, 0x03B17DFE},
		{100, 0x7A88AADD},
		{0xDEADBEEF, 0x80EA436F},
	}
	for _, tt := range tests {
		if got := Key(tt.seed); got != tt.want {
			t.Errorf("Key(%#x) = %#08x, want %#08x", tt.seed, got, tt.want)
		}
	}
}

func TestXORKnownVector(t *testing.T) {
	buf := make([]byte, 6)
	XOR(buf, 7)
	if got := hex.EncodeToString(buf); got != "8ea69a98f16a" {
		t.Errorf("XOR of zeros with seed 7: got %s", got)
	}
}

func TestRoundTrip(t *testing.T) {
	lengths := []int{0, 1, 2, 3, 4}
	for k := 1; k <= 3; k++ {
		for r := 0; r < 4; r++ {
			lengths = append(lengths, 4*k+r)
		}
	}
	for _, n := range lengths {
		for _, seed := range []uint32{0, 12, 0xFFFFFFFE} {
			buf := make([]byte, n)
			for i := range buf {
				buf[i] = byte(i*31 + 7)
			}
			enc := Encrypt(buf, seed)
			if n >= 4 && bytes.Equal(enc, buf) {
				t.Errorf("len %d seed %d: Encrypt left buffer unchanged", n, seed)
			}
			if dec := Decrypt(enc, seed); !bytes.Equal(dec, buf) {
				t.Errorf("len %d seed %d: round trip mismatch", n, seed)
			}
		}
	}
}

// plainPackage returns a minimal AKPK with an empty language map and tables,
// followed by a body that must not be touched by header decryption.
func plainPackage() []byte {
	var b bytes.Buffer
	b.WriteString("AKPK")
	for _, v := range []uint32{36, 1, 4, 4, 4, 4, 0, 0, 0, 0} {
		binary.Write(&b, binary.LittleEndian, v)
	}
	b.WriteString("BODYBODY")
	return b.Bytes()
}

func obfuscate(plain []byte) []byte {
	out := append([]byte(nil), plain...)
	hs := binary.LittleEndian.Uint32(out[4:8])
	XOR(out[12:hs+8], hs)
	binary.BigEndian.PutUint32(out[0:4], signature.MagicCHKA)
	binary.LittleEndian.PutUint32(out[8:12], 0xCAFEBABE)
	return out
}

func TestDecryptHeader(t *testing.T) {
	plain := plainPackage()
	enc := obfuscate(plain)
	if signature.Sniff(enc) != signature.ObfuscatedA {
		t.Fatalf("Fixture should sniff as obfuscated")
	}
	dec, err := DecryptHeader(enc)
	if err != nil {
		t.Fatalf("DecryptHeader failed: %v", err)
	}
	if !bytes.Equal(dec, plain) {
		t.Errorf("DecryptHeader:\n got %x\nwant %x", dec, plain)
	}
	if signature.Sniff(enc) != signature.ObfuscatedA {
		t.Errorf("DecryptHeader modified its input")
	}
}

func TestDecryptHeaderErrors(t *testing.T) {
	if _, err := DecryptHeader(plainPackage()); !errors.Is(err, binreader.ErrInvalidFormat) {
		t.Errorf("Plain package: expected ErrInvalidFormat, got %v", err)
	}
	enc := obfuscate(plainPackage())
	if _, err := DecryptHeader(enc[:20]); !errors.Is(err, binreader.ErrOutOfBounds) {
		t.Errorf("Truncated header: expected ErrOutOfBounds, got %v", err)
	}
	if _, err := DecryptHeader(enc[:5]); !errors.Is(err, binreader.ErrOutOfBounds) {
		t.Errorf("Short buffer: expected ErrOutOfBounds, got %v", err)
	}
}

func TestNewReader(t *testing.T) {
	plain := plainPackage()
	enc := obfuscate(plain)
	r, err := NewReader(bytes.NewReader(enc), int64(len(enc)))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	got := make([]byte, len(enc))
	if _, err := r.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("Decrypted view mismatch:\n got %x\nwant %x", got, plain)
	}
	part := make([]byte, 6)
	if _, err := r.ReadAt(part, 42); err != nil || string(part) != "\x00\x00BODY" {
		t.Errorf("ReadAt spanning header and body: got %q, %v", part, err)
	}
}

func TestDecryptAsset(t *testing.T) {
	riff := []byte("RIFF\x10\x00\x00\x00WAVEfmt ")
	if out, err := DecryptAsset(riff, 5); err != nil || !bytes.Equal(out, riff) {
		t.Errorf("Plain asset should pass through, got %q, %v", out, err)
	}

	enc := Encrypt(riff, 1234)
	out, err := DecryptAsset(enc, 1234)
	if err != nil || !bytes.Equal(out, riff) {
		t.Errorf("Encrypted asset should decrypt, got %q, %v", out, err)
	}

	junk := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	out, err = DecryptAsset(junk, 0x42)
	if !errors.Is(err, ErrCipherMismatch) {
		t.Errorf("Expected ErrCipherMismatch, got %v", err)
	}
	if !bytes.Equal(out, junk) {
		t.Errorf("Mismatch should return raw bytes")
	}
}
