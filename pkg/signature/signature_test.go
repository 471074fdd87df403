package signature

import (
	"bytes"
	"testing"
)

func TestSniff(t *testing.T) {
	pcm := []byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00\x01\x00\x02\x00")
	vorbis := []byte("RIFF\x24\x00\x00\x00WAVEfmt \x18\x00\x00\x00\xff\xff\x02\x00")

	tests := []struct {
		name string
		in   []byte
		want Kind
		ext  string
	}{
		{"riff", []byte{0x52, 0x49, 0x46, 0x46, 0, 0, 0, 0}, WEM, ".wem"},
		{"bank", []byte{0x42, 0x4B, 0x48, 0x44, 0x18, 0, 0, 0}, Bank, ".bnk"},
		{"package", []byte("AKPK...."), Package, ".pck"},
		{"two bytes", []byte{0x42, 0x4B}, Opaque, ".bin"},
		{"empty", nil, Opaque, ".bin"},
		{"unknown", []byte("OggS"), Opaque, ".bin"},
		{"obfuscated", []byte{0x44, 0x78, 0x29, 0x3A}, ObfuscatedA, ".chk"},
		{"obfuscated alt", []byte{0x3A, 0x92, 0x87, 0x44, 0}, ObfuscatedB, ".chk"},
		{"pcm wave", pcm, WAV, ".wav"},
		{"vorbis wave", vorbis, WEM, ".wem"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := append([]byte(nil), tt.in...)
			got := Sniff(tt.in)
			if got != tt.want {
				t.Errorf("Sniff: got %v, want %v", got, tt.want)
			}
			if got.Extension() != tt.ext {
				t.Errorf("Extension: got %s, want %s", got.Extension(), tt.ext)
			}
			if !bytes.Equal(orig, tt.in) {
				t.Errorf("Sniff modified its input")
			}
		})
	}
}

func TestKindPredicates(t *testing.T) {
	if !ObfuscatedA.IsObfuscated() || !ObfuscatedB.IsObfuscated() || Package.IsObfuscated() {
		t.Errorf("IsObfuscated misclassifies kinds")
	}
	if !WEM.IsAudio() || !WAV.IsAudio() || Bank.IsAudio() || Opaque.IsAudio() {
		t.Errorf("IsAudio misclassifies kinds")
	}
}
