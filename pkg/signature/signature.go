// Package signature classifies a buffer by its leading magic number.
package signature

import "encoding/binary"

// Kind is the container type detected from a buffer's first bytes.
type Kind int

const (
	Opaque Kind = iota
	Package
	Bank
	WEM
	WAV
	ObfuscatedA
	ObfuscatedB
)

// Magic values as read big-endian from the first 4 bytes.
const (
	MagicAKPK = 0x414B504B
	MagicBKHD = 0x424B4844
	MagicRIFF = 0x52494646
	MagicCHKA = 0x4478293A
	MagicCHKB = 0x3A928744
)

// Magic returns the first 4 bytes of b read big-endian.
func Magic(b []byte) (uint32, bool) {
	if len(b) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(b), true
}

// Sniff classifies b. It never modifies b.
func Sniff(b []byte) Kind {
	m, ok := Magic(b)
	if !ok {
		return Opaque
	}
	switch m {
	case MagicAKPK:
		return Package
	case MagicBKHD:
		return Bank
	case MagicRIFF:
		if isPCMWave(b) {
			return WAV
		}
		return WEM
	case MagicCHKA:
		return ObfuscatedA
	case MagicCHKB:
		return ObfuscatedB
	}
	return Opaque
}

// isPCMWave reports whether a RIFF buffer is a WAVE file whose first chunk
// is a fmt chunk declaring PCM or IEEE float samples.
func isPCMWave(b []byte) bool {
	if len(b) < 22 || string(b[8:12]) != "WAVE" || string(b[12:16]) != "fmt " {
		return false
	}
	switch binary.LittleEndian.Uint16(b[20:22]) {
	case 1, 3:
		return true
	}
	return false
}

func (k Kind) Extension() string {
	switch k {
	case Package:
		return ".pck"
	case Bank:
		return ".bnk"
	case WEM:
		return ".wem"
	case WAV:
		return ".wav"
	case ObfuscatedA, ObfuscatedB:
		return ".chk"
	}
	return ".bin"
}

func (k Kind) String() string {
	switch k {
	case Package:
		return "package"
	case Bank:
		return "bank"
	case WEM:
		return "wem"
	case WAV:
		return "wav"
	case ObfuscatedA:
		return "obfuscated"
	case ObfuscatedB:
		return "obfuscated-alt"
	}
	return "opaque"
}

// IsObfuscated reports whether k is one of the obfuscated package variants.
func (k Kind) IsObfuscated() bool {
	return k == ObfuscatedA || k == ObfuscatedB
}

// IsAudio reports whether k is an audio payload that can be handed to a transcoder.
func (k Kind) IsAudio() bool {
	return k == WEM || k == WAV
}
