// Package bank decodes BKHD soundbanks: a fixed header followed by a stream
// of self-sized chunks.
package bank

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/mmap"

	"github.com/user/wwisego/pkg/binreader"
)

// ErrUnsupportedVariant marks a chunk whose payload did not match the reader
// for its signature. The chunk is skipped by size and decoding continues.
var ErrUnsupportedVariant = errors.New("unsupported variant")

// Header is the BKHD chunk.
type Header struct {
	Signature       uint32
	Size            uint32
	Version         uint32
	BankID          uint32
	LanguageID      uint32
	Alignment       uint16
	DeviceAllocated uint16
	ProjectID       uint32
}

// ChunkInfo records where a chunk sat in the file and whether it decoded.
type ChunkInfo struct {
	Signature uint32
	Offset    int64
	Size      uint32
	Err       error
}

// Bank is a decoded soundbank. At most one chunk of each recognised
// signature is kept; a repeated signature replaces the earlier one.
type Bank struct {
	Header Header
	Chunks []ChunkInfo

	chunks map[uint32]Chunk
	size   int64
	closer io.Closer
}

// Decode parses an in-memory soundbank.
func Decode(b []byte) (*Bank, error) {
	return decode(binreader.New(b))
}

// NewReader parses a soundbank of the given size read from r.
func NewReader(r io.ReaderAt, size int64) (*Bank, error) {
	return decode(binreader.NewReaderAt(r, size))
}

// Open memory-maps a .bnk file and parses it. The bank must be closed.
func Open(path string) (*Bank, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map bank %s", path)
	}
	b, err := NewReader(m, int64(m.Len()))
	if err != nil {
		m.Close()
		return nil, errors.Wrapf(err, "bank %s", path)
	}
	b.closer = m
	return b, nil
}

// Close releases the file mapping, if any. Asset reads fail afterwards.
func (b *Bank) Close() error {
	if b.closer == nil {
		return nil
	}
	err := b.closer.Close()
	b.closer = nil
	return err
}

func decode(c *binreader.Cursor) (*Bank, error) {
	b := &Bank{chunks: make(map[uint32]Chunk), size: c.Len()}
	if err := b.readHeader(c); err != nil {
		return nil, err
	}
	for c.Remaining() >= 8 {
		if err := b.readChunk(c); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Bank) readHeader(c *binreader.Cursor) error {
	h := &b.Header
	var err error
	if h.Signature, err = c.U32(); err != nil {
		return errors.Wrap(binreader.ErrInvalidFormat, "missing BKHD header")
	}
	if h.Signature != SigBKHD {
		return errors.Wrapf(binreader.ErrInvalidFormat, "bank signature 0x%08X is not BKHD", h.Signature)
	}
	if h.Size, err = c.U32(); err != nil {
		return err
	}
	body, err := c.Slice(c.Pos(), int64(h.Size))
	if err != nil {
		return errors.Wrap(err, "bank header")
	}
	// Older banks declare shorter headers; read only what is declared.
	for _, f := range []func() error{
		func() (err error) { h.Version, err = body.U32(); return },
		func() (err error) { h.BankID, err = body.U32(); return },
		func() (err error) { h.LanguageID, err = body.U32(); return },
		func() (err error) { h.Alignment, err = body.U16(); return },
		func() (err error) { h.DeviceAllocated, err = body.U16(); return },
		func() (err error) { h.ProjectID, err = body.U32(); return },
	} {
		if f() != nil {
			break
		}
	}
	return c.SeekTo(8 + int64(h.Size))
}

func (b *Bank) readChunk(c *binreader.Cursor) error {
	start := c.Pos()
	sig, err := c.U32()
	if err != nil {
		return err
	}
	size, err := c.U32()
	if err != nil {
		return err
	}
	resync := start + 8 + int64(size)
	body, err := c.Slice(start+8, int64(size))
	if err != nil {
		return errors.Wrapf(err, "chunk %s at %d declares %d bytes", ChunkName(sig), start, size)
	}

	info := ChunkInfo{Signature: sig, Offset: start, Size: size}
	if read, ok := registry[sig]; ok {
		chunk, err := read(body)
		if err != nil {
			info.Err = errors.Wrapf(ErrUnsupportedVariant, "chunk %s: %v", ChunkName(sig), err)
			log.Debug().Err(err).Str("chunk", ChunkName(sig)).Int64("offset", start).Msg("chunk payload not understood, skipping")
		} else {
			b.chunks[sig] = chunk
		}
	} else {
		log.Trace().Str("chunk", ChunkName(sig)).Uint32("size", size).Msg("skipping unknown chunk")
	}
	b.Chunks = append(b.Chunks, info)
	return c.SeekTo(resync)
}

// Chunk returns the decoded chunk with the given signature, or nil.
func (b *Bank) Chunk(sig uint32) Chunk { return b.chunks[sig] }

func (b *Bank) Init() *InitChunk {
	c, _ := b.chunks[SigINIT].(*InitChunk)
	return c
}

func (b *Bank) Platform() *PlatformChunk {
	c, _ := b.chunks[SigPLAT].(*PlatformChunk)
	return c
}

func (b *Bank) GlobalSettings() *GlobalSettingsChunk {
	c, _ := b.chunks[SigSTMG].(*GlobalSettingsChunk)
	return c
}

func (b *Bank) EnvSettings() *EnvSettingsChunk {
	c, _ := b.chunks[SigENVS].(*EnvSettingsChunk)
	return c
}

func (b *Bank) DataIndex() *DataIndexChunk {
	c, _ := b.chunks[SigDIDX].(*DataIndexChunk)
	return c
}

func (b *Bank) Data() *DataChunk {
	c, _ := b.chunks[SigDATA].(*DataChunk)
	return c
}

func (b *Bank) Hierarchy() *HircChunk {
	c, _ := b.chunks[SigHIRC].(*HircChunk)
	return c
}

// BankNames returns the STID string table, or nil when the bank has none.
func (b *Bank) BankNames() map[uint32]string {
	if c, ok := b.chunks[SigSTID].(*StringTableChunk); ok {
		return c.Names
	}
	return nil
}

// HasAssets reports whether the bank carries both DIDX and DATA.
func (b *Bank) HasAssets() bool {
	return b.DataIndex() != nil && b.Data() != nil
}

// Assets returns the DIDX entries in file order, or nil if the bank embeds no audio.
func (b *Bank) Assets() []DataIndexEntry {
	if !b.HasAssets() {
		return nil
	}
	return b.DataIndex().Entries
}

// AssetBytes returns the payload of one DIDX entry.
func (b *Bank) AssetBytes(e DataIndexEntry) ([]byte, error) {
	d := b.Data()
	if d == nil {
		return nil, errors.Errorf("bank %d has no DATA chunk", b.Header.BankID)
	}
	return d.GetFile(e)
}

// Summary renders a short human-readable description of the bank.
func (b *Bank) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Bank %d (version %d, language %d, project %d), %d bytes\n",
		b.Header.BankID, b.Header.Version, b.Header.LanguageID, b.Header.ProjectID, b.size)
	for _, ci := range b.Chunks {
		status := ""
		if ci.Err != nil {
			status = " (skipped)"
		}
		fmt.Fprintf(&sb, "  %s @%d, %d bytes%s\n", ChunkName(ci.Signature), ci.Offset, ci.Size, status)
	}
	if p := b.Platform(); p != nil {
		fmt.Fprintf(&sb, "Platform: %s\n", p.Platform)
	}
	if h := b.Hierarchy(); h != nil {
		counts := map[HircType]int{}
		for _, s := range h.Sections {
			counts[s.Type]++
		}
		types := make([]HircType, 0, len(counts))
		for t := range counts {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
		fmt.Fprintf(&sb, "Hierarchy: %d objects\n", len(h.Sections))
		for _, t := range types {
			fmt.Fprintf(&sb, "  %s: %d\n", t, counts[t])
		}
	}
	if names := b.BankNames(); len(names) > 0 {
		fmt.Fprintf(&sb, "Bank names: %d\n", len(names))
	}
	fmt.Fprintf(&sb, "Embedded assets: %d\n", len(b.Assets()))
	return sb.String()
}
