// Package pck decodes AKPK file packages: a header, a language map and three
// file tables indexing banks, streamed media and external sources.
package pck

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/mmap"

	"github.com/user/wwisego/pkg/binreader"
)

// Magic is "AKPK" as read little-endian.
const Magic uint32 = 0x4B504B41

const (
	narrowEntrySize   = 20
	wideEntrySize     = 24
	languageEntrySize = 8
)

// Header is the fixed 28-byte package header.
type Header struct {
	Signature     uint32
	HeaderSize    uint32
	Version       uint32
	LangMapSize   uint32
	BanksSize     uint32
	StreamsSize   uint32
	ExternalsSize uint32
}

// LanguageMap maps language ids to names.
type LanguageMap map[uint32]string

// FileEntry is one row of a file table.
type FileEntry struct {
	ID            uint64
	BlockSize     uint32
	FileSize      uint32
	StartingBlock uint32
	LanguageID    uint32
}

// Offset is the absolute byte offset of the entry in the package.
func (e FileEntry) Offset() int64 {
	return int64(e.StartingBlock) * int64(e.BlockSize)
}

type FileTable struct {
	Entries []FileEntry
	Wide    bool
}

// Package is a decoded AKPK archive. Entries are plain data; resolve their
// language and paths with the package's LanguageMap.
type Package struct {
	Header    Header
	Languages LanguageMap
	Banks     FileTable
	Streams   FileTable
	Externals FileTable

	path   string
	cursor *binreader.Cursor
	closer io.Closer
}

// Decode parses an in-memory package.
func Decode(b []byte) (*Package, error) {
	return decode(binreader.New(b))
}

// NewReader parses a package of the given size read from r. Asset bytes are
// read lazily from r, which must stay valid while the package is used.
func NewReader(r io.ReaderAt, size int64) (*Package, error) {
	return decode(binreader.NewReaderAt(r, size))
}

// Open memory-maps a .pck file and parses it. The package must be closed.
func Open(path string) (*Package, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map package %s", path)
	}
	p, err := NewReader(m, int64(m.Len()))
	if err != nil {
		m.Close()
		return nil, errors.Wrapf(err, "package %s", path)
	}
	p.path = path
	p.closer = m
	return p, nil
}

// SetCloser hands ownership of the underlying reader to p.
func (p *Package) SetCloser(path string, c io.Closer) {
	p.path = path
	p.closer = c
}

func (p *Package) Close() error {
	if p.closer == nil {
		return nil
	}
	err := p.closer.Close()
	p.closer = nil
	return err
}

func decode(c *binreader.Cursor) (*Package, error) {
	p := &Package{cursor: c}
	if err := p.readHeader(c); err != nil {
		return nil, err
	}
	if err := p.readLanguages(c); err != nil {
		return nil, errors.Wrap(err, "language map")
	}
	var err error
	if p.Banks, err = readTable(c, p.Header.BanksSize, false); err != nil {
		return nil, errors.Wrap(err, "banks table")
	}
	if p.Streams, err = readTable(c, p.Header.StreamsSize, false); err != nil {
		return nil, errors.Wrap(err, "streams table")
	}
	if p.Externals, err = readTable(c, p.Header.ExternalsSize, true); err != nil {
		return nil, errors.Wrap(err, "externals table")
	}
	log.Debug().Uint32("version", p.Header.Version).Int("languages", len(p.Languages)).
		Int("banks", len(p.Banks.Entries)).Int("streams", len(p.Streams.Entries)).
		Int("externals", len(p.Externals.Entries)).Msg("decoded package")
	return p, nil
}

func (p *Package) readHeader(c *binreader.Cursor) error {
	h := &p.Header
	var err error
	if h.Signature, err = c.U32(); err != nil {
		return errors.Wrap(binreader.ErrInvalidFormat, "missing AKPK header")
	}
	if h.Signature != Magic {
		return errors.Wrapf(binreader.ErrInvalidFormat, "package signature 0x%08X is not AKPK", h.Signature)
	}
	for _, f := range []*uint32{&h.HeaderSize, &h.Version, &h.LangMapSize, &h.BanksSize, &h.StreamsSize, &h.ExternalsSize} {
		if *f, err = c.U32(); err != nil {
			return errors.Wrap(err, "package header")
		}
	}
	return nil
}

func (p *Package) readLanguages(c *binreader.Cursor) error {
	start := c.Pos()
	count, err := c.I32()
	if err != nil {
		return err
	}
	if count < 0 {
		return errors.Wrapf(binreader.ErrOutOfBounds, "negative language count %d", count)
	}
	if int64(count)*languageEntrySize > c.Remaining() {
		return errors.Wrapf(binreader.ErrOutOfBounds, "%d languages of %d bytes", count, languageEntrySize)
	}
	type stringEntry struct{ offset, id uint32 }
	entries := make([]stringEntry, 0, count)
	for i := int32(0); i < count; i++ {
		var e stringEntry
		if e.offset, err = c.U32(); err != nil {
			return err
		}
		if e.id, err = c.U32(); err != nil {
			return err
		}
		entries = append(entries, e)
	}

	p.Languages = make(LanguageMap, len(entries))
	end := c.Pos()
	wide := false
	if count > 0 {
		// Some tools write single-byte names: a zero second byte means UTF-16.
		probe := c.Fork()
		if err := probe.SeekTo(start + int64(entries[0].offset)); err != nil {
			return err
		}
		b, err := probe.Bytes(2)
		if err != nil {
			return err
		}
		wide = b[1] == 0
	}
	for _, e := range entries {
		if err := c.SeekTo(start + int64(e.offset)); err != nil {
			return err
		}
		var name string
		if wide {
			name, err = c.WCString()
		} else {
			name, err = c.CString()
		}
		if err != nil {
			return err
		}
		p.Languages[e.id] = name
		if c.Pos() > end {
			end = c.Pos()
		}
	}

	// The declared size includes padding; fall back to the scanned end when it is absent.
	if declared := start + int64(p.Header.LangMapSize); p.Header.LangMapSize > 0 && declared >= end {
		return c.SeekTo(declared)
	}
	if err := c.SeekTo(end); err != nil {
		return err
	}
	return c.Align(4)
}

// readTable reads one file table. Externals are always keyed by 64-bit ids;
// the other tables use 32-bit ids unless the declared size only fits 24-byte rows.
func readTable(c *binreader.Cursor, declared uint32, wide bool) (FileTable, error) {
	start := c.Pos()
	count, err := c.U32()
	if err != nil {
		return FileTable{}, err
	}
	if !wide && declared > 0 && count > 0 && int64(declared) == 4+int64(count)*wideEntrySize {
		wide = true
	}
	rowSize := int64(narrowEntrySize)
	if wide {
		rowSize = wideEntrySize
	}
	if int64(count)*rowSize > c.Remaining() {
		return FileTable{}, errors.Wrapf(binreader.ErrOutOfBounds, "%d entries of %d bytes", count, rowSize)
	}

	t := FileTable{Entries: make([]FileEntry, 0, count), Wide: wide}
	for i := uint32(0); i < count; i++ {
		var e FileEntry
		if wide {
			e.ID, err = c.U64()
		} else {
			var id uint32
			id, err = c.U32()
			e.ID = uint64(id)
		}
		if err != nil {
			return FileTable{}, err
		}
		for _, f := range []*uint32{&e.BlockSize, &e.FileSize, &e.StartingBlock, &e.LanguageID} {
			if *f, err = c.U32(); err != nil {
				return FileTable{}, err
			}
		}
		t.Entries = append(t.Entries, e)
	}
	if declared > 0 && start+int64(declared) > c.Pos() && start+int64(declared) <= c.Len() {
		return t, c.SeekTo(start + int64(declared))
	}
	return t, nil
}

// GetBytes reads the bytes of e. It uses its own cursor, so calls for
// different entries may run concurrently.
func (p *Package) GetBytes(e FileEntry) ([]byte, error) {
	c := p.cursor.Fork()
	if err := c.SeekTo(e.Offset()); err != nil {
		return nil, errors.Wrapf(err, "entry %d", e.ID)
	}
	b, err := c.Bytes(int(e.FileSize))
	if err != nil {
		return nil, errors.Wrapf(err, "entry %d at %d", e.ID, e.Offset())
	}
	return b, nil
}

// Language returns the name for id, or its decimal form if the map lacks it.
func Language(lm LanguageMap, id uint32) string {
	if name, ok := lm[id]; ok {
		return name
	}
	return strconv.FormatUint(uint64(id), 10)
}

func BankPath(lm LanguageMap, e FileEntry) string {
	return fmt.Sprintf("%s/%d.bnk", Language(lm, e.LanguageID), e.ID)
}

func Path(lm LanguageMap, e FileEntry) string {
	return fmt.Sprintf("%s/%d", Language(lm, e.LanguageID), e.ID)
}

func Directory(lm LanguageMap, e FileEntry) string {
	return Language(lm, e.LanguageID) + "/"
}

func (p *Package) GetBankPath(e FileEntry) string  { return BankPath(p.Languages, e) }
func (p *Package) GetPath(e FileEntry) string      { return Path(p.Languages, e) }
func (p *Package) GetDirectory(e FileEntry) string { return Directory(p.Languages, e) }

// Size is the total size of the package in bytes.
func (p *Package) Size() int64 { return p.cursor.Len() }

func (p *Package) Summary() string {
	var sb strings.Builder
	sb.WriteString("=====================\n")
	sb.WriteString("PCK File Summary Info\n")
	if p.path != "" {
		fmt.Fprintf(&sb, "      Filepath : %s\n", p.path)
	}
	fmt.Fprintf(&sb, "      Filesize : %dmb\n", p.Size()/1024/1024)
	fmt.Fprintf(&sb, "       Version : %d\n", p.Header.Version)
	sb.WriteString("     Languages :\n")
	ids := make([]uint32, 0, len(p.Languages))
	for id := range p.Languages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(&sb, "         %d : %s\n", id, strings.ToUpper(p.Languages[id]))
	}
	fmt.Fprintf(&sb, "    Bank Count : %d\n", len(p.Banks.Entries))
	fmt.Fprintf(&sb, "  Stream Count : %d\n", len(p.Streams.Entries))
	fmt.Fprintf(&sb, "External Count : %d\n", len(p.Externals.Entries))
	sb.WriteString("=====================\n")
	return sb.String()
}
