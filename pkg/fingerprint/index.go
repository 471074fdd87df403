// Package fingerprint tracks content hashes of extracted files across runs.
//
// The index file holds one "path,hash,dd/MM/yyyy HH:mm" record per line,
// sorted by path. Paths are relative to their output root and use forward
// slashes. An index path ending in .lz4 or .zst is stored compressed.
package fingerprint

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/rryqszq4/go-murmurhash"
	"github.com/rs/zerolog/log"
)

// TimeLayout is the timestamp format of index records.
const TimeLayout = "02/01/2006 15:04"

const hashSeed = 0x1337B33F

// Hash returns the hex MurmurHash64A of b.
func Hash(b []byte) string {
	return fmt.Sprintf("%016x", murmurhash.MurmurHash64A(b, hashSeed))
}

// Entry is the recorded state of one output file.
type Entry struct {
	Hash     string
	LastSeen time.Time
}

// Index is a mutex-guarded map from relative output path to Entry.
type Index struct {
	mu      sync.Mutex
	path    string
	entries map[string]Entry
	now     func() time.Time
}

// New returns an empty index that will be written to path.
func New(path string) *Index {
	return &Index{path: path, entries: make(map[string]Entry), now: time.Now}
}

// Load reads the index at path. A missing file yields an empty index.
func Load(path string) (*Index, error) {
	idx := New(path)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open index %s", path)
	}
	defer f.Close()

	r, closeFn, err := decompressor(path, f)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if text == "" {
			continue
		}
		p, e, ok := parseRecord(text)
		if !ok {
			log.Warn().Str("index", path).Int("line", line).Msg("skipping malformed index record")
			continue
		}
		idx.entries[p] = e
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read index %s", path)
	}
	log.Debug().Str("index", path).Int("records", len(idx.entries)).Msg("loaded fingerprint index")
	return idx, nil
}

// parseRecord splits from the right so that paths may contain commas.
func parseRecord(s string) (string, Entry, bool) {
	i := strings.LastIndexByte(s, ',')
	if i < 0 {
		return "", Entry{}, false
	}
	j := strings.LastIndexByte(s[:i], ',')
	if j <= 0 {
		return "", Entry{}, false
	}
	ts, err := time.ParseInLocation(TimeLayout, s[i+1:], time.Local)
	if err != nil {
		return "", Entry{}, false
	}
	return s[:j], Entry{Hash: s[j+1 : i], LastSeen: ts}, true
}

func normalize(p string) string {
	return filepath.ToSlash(p)
}

// Unchanged reports whether path is recorded with the given hash.
func (x *Index) Unchanged(path, hash string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	e, ok := x.entries[normalize(path)]
	return ok && e.Hash == hash
}

// Put records hash for path with the current time.
func (x *Index) Put(path, hash string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries[normalize(path)] = Entry{Hash: hash, LastSeen: x.now()}
}

func (x *Index) Lookup(path string) (Entry, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	e, ok := x.entries[normalize(path)]
	return e, ok
}

func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.entries)
}

// Path is the file the index is loaded from and flushed to.
func (x *Index) Path() string { return x.path }

// Flush writes the index, sorted by path. The previous file is replaced only
// once the new one is complete.
func (x *Index) Flush() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(x.path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create index directory for %s", x.path)
	}
	tmp, err := os.CreateTemp(filepath.Dir(x.path), filepath.Base(x.path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary index for %s", x.path)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := x.writeTo(tmp); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write index %s", x.path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close index %s", x.path)
	}
	if err := os.Rename(tmpName, x.path); err != nil {
		return errors.Wrapf(err, "failed to replace index %s", x.path)
	}
	log.Debug().Str("index", x.path).Int("records", len(x.entries)).Msg("flushed fingerprint index")
	return nil
}

func (x *Index) writeTo(f io.Writer) error {
	w, closeFn, err := compressor(x.path, f)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)

	paths := make([]string, 0, len(x.entries))
	for p := range x.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		e := x.entries[p]
		if _, err := fmt.Fprintf(bw, "%s,%s,%s\n", p, e.Hash, e.LastSeen.Format(TimeLayout)); err != nil {
			closeFn()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		closeFn()
		return err
	}
	return closeFn()
}

func compressor(path string, w io.Writer) (io.Writer, func() error, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lz4":
		zw := lz4.NewWriter(w)
		return zw, zw.Close, nil
	case ".zst":
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, nil, errors.Wrap(err, "zstd writer")
		}
		return zw, zw.Close, nil
	}
	return w, func() error { return nil }, nil
}

func decompressor(path string, r io.Reader) (io.Reader, func(), error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lz4":
		return lz4.NewReader(r), func() {}, nil
	case ".zst":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to open zstd index %s", path)
		}
		return zr, zr.Close, nil
	}
	return r, func() {}, nil
}
