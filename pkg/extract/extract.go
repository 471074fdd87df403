// Package extract walks packages, soundbanks and loose audio files and writes
// every embedded asset to disk. A fingerprint index persisted between runs
// lets unchanged assets be skipped.
package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/mmap"
	"golang.org/x/sync/errgroup"

	"github.com/user/wwisego/pkg/bank"
	"github.com/user/wwisego/pkg/chk"
	"github.com/user/wwisego/pkg/fingerprint"
	"github.com/user/wwisego/pkg/pck"
	"github.com/user/wwisego/pkg/signature"
	"github.com/user/wwisego/pkg/transcode"
)

// ErrIOFailure wraps filesystem errors raised while writing outputs.
var ErrIOFailure = errors.New("i/o failure")

// Stats is a snapshot of the counters of an Extractor.
type Stats struct {
	Files            int64 // input files processed
	FailedFiles      int64 // input files that could not be decoded
	Assets           int64 // assets found
	Written          int64 // assets with at least one output written
	Skipped          int64 // assets unchanged since the last run
	Failed           int64 // assets that could not be read, written or converted
	CipherMismatches int64 // obfuscated assets passed through undecoded
}

func (s Stats) String() string {
	return fmt.Sprintf("%d files (%d failed), %d assets: %d written, %d skipped, %d failed",
		s.Files, s.FailedFiles, s.Assets, s.Written, s.Skipped, s.Failed)
}

type counters struct {
	files, failedFiles, assets, written, skipped, failed, mismatches atomic.Int64
}

// Extractor runs the extraction pipeline. It is safe for concurrent use.
type Extractor struct {
	opts  Options
	index *fingerprint.Index
	tc    transcode.Transcoder
	log   zerolog.Logger
	stats counters
}

// Option customises an Extractor.
type Option func(*Extractor)

// WithTranscoder sets the converter used for WAV and OGG outputs.
func WithTranscoder(t transcode.Transcoder) Option {
	return func(x *Extractor) { x.tc = t }
}

func WithLogger(l zerolog.Logger) Option {
	return func(x *Extractor) { x.log = l }
}

// WithIndex replaces the index that New would load from Options.IndexPath.
func WithIndex(idx *fingerprint.Index) Option {
	return func(x *Extractor) { x.index = idx }
}

// New validates opts and loads the fingerprint index.
func New(opts Options, options ...Option) (*Extractor, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	x := &Extractor{opts: opts, log: log.Logger}
	for _, o := range options {
		o(x)
	}
	if x.index == nil {
		idx, err := fingerprint.Load(opts.IndexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load index: %w", err)
		}
		x.index = idx
	}
	if x.tc == nil && opts.needsTranscoder() {
		tc, err := transcode.NewExec(opts.Transcode)
		if err != nil {
			return nil, fmt.Errorf("failed to create transcoder: %w", err)
		}
		x.tc = tc
	}
	return x, nil
}

func (x *Extractor) Options() Options { return x.opts }

func (x *Extractor) Index() *fingerprint.Index { return x.index }

func (x *Extractor) Stats() Stats {
	c := &x.stats
	return Stats{
		Files:            c.files.Load(),
		FailedFiles:      c.failedFiles.Load(),
		Assets:           c.assets.Load(),
		Written:          c.written.Load(),
		Skipped:          c.skipped.Load(),
		Failed:           c.failed.Load(),
		CipherMismatches: c.mismatches.Load(),
	}
}

// Flush persists the fingerprint index.
func (x *Extractor) Flush() error {
	if err := x.index.Flush(); err != nil {
		return fmt.Errorf("failed to save index %s: %w", x.index.Path(), err)
	}
	return nil
}

// Run processes inputs with at most Options.Workers files in flight. Per-file
// failures are logged and counted, not returned. The index is flushed when
// the run ends, including when ctx is cancelled; in that case ctx.Err() is
// returned, joined with the flush error if the index could not be saved.
func (x *Extractor) Run(ctx context.Context, inputs []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.opts.Workers)
	for _, in := range inputs {
		in := in // per-iteration copy (go 1.21 loop semantics)
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if err := x.ProcessFile(gctx, in); err != nil && gctx.Err() == nil {
				x.log.Error().Err(err).Str("file", in).Msg("failed to process file")
			}
			return nil
		})
	}
	g.Wait()

	flushErr := x.Flush()
	if err := ctx.Err(); err != nil {
		if flushErr != nil {
			return fmt.Errorf("%w (%w)", err, flushErr)
		}
		return err
	}
	if flushErr != nil {
		return flushErr
	}
	x.log.Info().Str("stats", x.Stats().String()).Msg("extraction finished")
	return nil
}

// ProcessFile extracts every asset of one input file. The returned error
// reports a file that could not be opened or decoded; asset failures are only
// counted.
func (x *Extractor) ProcessFile(ctx context.Context, path string) (err error) {
	x.stats.files.Add(1)
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v\n%s", r, debug.Stack())
		}
		if err != nil {
			x.stats.failedFiles.Add(1)
		}
	}()

	m, err := mmap.Open(path)
	if err != nil {
		return errors.Wrapf(ErrIOFailure, "open %s: %v", path, err)
	}
	defer m.Close()

	size := int64(m.Len())
	if size == 0 {
		x.log.Debug().Str("file", path).Msg("empty file")
		return nil
	}
	head := make([]byte, min(size, 64))
	if _, err := m.ReadAt(head, 0); err != nil && err != io.EOF {
		return errors.Wrapf(ErrIOFailure, "read %s: %v", path, err)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	kind := signature.Sniff(head)
	x.log.Debug().Str("file", path).Stringer("kind", kind).Int64("size", size).Msg("processing")

	switch {
	case kind == signature.Package:
		p, err := pck.NewReader(m, size)
		if err != nil {
			return errors.Wrapf(err, "package %s", path)
		}
		return x.processPackage(ctx, p, stem, false)
	case kind.IsObfuscated():
		view, err := chk.NewReader(m, size)
		if err != nil {
			return errors.Wrapf(err, "obfuscated package %s", path)
		}
		p, err := pck.NewReader(view, size)
		if err != nil {
			return errors.Wrapf(err, "obfuscated package %s", path)
		}
		return x.processPackage(ctx, p, stem, true)
	case kind == signature.Bank:
		b, err := bank.NewReader(m, size)
		if err != nil {
			return errors.Wrapf(err, "bank %s", path)
		}
		return x.processBank(ctx, b, Source{File: stem, InBank: true, BankID: b.Header.BankID})
	}

	data := make([]byte, size)
	if _, err := m.ReadAt(data, 0); err != nil && err != io.EOF {
		return errors.Wrapf(ErrIOFailure, "read %s: %v", path, err)
	}
	x.stats.assets.Add(1)
	x.emit(ctx, cleanPart(stem), data, path)
	return nil
}

func (x *Extractor) processPackage(ctx context.Context, p *pck.Package, stem string, obfuscated bool) error {
	src := func(e pck.FileEntry) Source {
		return Source{File: stem, Language: pck.Language(p.Languages, e.LanguageID), Languages: len(p.Languages)}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.opts.AssetWorkers)
	schedule := func(e pck.FileEntry, fn func(data []byte)) {
		if gctx.Err() != nil {
			return
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			data, err := p.GetBytes(e)
			if err != nil {
				x.stats.assets.Add(1)
				x.stats.failed.Add(1)
				x.log.Error().Err(err).Uint64("id", e.ID).Msg("failed to read entry")
				return nil
			}
			fn(data)
			return nil
		})
	}

	for _, e := range p.Banks.Entries {
		e := e // per-iteration copy (go 1.21 loop semantics)
		schedule(e, func(data []byte) {
			b, err := bank.Decode(data)
			if err != nil {
				x.stats.assets.Add(1)
				x.stats.failed.Add(1)
				x.log.Error().Err(err).Str("bank", p.GetBankPath(e)).Msg("failed to decode packed bank")
				return
			}
			s := src(e)
			s.InBank, s.BankID = true, b.Header.BankID
			x.processBank(gctx, b, s)
		})
	}
	for _, e := range p.Streams.Entries {
		e := e // per-iteration copy (go 1.21 loop semantics)
		schedule(e, func(data []byte) {
			x.stats.assets.Add(1)
			x.emit(gctx, x.opts.StreamPath(src(e), e.ID), x.decrypt(data, e.ID, obfuscated), p.GetPath(e))
		})
	}
	for _, e := range p.Externals.Entries {
		e := e // per-iteration copy (go 1.21 loop semantics)
		schedule(e, func(data []byte) {
			x.stats.assets.Add(1)
			x.emit(gctx, x.opts.ExternalPath(src(e), e.ID), x.decrypt(data, e.ID, obfuscated), p.GetPath(e))
		})
	}
	return g.Wait()
}

// decrypt recovers streamed and external assets of obfuscated packages.
func (x *Extractor) decrypt(data []byte, id uint64, obfuscated bool) []byte {
	if !obfuscated {
		return data
	}
	out, err := chk.DecryptAsset(data, id)
	if err != nil {
		x.stats.mismatches.Add(1)
		x.log.Warn().Err(err).Uint64("id", id).Msg("passing asset through undecoded")
	}
	return out
}

func (x *Extractor) processBank(ctx context.Context, b *bank.Bank, src Source) error {
	for _, ci := range b.Chunks {
		if ci.Err != nil {
			x.log.Warn().Err(ci.Err).Str("chunk", bank.ChunkName(ci.Signature)).Uint32("bank", b.Header.BankID).Msg("skipped chunk")
		}
	}
	assets := b.Assets()
	if len(assets) == 0 {
		x.log.Debug().Uint32("bank", b.Header.BankID).Msg("bank embeds no audio")
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.opts.AssetWorkers)
	seen := make(map[uint32]int, len(assets))
	for _, e := range assets {
		e := e // per-iteration copy (go 1.21 loop semantics)
		if gctx.Err() != nil {
			break
		}
		// Repeated ids keep distinct outputs: the first occurrence gets the
		// plain name, the n-th repeat a "_n" suffix.
		rel := x.opts.BankAssetPath(src, e.ID)
		if n := seen[e.ID]; n > 0 {
			rel = fmt.Sprintf("%s_%d", rel, n)
		}
		seen[e.ID]++
		g.Go(func() error {
			x.stats.assets.Add(1)
			data, err := b.AssetBytes(e)
			if err != nil {
				x.stats.failed.Add(1)
				x.log.Error().Err(err).Uint32("bank", b.Header.BankID).Uint32("id", e.ID).Msg("failed to read asset")
				return nil
			}
			x.emit(gctx, rel, data, fmt.Sprintf("bank %d", b.Header.BankID))
			return nil
		})
	}
	return g.Wait()
}

// output is one file an asset materialises as.
type output struct {
	format transcode.Format
	path   string
	from   transcode.Format // format the bytes are converted from; equal to format for raw copies
}

// plan lists the outputs of an asset of the given kind. It fails if an
// output would land outside its format root.
func (x *Extractor) plan(rel string, kind signature.Kind) ([]output, error) {
	file := filepath.FromSlash(rel)
	var outs []output
	add := func(f, from transcode.Format) {
		if x.opts.wants(f) {
			outs = append(outs, output{format: f, from: from, path: filepath.Join(x.opts.Root(f), file+f.Extension())})
		}
	}
	switch kind {
	case signature.WEM:
		add(transcode.WEM, transcode.WEM)
		add(transcode.WAV, transcode.WEM)
		add(transcode.OGG, transcode.WEM)
	case signature.WAV:
		add(transcode.WAV, transcode.WAV)
		add(transcode.OGG, transcode.WAV)
	default:
		outs = append(outs, output{format: transcode.WEM, from: transcode.WEM, path: filepath.Join(x.opts.Root(transcode.WEM), file+kind.Extension())})
	}
	for _, o := range outs {
		r, err := filepath.Rel(x.opts.Root(o.format), o.path)
		if err != nil || r == "." || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) || filepath.IsAbs(r) {
			return nil, errors.Wrapf(ErrIOFailure, "output %s is outside %s", o.path, x.opts.Root(o.format))
		}
	}
	return outs, nil
}

// emit writes the outputs of one asset that are missing or out of date and
// records its fingerprint once every output exists.
func (x *Extractor) emit(ctx context.Context, rel string, data []byte, origin string) {
	kind := signature.Sniff(data)
	key := rel + kind.Extension()
	hash := fingerprint.Hash(data)
	l := x.log.With().Str("asset", key).Str("from", origin).Logger()
	outs, err := x.plan(rel, kind)
	if err != nil {
		x.stats.failed.Add(1)
		l.Error().Err(err).Msg("refusing to write asset")
		return
	}

	unchanged := x.index.Unchanged(key, hash)
	var todo []output
	for _, o := range outs {
		if !unchanged || !exists(o.path) {
			todo = append(todo, o)
		}
	}
	if len(todo) == 0 {
		x.stats.skipped.Add(1)
		l.Debug().Msg("unchanged")
		return
	}

	for _, o := range todo {
		o := o // per-iteration copy (go 1.21 loop semantics)
		err := x.retry(ctx, func() error {
			b := data
			if o.from != o.format {
				if x.tc == nil {
					return errors.Wrapf(transcode.ErrTranscodeFailure, "no transcoder for %s", o.format)
				}
				var err error
				if b, err = x.tc.Transcode(ctx, data, o.from, o.format); err != nil {
					return err
				}
			}
			return writeFile(o.path, b)
		})
		if err != nil {
			x.stats.failed.Add(1)
			if ctx.Err() == nil {
				l.Error().Err(err).Str("format", o.format.String()).Msg("failed to produce output")
			}
			return
		}
	}
	x.index.Put(key, hash)
	x.stats.written.Add(1)
	l.Info().Int("outputs", len(todo)).Msg("extracted")
}

func (x *Extractor) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= x.opts.Retries; attempt++ {
		if err = fn(); err == nil || ctx.Err() != nil {
			return err
		}
		x.log.Debug().Err(err).Int("attempt", attempt+1).Msg("retrying")
	}
	return err
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// writeFile replaces p atomically with data.
func writeFile(p string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.Wrapf(ErrIOFailure, "create %s: %v", filepath.Dir(p), err)
	}
	f, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".*")
	if err != nil {
		return errors.Wrapf(ErrIOFailure, "create temp for %s: %v", p, err)
	}
	tmp := f.Name()
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmp, p)
	}
	if werr != nil {
		os.Remove(tmp)
		return errors.Wrapf(ErrIOFailure, "write %s: %v", p, werr)
	}
	return nil
}

// CollectInputs expands directories into the regular files below them,
// sorted by path. Plain files are kept as given.
func CollectInputs(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat input: %w", err)
		}
		if !fi.IsDir() {
			out = append(out, p)
			continue
		}
		var found []string
		err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", p, err)
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	return out, nil
}
