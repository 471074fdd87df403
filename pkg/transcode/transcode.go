// Package transcode converts extracted audio with external tools: vgmstream
// for WEM to WAV and ffmpeg for WAV to Ogg Vorbis.
package transcode

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jfreymuth/oggvorbis"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/user/wwisego/pkg/fingerprint"
)

// ErrTranscodeFailure is returned when a converter exits non-zero or
// produces unusable output.
var ErrTranscodeFailure = errors.New("transcode failed")

// Format is an output audio format.
type Format int

const (
	WEM Format = iota
	WAV
	OGG
)

func (f Format) String() string {
	switch f {
	case WEM:
		return "wem"
	case WAV:
		return "wav"
	case OGG:
		return "ogg"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

func (f Format) Extension() string { return "." + f.String() }

// ParseFormat accepts "wem", "wav" or "ogg", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "wem":
		return WEM, nil
	case "wav":
		return WAV, nil
	case "ogg":
		return OGG, nil
	}
	return 0, errors.Errorf("unknown format %q", s)
}

// Transcoder converts an audio buffer from one format to another.
type Transcoder interface {
	Transcode(ctx context.Context, data []byte, from, to Format) ([]byte, error)
}

// Config configures Exec. Zero values select defaults.
type Config struct {
	Vgmstream   string // default "vgmstream-cli"
	Ffmpeg      string // default "ffmpeg"
	TempDir     string // default os.TempDir()
	Concurrency int    // default max(4, NumCPU)
	CacheSize   int    // converted outputs kept in memory; default 256
}

// Exec runs the converters as subprocesses. Cancelling the context kills
// any running converter.
type Exec struct {
	cfg   Config
	sem   *semaphore.Weighted
	cache *lru.Cache[string, []byte]
}

var _ Transcoder = (*Exec)(nil)

func NewExec(cfg Config) (*Exec, error) {
	if cfg.Vgmstream == "" {
		cfg.Vgmstream = "vgmstream-cli"
	}
	if cfg.Ffmpeg == "" {
		cfg.Ffmpeg = "ffmpeg"
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = max(4, runtime.NumCPU())
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	cache, err := lru.New[string, []byte](cfg.CacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "transcode cache")
	}
	return &Exec{cfg: cfg, sem: semaphore.NewWeighted(int64(cfg.Concurrency)), cache: cache}, nil
}

// Transcode converts data. WEM to OGG runs both converters in sequence.
func (x *Exec) Transcode(ctx context.Context, data []byte, from, to Format) ([]byte, error) {
	if from == to {
		return data, nil
	}
	key := fingerprint.Hash(data) + ":" + from.String() + ":" + to.String()
	if out, ok := x.cache.Get(key); ok {
		return out, nil
	}

	var out []byte
	var err error
	switch {
	case from == WEM && to == WAV:
		out, err = x.wemToWav(ctx, data)
	case from == WAV && to == OGG:
		out, err = x.wavToOgg(ctx, data)
	case from == WEM && to == OGG:
		var wav []byte
		if wav, err = x.Transcode(ctx, data, WEM, WAV); err == nil {
			out, err = x.wavToOgg(ctx, wav)
		}
	default:
		return nil, errors.Wrapf(ErrTranscodeFailure, "no converter from %s to %s", from, to)
	}
	if err != nil {
		return nil, err
	}
	x.cache.Add(key, out)
	return out, nil
}

func (x *Exec) wemToWav(ctx context.Context, data []byte) ([]byte, error) {
	return x.convert(ctx, data, ".wem", ".wav", func(in, out string) (string, []string) {
		return x.cfg.Vgmstream, []string{"-o", out, in}
	})
}

func (x *Exec) wavToOgg(ctx context.Context, data []byte) ([]byte, error) {
	out, err := x.convert(ctx, data, ".wav", ".ogg", func(in, out string) (string, []string) {
		return x.cfg.Ffmpeg, []string{"-y", "-i", in, "-c:a", "libvorbis", "-qscale:a", "10", out}
	})
	if err != nil {
		return nil, err
	}
	if _, err := oggvorbis.GetFormat(bytes.NewReader(out)); err != nil {
		return nil, errors.Wrapf(ErrTranscodeFailure, "ffmpeg output is not ogg vorbis: %v", err)
	}
	return out, nil
}

// convert writes data to a temporary file, runs the command built by argv and
// returns the contents of the output file.
func (x *Exec) convert(ctx context.Context, data []byte, inExt, outExt string, argv func(in, out string) (string, []string)) ([]byte, error) {
	if err := x.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer x.sem.Release(1)

	if err := os.MkdirAll(x.cfg.TempDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create temp dir %s", x.cfg.TempDir)
	}
	dir, err := os.MkdirTemp(x.cfg.TempDir, "wwise-*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create work dir")
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in"+inExt)
	out := filepath.Join(dir, "out"+outExt)
	if err := os.WriteFile(in, data, 0o644); err != nil {
		return nil, errors.Wrap(err, "failed to write converter input")
	}
	name, args := argv(in, out)
	if err := run(ctx, name, args); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(out)
	if err != nil {
		return nil, errors.Wrapf(ErrTranscodeFailure, "%s produced no output: %v", filepath.Base(name), err)
	}
	return b, nil
}

func run(ctx context.Context, name string, args []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(err, "stderr pipe")
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(ErrTranscodeFailure, "failed to start %s: %v", name, err)
	}
	logImportant(filepath.Base(name), stderr)
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrapf(ErrTranscodeFailure, "%s: %v", filepath.Base(name), err)
	}
	return nil
}

func logImportant(tool string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" && isImportantProcessLine(line) {
			log.Warn().Str("tool", tool).Msg(line)
		}
	}
}

// isImportantProcessLine drops converter progress output and keeps errors
// and warnings.
func isImportantProcessLine(line string) bool {
	lower := strings.ToLower(line)
	for _, noise := range []string{"frame=", "fps=", "size=", "time=", "bitrate=", "speed=", "progress", "active code page"} {
		if strings.Contains(lower, noise) {
			return false
		}
	}
	if strings.Contains(lower, "error") || strings.Contains(lower, "failed") || strings.Contains(lower, "unsupported") {
		return true
	}
	return strings.HasPrefix(lower, "warning")
}
