package extract

import (
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"

	"github.com/user/wwisego/pkg/knownnames"
	"github.com/user/wwisego/pkg/transcode"
)

// Options configures an extraction run.
type Options struct {
	// OutputDir holds the Wem, Wav and Ogg roots.
	OutputDir string
	// Formats lists the outputs to produce. Transcoded formats need a Transcoder.
	Formats []transcode.Format

	// Split adds a folder named after the source file.
	Split bool
	// Banked adds a folder named after the bank id for bank-embedded assets.
	Banked bool
	// NoLang drops the language folder when a package has a single language.
	NoLang bool
	// Legacy names bank-embedded and streamed assets in decimal and enables
	// the known-events lookup.
	Legacy bool

	KnownFilenames knownnames.Table
	KnownEvents    knownnames.Table

	// IndexPath defaults to <OutputDir>/Logging/<base(OutputDir)>-WEM_Checksums.csv.
	IndexPath string

	Workers      int // input files processed at once; default max(1, NumCPU/2)
	AssetWorkers int // assets of one file processed at once; default NumCPU
	Retries      int // extra attempts for failed writes and conversions

	Transcode transcode.Config
}

// Validate checks o and fills in defaults.
func (o *Options) Validate() error {
	if o.OutputDir == "" {
		return errors.New("output directory is required")
	}
	if len(o.Formats) == 0 {
		return errors.New("at least one output format is required")
	}
	seen := map[transcode.Format]bool{}
	for _, f := range o.Formats {
		if f < transcode.WEM || f > transcode.OGG {
			return errors.Errorf("unknown output format %d", int(f))
		}
		if seen[f] {
			return errors.Errorf("output format %s listed twice", f)
		}
		seen[f] = true
	}
	if o.Retries < 0 {
		return errors.Errorf("retries must not be negative, got %d", o.Retries)
	}
	if o.IndexPath == "" {
		o.IndexPath = DefaultIndexPath(o.OutputDir)
	}
	if o.Workers <= 0 {
		o.Workers = max(1, runtime.NumCPU()/2)
	}
	if o.AssetWorkers <= 0 {
		o.AssetWorkers = runtime.NumCPU()
	}
	return nil
}

// DefaultIndexPath is where the fingerprint index lives for an output directory.
func DefaultIndexPath(outputDir string) string {
	base := filepath.Base(filepath.Clean(outputDir))
	return filepath.Join(outputDir, "Logging", base+"-WEM_Checksums.csv")
}

// Root returns the output root for a format.
func (o *Options) Root(f transcode.Format) string {
	switch f {
	case transcode.WAV:
		return filepath.Join(o.OutputDir, "Wav")
	case transcode.OGG:
		return filepath.Join(o.OutputDir, "Ogg")
	}
	return filepath.Join(o.OutputDir, "Wem")
}

func (o *Options) wants(f transcode.Format) bool {
	for _, g := range o.Formats {
		if g == f {
			return true
		}
	}
	return false
}

func (o *Options) needsTranscoder() bool {
	return o.wants(transcode.WAV) || o.wants(transcode.OGG)
}
