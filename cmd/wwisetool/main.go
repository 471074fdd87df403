package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/exp/mmap"

	"github.com/user/wwisego/pkg/bank"
	"github.com/user/wwisego/pkg/chk"
	"github.com/user/wwisego/pkg/extract"
	"github.com/user/wwisego/pkg/knownnames"
	"github.com/user/wwisego/pkg/logging"
	"github.com/user/wwisego/pkg/pck"
	"github.com/user/wwisego/pkg/signature"
	"github.com/user/wwisego/pkg/transcode"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("wwisetool failed")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "wwisetool",
		Usage: "Inspect and extract Wwise packages and soundbanks",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "trace, debug, info, warn or error", EnvVars: []string{"WWISE_LOG_LEVEL"}},
			&cli.BoolFlag{Name: "log-json", Usage: "log JSON lines instead of console output", EnvVars: []string{"WWISE_LOG_JSON"}},
		},
		Before: func(c *cli.Context) error {
			return logging.SetupWriter(c.App.ErrWriter, c.String("log-level"), c.Bool("log-json"))
		},
		Commands: []*cli.Command{
			&cmdInfo,
			&cmdList,
			&cmdExtract,
			&cmdDecrypt,
		},
	}
}

var cmdInfo = cli.Command{
	Name:      "info",
	Usage:     "Print a summary of packages and soundbanks",
	ArgsUsage: "FILE...",
	Action:    infoFiles,
}

var cmdList = cli.Command{
	Name:      "list",
	Usage:     "List the entries of a package or the embedded assets of a soundbank",
	ArgsUsage: "FILE",
	Action:    listFile,
}

var cmdDecrypt = cli.Command{
	Name:      "decrypt",
	Usage:     "Decrypt the header of an obfuscated package into a plain .pck",
	ArgsUsage: "IN OUT",
	Action:    decryptFile,
}

var cmdExtract = cli.Command{
	Name:      "extract",
	Usage:     "Extract every audio asset from packages, soundbanks and loose files",
	ArgsUsage: "INPUT...",
	Flags: []cli.Flag{
		&cli.PathFlag{Name: "out", Required: true, Usage: "output directory", EnvVars: []string{"WWISE_OUT"}},
		&cli.BoolFlag{Name: "wem", Usage: "write raw assets", EnvVars: []string{"WWISE_WEM"}},
		&cli.BoolFlag{Name: "wav", Usage: "convert assets to WAV", EnvVars: []string{"WWISE_WAV"}},
		&cli.BoolFlag{Name: "ogg", Usage: "convert assets to Ogg Vorbis", EnvVars: []string{"WWISE_OGG"}},
		&cli.BoolFlag{Name: "split", Usage: "add a folder per input file", EnvVars: []string{"WWISE_SPLIT"}},
		&cli.BoolFlag{Name: "banked", Usage: "add a folder per bank id", EnvVars: []string{"WWISE_BANKED"}},
		&cli.BoolFlag{Name: "nolang", Usage: "omit the language folder for single-language packages", EnvVars: []string{"WWISE_NOLANG"}},
		&cli.BoolFlag{Name: "legacy", Usage: "decimal names and known-events lookup", EnvVars: []string{"WWISE_LEGACY"}},
		&cli.PathFlag{Name: "known-filenames", Usage: "TSV of hex id to path for externals", EnvVars: []string{"WWISE_KNOWN_FILENAMES"}},
		&cli.PathFlag{Name: "known-events", Usage: "TSV of decimal id to path for bank assets", EnvVars: []string{"WWISE_KNOWN_EVENTS"}},
		&cli.PathFlag{Name: "index", Usage: "fingerprint index (default <out>/Logging/<name>-WEM_Checksums.csv)", EnvVars: []string{"WWISE_INDEX"}},
		&cli.IntFlag{Name: "workers", Usage: "input files processed at once", EnvVars: []string{"WWISE_WORKERS"}},
		&cli.IntFlag{Name: "asset-workers", Usage: "assets of one file processed at once", EnvVars: []string{"WWISE_ASSET_WORKERS"}},
		&cli.IntFlag{Name: "retries", Usage: "extra attempts for failed writes and conversions", EnvVars: []string{"WWISE_RETRIES"}},
		&cli.StringFlag{Name: "vgmstream", Value: "vgmstream-cli", Usage: "vgmstream command", EnvVars: []string{"WWISE_VGMSTREAM"}},
		&cli.StringFlag{Name: "ffmpeg", Value: "ffmpeg", Usage: "ffmpeg command", EnvVars: []string{"WWISE_FFMPEG"}},
		&cli.PathFlag{Name: "temp-dir", Usage: "directory for converter work files", EnvVars: []string{"WWISE_TEMP_DIR"}},
	},
	Action: extractFiles,
}

func extractFiles(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("no input files given")
	}
	opts := extract.Options{
		OutputDir:    c.Path("out"),
		Split:        c.Bool("split"),
		Banked:       c.Bool("banked"),
		NoLang:       c.Bool("nolang"),
		Legacy:       c.Bool("legacy"),
		IndexPath:    c.Path("index"),
		Workers:      c.Int("workers"),
		AssetWorkers: c.Int("asset-workers"),
		Retries:      c.Int("retries"),
		Transcode: transcode.Config{
			Vgmstream: c.String("vgmstream"),
			Ffmpeg:    c.String("ffmpeg"),
			TempDir:   c.Path("temp-dir"),
		},
	}
	for _, f := range []transcode.Format{transcode.WEM, transcode.WAV, transcode.OGG} {
		if c.Bool(f.String()) {
			opts.Formats = append(opts.Formats, f)
		}
	}
	var err error
	if p := c.Path("known-filenames"); p != "" {
		if opts.KnownFilenames, err = knownnames.Load(p); err != nil {
			return fmt.Errorf("failed to load known filenames: %w", err)
		}
	}
	if p := c.Path("known-events"); p != "" {
		if opts.KnownEvents, err = knownnames.Load(p); err != nil {
			return fmt.Errorf("failed to load known events: %w", err)
		}
	}

	inputs, err := extract.CollectInputs(c.Args().Slice())
	if err != nil {
		return err
	}
	x, err := extract.New(opts)
	if err != nil {
		return err
	}
	runErr := x.Run(c.Context, inputs)
	fmt.Fprintln(c.App.Writer, x.Stats())
	return runErr
}

// openPackage opens a plain or obfuscated package. The returned closer
// releases the file mapping.
func openPackage(path string, kind signature.Kind) (*pck.Package, error) {
	if kind == signature.Package {
		return pck.Open(path)
	}
	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", path, err)
	}
	view, err := chk.NewReader(m, int64(m.Len()))
	if err == nil {
		var p *pck.Package
		if p, err = pck.NewReader(view, int64(m.Len())); err == nil {
			p.SetCloser(path, m)
			return p, nil
		}
	}
	m.Close()
	return nil, fmt.Errorf("failed to open obfuscated package %s: %w", path, err)
}

func sniffFile(path string) (signature.Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return signature.Opaque, err
	}
	defer f.Close()
	head := make([]byte, 64)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return signature.Opaque, err
	}
	return signature.Sniff(head[:n]), nil
}

func infoFiles(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("no files given")
	}
	w := c.App.Writer
	for _, path := range c.Args().Slice() {
		kind, err := sniffFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		switch {
		case kind == signature.Package || kind.IsObfuscated():
			p, err := openPackage(path, kind)
			if err != nil {
				return err
			}
			fmt.Fprint(w, p.Summary())
			p.Close()
		case kind == signature.Bank:
			b, err := bank.Open(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s:\n%s", path, b.Summary())
			b.Close()
		default:
			fmt.Fprintf(w, "%s: %s\n", path, kind)
		}
	}
	return nil
}

func listFile(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one file")
	}
	path := c.Args().First()
	kind, err := sniffFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	w := c.App.Writer
	switch {
	case kind == signature.Package || kind.IsObfuscated():
		p, err := openPackage(path, kind)
		if err != nil {
			return err
		}
		defer p.Close()
		for _, e := range p.Banks.Entries {
			fmt.Fprintf(w, "bank     %s\t%d\n", p.GetBankPath(e), e.FileSize)
		}
		for _, e := range p.Streams.Entries {
			fmt.Fprintf(w, "stream   %s\t%d\n", p.GetPath(e), e.FileSize)
		}
		for _, e := range p.Externals.Entries {
			fmt.Fprintf(w, "external %s%016x\t%d\n", p.GetDirectory(e), e.ID, e.FileSize)
		}
	case kind == signature.Bank:
		b, err := bank.Open(path)
		if err != nil {
			return err
		}
		defer b.Close()
		for _, e := range b.Assets() {
			fmt.Fprintf(w, "%08x\t%d\n", e.ID, e.Length)
		}
	default:
		return fmt.Errorf("%s is not a package or soundbank (%s)", path, kind)
	}
	return nil
}

func decryptFile(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("expected IN and OUT")
	}
	in, out := c.Args().Get(0), c.Args().Get(1)
	data, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", in, err)
	}
	plain, err := chk.DecryptHeader(data)
	if err != nil {
		return fmt.Errorf("failed to decrypt %s: %w", in, err)
	}
	if err := os.WriteFile(out, plain, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	log.Info().Str("in", in).Str("out", out).Msg("decrypted package header")
	return nil
}
