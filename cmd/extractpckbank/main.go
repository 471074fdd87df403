package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/user/wwisego/pkg/bank"
	"github.com/user/wwisego/pkg/logging"
	"github.com/user/wwisego/pkg/pck"
	"github.com/user/wwisego/pkg/pckbank"
	"github.com/user/wwisego/pkg/signature"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("extractpckbank failed")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "extractpckbank",
		Usage: "List or extract the assets of one soundbank stored inside a package",
		Flags: []cli.Flag{
			&cli.PathFlag{Name: "pck", Required: true, Usage: "path to the .pck file", EnvVars: []string{"WWISE_PCK"}},
			&cli.Uint64Flag{Name: "bank", Required: true, Usage: "id of the bank in the package's banks table"},
			&cli.StringFlag{Name: "log-level", Value: "info", EnvVars: []string{"WWISE_LOG_LEVEL"}},
		},
		Before: func(c *cli.Context) error {
			return logging.SetupWriter(c.App.ErrWriter, c.String("log-level"), false)
		},
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List the embedded assets of the bank",
				Action: withBank(listAssets),
			},
			{
				Name:  "extract",
				Usage: "Write the embedded assets of the bank",
				Flags: []cli.Flag{
					&cli.PathFlag{Name: "out", Value: ".", Usage: "output directory"},
				},
				Action: withBank(extractAssets),
			},
		},
	}
}

// withBank opens the package and the selected bank before running fn.
func withBank(fn func(c *cli.Context, p *pck.Package, e pck.FileEntry, b *bank.Bank) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		p, err := pck.Open(c.Path("pck"))
		if err != nil {
			return fmt.Errorf("failed to open package: %w", err)
		}
		defer p.Close()
		e, err := pckbank.FindBank(p, c.Uint64("bank"))
		if err != nil {
			return err
		}
		b, err := pckbank.OpenPackedBank(p, e)
		if err != nil {
			return err
		}
		return fn(c, p, e, b)
	}
}

func listAssets(c *cli.Context, p *pck.Package, e pck.FileEntry, b *bank.Bank) error {
	fmt.Fprintf(c.App.Writer, "%s (bank %d, %d assets)\n", p.GetBankPath(e), b.Header.BankID, len(b.Assets()))
	for _, a := range b.Assets() {
		fmt.Fprintf(c.App.Writer, "  %d\t%d\n", a.ID, a.Length)
	}
	return nil
}

func extractAssets(c *cli.Context, p *pck.Package, e pck.FileEntry, b *bank.Bank) error {
	dir := filepath.Join(c.Path("out"), filepath.FromSlash(p.GetDirectory(e)), fmt.Sprint(e.ID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory '%s': %w", dir, err)
	}
	for _, a := range b.Assets() {
		data, err := b.AssetBytes(a)
		if err != nil {
			log.Error().Err(err).Uint32("id", a.ID).Msg("failed to read asset, skipping")
			continue
		}
		out := filepath.Join(dir, fmt.Sprintf("%d%s", a.ID, signature.Sniff(data).Extension()))
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("failed to write extracted file to '%s': %w", out, err)
		}
		log.Info().Str("file", out).Int("size", len(data)).Msg("extracted")
	}
	return nil
}
